// Package orchestrator is the Run Orchestrator: the state machine that
// starts, feeds, resizes, and tears down CLI-agent sessions, whether backed
// by a freshly created container or an exec session inside a warm one.
//
// The registry is an owned map behind a single mutex — every read and
// mutation of a Run's state goes through the Orchestrator, so there is one
// serialization point rather than each caller coordinating independently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliboard/cliboard/pkg/alog"
	"github.com/cliboard/cliboard/pkg/artifact"
	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/transcript"
	"github.com/cliboard/cliboard/pkg/warmpool"
)

// ErrRunNotFound is returned when an operation names a Run that is not (or
// is no longer) in the registry. Its terminal state, if any, must be
// recovered from the persisted transcript rather than the Orchestrator.
var ErrRunNotFound = errors.New("orchestrator: run not found")

// Orchestrator owns every currently-running Run and the driver/warm-pool it
// uses to create and tear down the containers behind them.
type Orchestrator struct {
	driver  ctrdriver.Driver
	warm    *warmpool.Manager
	backend Backend
	image   string
	bus     *eventbus.Bus
	log     *alog.Logger

	mu   sync.Mutex
	runs map[string]*runEntry
}

// New builds an Orchestrator. backend records which driver is wired in, for
// Run.Backend reporting only — the Orchestrator itself is driver-agnostic.
func New(driver ctrdriver.Driver, warm *warmpool.Manager, backend Backend, image string, bus *eventbus.Bus, log *alog.Logger) *Orchestrator {
	return &Orchestrator{
		driver:  driver,
		warm:    warm,
		backend: backend,
		image:   image,
		bus:     bus,
		log:     log,
		runs:    make(map[string]*runEntry),
	}
}

// Start creates a new Run per spec: either a fresh container or an exec
// session inside a warm one, wires its output to the transcript, the
// artifact scanner, and the Event Bus, and returns the Run's snapshot.
func (o *Orchestrator) Start(ctx context.Context, spec StartSpec) (Run, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return Run{}, fmt.Errorf("orchestrator: generate run id: %w", err)
	}

	fp := engine.MountFingerprint{
		Engine:        spec.Engine,
		WorkspacePath: spec.WorkspacePath,
		CredsPath:     spec.CredsPath,
		ReadOnlyRoot:  spec.ReadOnlyRoot,
		UIDGID:        spec.UIDGID,
	}.Normalize()

	ref, stream, warm, err := o.createOrAttach(ctx, spec, fp, runID.String())
	if err != nil {
		return Run{}, fmt.Errorf("orchestrator: start run: %w", err)
	}

	runsDir := filepath.Join(fp.WorkspacePath, ".runs")
	transcriptPath := filepath.Join(runsDir, fmt.Sprintf("%s-%s.log", fp.Engine, tsSafe(time.Now())))
	var tw *transcript.Writer
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		o.logf("create run directory failed for run %s: %v", runID, err)
	} else if tw, err = transcript.Open(transcriptPath); err != nil {
		// The run is already live; a transcript failure must not fail the
		// Run, only go unlogged for history.
		o.logf("transcript open failed for run %s: %v", runID, err)
		tw = nil
	}

	now := time.Now()
	run := Run{
		ID:             runID.String(),
		Engine:         fp.Engine,
		Workspace:      fp.WorkspacePath,
		Creds:          fp.CredsPath,
		ReadOnlyRoot:   fp.ReadOnlyRoot,
		UIDGID:         fp.UIDGID,
		Backend:        o.backend,
		Warm:           warm,
		ContainerID:    ref.ContainerID,
		Status:         StatusRunning,
		TranscriptPath: transcriptPath,
		CreatedAt:      now,
		StartedAt:      now,
		LastActivity:   now,
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	entry := &runEntry{
		run:    run,
		ref:    ref,
		stream: stream,
		stdin:  make(chan []byte, 64),
		broker: newOutputBroker(),
		tw:     tw,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[run.ID] = entry
	o.mu.Unlock()

	go o.pump(entry, stream, tw)
	go o.pumpStdin(pumpCtx, entry, stream)

	o.publishLifecycle(eventbus.RunStarted, entry)
	return entry.run, nil
}

func (o *Orchestrator) createOrAttach(ctx context.Context, spec StartSpec, fp engine.MountFingerprint, runID string) (ctrdriver.Ref, ctrdriver.Stream, bool, error) {
	if spec.UseWarm {
		wc, err := o.warm.Find(ctx, fp)
		if err != nil {
			return ctrdriver.Ref{}, ctrdriver.Stream{}, false, fmt.Errorf("find warm container: %w", err)
		}
		if wc != nil {
			ref, stream, err := o.driver.ExecInWarm(ctx, wc.Ref, ctrdriver.ExecSpec{
				Env:     spec.ExtraEnv,
				WorkDir: "/workspace",
				Argv:    spec.Argv,
			})
			if err != nil {
				return ctrdriver.Ref{}, ctrdriver.Stream{}, false, fmt.Errorf("exec in warm container: %w", err)
			}
			return ref, stream, true, nil
		}
	}

	env := map[string]string{"ENGINE": string(fp.Engine), "TERM": "xterm-256color"}
	for k, v := range spec.ExtraEnv {
		env[k] = v
	}
	createSpec := ctrdriver.CreateSpec{
		Image: o.image,
		Env:   env,
		Mounts: []ctrdriver.Mount{
			{HostPath: fp.WorkspacePath, ContainerPath: "/workspace"},
			{HostPath: fp.CredsPath, ContainerPath: "/home/agent/.creds"},
		},
		ReadOnlyRoot: fp.ReadOnlyRoot,
		TmpfsTmp:     true,
		UIDGID:       fp.UIDGID,
		WorkDir:      "/workspace",
		Labels:       ctrdriver.FreshLabels(fp, runID),
		Argv:         spec.Argv,
	}
	ref, stream, err := o.driver.CreateFresh(ctx, createSpec)
	if err != nil {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, false, fmt.Errorf("create fresh container: %w", err)
	}
	return ref, stream, false, nil
}

// pump reads the container's output until the stream ends, fanning every
// chunk out to the transcript, the artifact scanner, and every attached
// listener, in the order the bytes were received.
func (o *Orchestrator) pump(entry *runEntry, stream ctrdriver.Stream, tw *transcript.Writer) {
	defer close(entry.done)
	defer entry.broker.Close()
	if tw != nil {
		defer tw.Close()
	}

	scanner := artifact.New(entry.run.ID, entry.run.Engine, entry.run.Workspace)
	buf := make([]byte, 32*1024)

	var exitErr error
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			entry.broker.Broadcast(chunk)
			if tw != nil {
				if _, werr := tw.Write(chunk); werr != nil {
					o.logf("transcript write failed for run %s: %v", entry.run.ID, werr)
				}
			}
			for _, evt := range scanner.Feed(chunk) {
				o.bus.PublishArtifact(evt)
			}
			o.touchActivity(entry.run.ID)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				exitErr = err
			}
			break
		}
	}

	for _, evt := range scanner.Flush() {
		o.bus.PublishArtifact(evt)
	}

	o.finish(entry, exitErr)
}

// pumpStdin serializes writes to the container's stdin so concurrent Input
// calls never interleave mid-write.
func (o *Orchestrator) pumpStdin(ctx context.Context, entry *runEntry, stream ctrdriver.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-entry.stdin:
			if !ok {
				return
			}
			if stream.Writer != nil {
				if _, err := stream.Write(data); err != nil {
					o.logf("stdin write failed for run %s: %v", entry.run.ID, err)
				}
			}
		}
	}
}

// finish marks a Run as exited once its output stream has closed on its
// own (the process inside the container ended) rather than via an explicit
// Stop/Kill/Close call, and removes it from the registry.
func (o *Orchestrator) finish(entry *runEntry, exitErr error) {
	o.mu.Lock()
	current, ok := o.runs[entry.run.ID]
	if ok {
		delete(o.runs, entry.run.ID)
	}
	o.mu.Unlock()
	if !ok {
		// Already torn down by an explicit Stop/Kill/Close.
		return
	}

	current.run.Status = StatusExited
	current.run.FinishedAt = time.Now()
	if exitErr != nil {
		o.logf("run %s exited with error: %v", entry.run.ID, exitErr)
	}

	if !current.run.Warm {
		if err := o.driver.Remove(context.Background(), current.ref, true); err != nil {
			o.logf("remove after exit failed for run %s: %v", entry.run.ID, err)
		}
	}

	o.publishLifecycle(eventbus.RunExited, current)
}

// Input writes data to the Run's stdin.
func (o *Orchestrator) Input(runID string, data []byte) error {
	entry, ok := o.get(runID)
	if !ok {
		return ErrRunNotFound
	}
	select {
	case entry.stdin <- data:
		o.touchActivity(runID)
		return nil
	default:
		return fmt.Errorf("orchestrator: stdin backlog full for run %s", runID)
	}
}

// Resize resizes the Run's pseudo-TTY.
func (o *Orchestrator) Resize(ctx context.Context, runID string, cols, rows int) error {
	entry, ok := o.get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if err := o.driver.Resize(ctx, entry.ref, cols, rows); err != nil {
		return fmt.Errorf("orchestrator: resize run %s: %w", runID, err)
	}
	return nil
}

// Stop gracefully stops a Run. A fresh container is stopped and removed; a
// warm-exec session is ended but the underlying warm container is left
// running for reuse.
func (o *Orchestrator) Stop(ctx context.Context, runID string) error {
	return o.terminate(ctx, runID, StatusStopped, false)
}

// Kill immediately terminates a Run. A fresh container is killed and
// removed; a warm-exec session instead has its engine process signaled
// directly inside the warm container, which is left running.
func (o *Orchestrator) Kill(ctx context.Context, runID string) error {
	return o.terminate(ctx, runID, StatusKilled, true)
}

// Close ends a Run the way a client disconnecting cleanly would: unconditional
// teardown, distinct terminal status from Stop/Kill so listeners can tell the
// three apart. A warm-exec session has its attach stream torn down before its
// engine process is signaled, with a broader process match than Kill.
func (o *Orchestrator) Close(ctx context.Context, runID string) error {
	return o.terminate(ctx, runID, StatusClosed, false)
}

// IdleStop is invoked by the Idle Reaper; identical teardown to Stop but
// stamped with the idle-stopped status so clients can distinguish an
// automatic sweep from an explicit Stop call.
func (o *Orchestrator) IdleStop(ctx context.Context, runID string) error {
	return o.terminate(ctx, runID, StatusIdleStopped, false)
}

func (o *Orchestrator) terminate(ctx context.Context, runID string, status Status, immediate bool) error {
	o.mu.Lock()
	entry, ok := o.runs[runID]
	if ok {
		delete(o.runs, runID)
	}
	o.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}

	entry.cancel()

	if entry.run.Warm {
		o.terminateWarm(ctx, entry, status)
	} else if immediate {
		if err := o.driver.Kill(ctx, entry.ref); err != nil {
			o.logf("kill failed for run %s: %v", runID, err)
		}
		if err := o.driver.Remove(ctx, entry.ref, true); err != nil {
			o.logf("remove after kill failed for run %s: %v", runID, err)
		}
	} else {
		grace := int(ctrdriver.DefaultStopGrace.Seconds())
		if err := o.driver.Stop(ctx, entry.ref, grace); err != nil {
			o.logf("stop failed for run %s, killing: %v", runID, err)
			_ = o.driver.Kill(ctx, entry.ref)
		}
		if err := o.driver.Remove(ctx, entry.ref, true); err != nil {
			o.logf("remove after stop failed for run %s: %v", runID, err)
		}
	}

	entry.run.Status = status
	entry.run.FinishedAt = time.Now()

	kind := eventbus.RunStopped
	switch status {
	case StatusKilled:
		kind = eventbus.RunKilled
	case StatusClosed:
		kind = eventbus.RunClosed
	case StatusIdleStopped:
		kind = eventbus.RunIdleStopped
	}
	o.publishLifecycle(kind, entry)
	return nil
}

// ctrlC is the byte a graceful warm-exec stop writes to the attach stream
// ahead of "exit\n", the same sequence an interactive terminal sends on
// Ctrl-C.
const ctrlC = 0x03

// terminateWarm ends a warm-exec Run's session without ever touching the
// warm container it runs inside: Stop and IdleStop ask the engine process to
// leave on its own over the attach stream's stdin, while Kill and Close
// reach into the container and signal the process directly instead. Close
// additionally tears down the attach stream before signaling, and casts a
// wider net over the process table than Kill does.
func (o *Orchestrator) terminateWarm(ctx context.Context, entry *runEntry, status Status) {
	switch status {
	case StatusKilled:
		if err := o.driver.ExecOneShot(ctx, entry.ref, pkillArgv(engine.ProcessNames())); err != nil {
			o.logf("signal warm-exec process failed for run %s: %v", entry.run.ID, err)
		}
	case StatusClosed:
		if entry.stream.Closer != nil {
			if err := entry.stream.Close(); err != nil {
				o.logf("close attach stream failed for run %s: %v", entry.run.ID, err)
			}
		}
		if err := o.driver.ExecOneShot(ctx, entry.ref, pkillArgv(append(engine.ProcessNames(), "sh"))); err != nil {
			o.logf("signal warm-exec process failed for run %s: %v", entry.run.ID, err)
		}
	default: // StatusStopped, StatusIdleStopped
		if entry.stream.Writer == nil {
			return
		}
		if _, err := entry.stream.Write([]byte{ctrlC}); err != nil {
			o.logf("graceful warm-exec stop write failed for run %s: %v", entry.run.ID, err)
			return
		}
		if _, err := entry.stream.Write([]byte("exit\n")); err != nil {
			o.logf("graceful warm-exec stop write failed for run %s: %v", entry.run.ID, err)
		}
	}
}

// pkillArgv builds a best-effort pkill invocation matching any of names by
// full command line, run once inside a warm container to end a single
// exec'd session without stopping the container itself.
func pkillArgv(names []string) []string {
	return []string{"pkill", "-9", "-f", strings.Join(names, "|")}
}

// Announce writes message as a line to runID's transcript and broadcasts it
// to every attached output listener, the same path live container output
// travels. The Idle Reaper uses this to record why a Run is ending before
// its stop takes effect.
func (o *Orchestrator) Announce(runID string, message string) error {
	entry, ok := o.get(runID)
	if !ok {
		return ErrRunNotFound
	}
	chunk := []byte(message + "\n")
	entry.broker.Broadcast(chunk)
	if entry.tw != nil {
		if _, err := entry.tw.Write(chunk); err != nil {
			return fmt.Errorf("orchestrator: announce to run %s: %w", runID, err)
		}
	}
	return nil
}

// FallbackCleanup handles a stop/kill/close request for a runID that is not
// (or no longer) in the registry by looking for a container still carrying
// that runId label and tearing it down directly. It reports whether it found
// and removed anything, per the §7 "not-found" fallback-cleanup policy.
func (o *Orchestrator) FallbackCleanup(ctx context.Context, runID string) (bool, error) {
	refs, err := o.driver.List(ctx, map[string]string{ctrdriver.LabelRunID: runID})
	if err != nil {
		return false, fmt.Errorf("orchestrator: fallback list for run %s: %w", runID, err)
	}
	if len(refs) == 0 {
		return false, nil
	}

	for _, ref := range refs {
		if err := o.driver.Kill(ctx, ref); err != nil {
			o.logf("fallback kill failed for run %s: %v", runID, err)
		}
		if err := o.driver.Remove(ctx, ref, true); err != nil {
			o.logf("fallback remove failed for run %s: %v", runID, err)
		}
	}
	return true, nil
}

// StopAll stops every Run in the registry, fresh and warm-exec alike (a
// warm-exec Run's container is left running). When includeWarm is set it
// also destroys every warm container, not just Runs currently exec'd into
// one.
func (o *Orchestrator) StopAll(ctx context.Context, includeWarm bool) error {
	return o.terminateAll(ctx, includeWarm, false)
}

// KillAll kills every Run in the registry, with the same includeWarm
// semantics as StopAll.
func (o *Orchestrator) KillAll(ctx context.Context, includeWarm bool) error {
	return o.terminateAll(ctx, includeWarm, true)
}

func (o *Orchestrator) terminateAll(ctx context.Context, includeWarm, immediate bool) error {
	o.mu.Lock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var errs []error
	for _, id := range ids {
		status := StatusStopped
		if immediate {
			status = StatusKilled
		}
		if err := o.terminate(ctx, id, status, immediate); err != nil && !errors.Is(err, ErrRunNotFound) {
			errs = append(errs, err)
		}
	}

	if includeWarm {
		warmContainers, err := o.warm.List(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list warm containers: %w", err))
		}
		for _, wc := range warmContainers {
			if immediate {
				if err := o.driver.Kill(ctx, wc.Ref); err != nil {
					o.logf("kill warm container failed: %v", err)
				}
			}
			if err := o.warm.Destroy(ctx, wc.Ref); err != nil {
				errs = append(errs, fmt.Errorf("destroy warm container: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

// Meta returns a snapshot of a currently-registered Run.
func (o *Orchestrator) Meta(runID string) (Run, bool) {
	entry, ok := o.get(runID)
	if !ok {
		return Run{}, false
	}
	return entry.run, true
}

// List returns a snapshot of every Run currently in the registry.
func (o *Orchestrator) List() []Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Run, 0, len(o.runs))
	for _, entry := range o.runs {
		out = append(out, entry.run)
	}
	return out
}

// AttachOutput registers a new listener for runID's live output. The
// returned detach function must be called once the caller is done
// listening (e.g. on WebSocket/SSE disconnect).
func (o *Orchestrator) AttachOutput(runID string, bufferSize int) (<-chan []byte, func(), error) {
	entry, ok := o.get(runID)
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	ch, detach := entry.broker.Attach(bufferSize)
	return ch, detach, nil
}

// Inspect returns the driver's current status (including mounts) for a
// registered Run, used to serve Meta's "mounts from inspect" requirement.
func (o *Orchestrator) Inspect(ctx context.Context, runID string) (ctrdriver.Status, error) {
	entry, ok := o.get(runID)
	if !ok {
		return ctrdriver.Status{}, ErrRunNotFound
	}
	status, err := o.driver.Inspect(ctx, entry.ref)
	if err != nil {
		return ctrdriver.Status{}, fmt.Errorf("orchestrator: inspect run %s: %w", runID, err)
	}
	return status, nil
}

func (o *Orchestrator) get(runID string) (*runEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.runs[runID]
	return entry, ok
}

func (o *Orchestrator) touchActivity(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.runs[runID]; ok {
		entry.run.LastActivity = time.Now()
	}
}

func (o *Orchestrator) publishLifecycle(kind eventbus.LifecycleKind, entry *runEntry) {
	o.bus.PublishLifecycle(eventbus.LifecycleEvent{
		Kind:      kind,
		RunID:     entry.run.ID,
		Engine:    entry.run.Engine,
		Workspace: entry.run.Workspace,
		Warm:      entry.run.Warm,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.log != nil {
		o.log.Warn(fmt.Sprintf(format, args...))
	}
}

func tsSafe(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000000Z")
}
