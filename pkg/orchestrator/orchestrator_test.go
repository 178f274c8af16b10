package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/warmpool"
)

type fakeStream struct {
	outR   *io.PipeReader
	outW   *io.PipeWriter
	inR    *io.PipeReader
	inW    *io.PipeWriter
	closed bool
}

func newFakeStream() *fakeStream {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	return &fakeStream{outR: outR, outW: outW, inR: inR, inW: inW}
}

func (s *fakeStream) asStream() ctrdriver.Stream {
	return ctrdriver.Stream{Reader: s.outR, Writer: s.inW, Closer: closerFunc(func() error {
		s.closed = true
		s.outW.Close()
		s.inW.Close()
		return nil
	})}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakeDriver struct {
	streams map[string]*fakeStream
	next    int
	removed []string
	stopped []string
	killed  []string
	execced [][]string      // argv of every ExecOneShot call
	warm    []ctrdriver.Ref // containers created with the warm label
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{streams: make(map[string]*fakeStream)}
}

func (f *fakeDriver) CreateFresh(_ context.Context, spec ctrdriver.CreateSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	f.next++
	id := fmt.Sprintf("c%d", f.next)
	s := newFakeStream()
	f.streams[id] = s
	ref := ctrdriver.Ref{ContainerID: id}
	if spec.Labels[ctrdriver.LabelWarm] == "true" {
		f.warm = append(f.warm, ref)
	}
	return ref, s.asStream(), nil
}

func (f *fakeDriver) ExecInWarm(_ context.Context, warmRef ctrdriver.Ref, _ ctrdriver.ExecSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	f.next++
	id := warmRef.ContainerID
	s := newFakeStream()
	f.streams[id] = s
	return ctrdriver.Ref{ContainerID: id, ExecID: "e1"}, s.asStream(), nil
}

func (f *fakeDriver) Resize(context.Context, ctrdriver.Ref, int, int) error { return nil }

func (f *fakeDriver) Stop(_ context.Context, ref ctrdriver.Ref, _ int) error {
	f.stopped = append(f.stopped, ref.ContainerID)
	return nil
}

func (f *fakeDriver) Kill(_ context.Context, ref ctrdriver.Ref) error {
	f.killed = append(f.killed, ref.ContainerID)
	if s, ok := f.streams[ref.ContainerID]; ok {
		s.outW.Close()
	}
	return nil
}

func (f *fakeDriver) ExecOneShot(_ context.Context, _ ctrdriver.Ref, argv []string) error {
	f.execced = append(f.execced, argv)
	return nil
}

func (f *fakeDriver) Remove(_ context.Context, ref ctrdriver.Ref, _ bool) error {
	f.removed = append(f.removed, ref.ContainerID)
	return nil
}

func (f *fakeDriver) Wait(context.Context, ctrdriver.Ref) (ctrdriver.ExitInfo, error) {
	return ctrdriver.ExitInfo{}, nil
}

func (f *fakeDriver) Inspect(_ context.Context, ref ctrdriver.Ref) (ctrdriver.Status, error) {
	return ctrdriver.Status{Running: true}, nil
}

func (f *fakeDriver) List(_ context.Context, filter map[string]string) ([]ctrdriver.Ref, error) {
	if filter[ctrdriver.LabelWarm] == "true" {
		return f.warm, nil
	}
	return nil, nil
}

// ensureWarm puts a warm container for the given mounts in place, so a
// UseWarm Start finds it and execs into it.
func ensureWarm(t *testing.T, o *Orchestrator, ws, creds string) {
	t.Helper()
	fp := engine.MountFingerprint{Engine: engine.Codex, WorkspacePath: ws, CredsPath: creds}
	if _, err := o.warm.Ensure(context.Background(), fp); err != nil {
		t.Fatal(err)
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeDriver, *eventbus.Bus) {
	t.Helper()
	d := newFakeDriver()
	bus := eventbus.New()
	warm := warmpool.New(d, "cliboard/agent:latest")
	o := New(d, warm, BackendDocker, "cliboard/agent:latest", bus, nil)
	return o, d, bus
}

func TestStart_RoutesOutputToListener(t *testing.T) {
	o, d, _ := newTestOrchestrator(t)
	ws := t.TempDir()

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     t.TempDir(),
		Argv:          []string{"codex"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != StatusRunning {
		t.Fatalf("got status %v, want running", run.Status)
	}

	ch, detach, err := o.AttachOutput(run.ID, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer detach()

	stream := d.streams[run.ID]
	if stream == nil {
		// fresh run IDs are uuids, not container ids; find the lone stream.
		for _, s := range d.streams {
			stream = s
		}
	}
	go stream.outW.Write([]byte("hello\n"))

	select {
	case chunk := <-ch:
		if string(chunk) != "hello\n" {
			t.Fatalf("got %q", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
	}

	stream.outW.Close()
	stream.inW.Close()
}

func TestStart_ExitRemovesFromRegistry(t *testing.T) {
	o, d, bus := newTestOrchestrator(t)
	ws := t.TempDir()

	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var stream *fakeStream
	for _, s := range d.streams {
		stream = s
	}
	stream.outW.Close()
	stream.inW.Close()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := o.Meta(run.ID); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run never left the registry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sawExit := false
	for i := 0; i < 4; i++ {
		select {
		case evt := <-ch:
			if evt.Lifecycle != nil && evt.Lifecycle.Kind == eventbus.RunExited {
				sawExit = true
			}
		case <-time.After(time.Second):
		}
	}
	if !sawExit {
		t.Fatal("expected a RunExited lifecycle event")
	}
	if len(d.removed) != 1 {
		t.Fatalf("expected the fresh container to be removed, got %v", d.removed)
	}
}

func TestStop_RemovesFreshContainer(t *testing.T) {
	o, d, _ := newTestOrchestrator(t)
	ws := t.TempDir()

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Stop(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	if _, ok := o.Meta(run.ID); ok {
		t.Fatal("expected run to be removed from registry after Stop")
	}
	if len(d.stopped) != 1 || len(d.removed) != 1 {
		t.Fatalf("expected one stop+remove call, got stopped=%v removed=%v", d.stopped, d.removed)
	}
}

func TestStop_UnknownRunIsNotFound(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if err := o.Stop(context.Background(), "does-not-exist"); err != ErrRunNotFound {
		t.Fatalf("got %v, want ErrRunNotFound", err)
	}
}

func TestStop_WarmExecSendsGracefulSequenceAndLeavesContainer(t *testing.T) {
	o, d, _ := newTestOrchestrator(t)
	ws := t.TempDir()
	creds := t.TempDir()
	ensureWarm(t, o, ws, creds)

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     creds,
		Argv:          []string{"codex"},
		UseWarm:       true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var stream *fakeStream
	for _, s := range d.streams {
		stream = s
	}

	done := make(chan error, 1)
	go func() { done <- o.Stop(context.Background(), run.ID) }()

	ctrlCBuf := make([]byte, 1)
	if _, err := stream.inR.Read(ctrlCBuf); err != nil {
		t.Fatalf("reading ctrl-c: %v", err)
	}
	if ctrlCBuf[0] != ctrlC {
		t.Fatalf("got byte %v, want ctrl-C (0x03)", ctrlCBuf[0])
	}

	exitBuf := make([]byte, 16)
	n, err := stream.inR.Read(exitBuf)
	if err != nil {
		t.Fatalf("reading exit sequence: %v", err)
	}
	if string(exitBuf[:n]) != "exit\n" {
		t.Fatalf("got %q, want %q", exitBuf[:n], "exit\n")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Stop to return")
	}

	if _, ok := o.Meta(run.ID); ok {
		t.Fatal("expected run to be removed from registry after Stop")
	}
	if len(d.killed) != 0 || len(d.removed) != 0 {
		t.Fatalf("warm-exec Stop must never kill or remove the warm container, got killed=%v removed=%v", d.killed, d.removed)
	}
}

func TestKill_WarmExecSignalsProcessNotContainer(t *testing.T) {
	o, d, _ := newTestOrchestrator(t)
	ws := t.TempDir()
	creds := t.TempDir()
	ensureWarm(t, o, ws, creds)

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     creds,
		Argv:          []string{"codex"},
		UseWarm:       true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Kill(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	if _, ok := o.Meta(run.ID); ok {
		t.Fatal("expected run to be removed from registry after Kill")
	}
	if len(d.killed) != 0 || len(d.removed) != 0 {
		t.Fatalf("warm-exec Kill must never kill or remove the warm container, got killed=%v removed=%v", d.killed, d.removed)
	}
	if len(d.execced) != 1 {
		t.Fatalf("expected exactly one in-container signal, got %v", d.execced)
	}
	joined := strings.Join(d.execced[0], " ")
	for _, name := range []string{"codex", "gemini", "opencode"} {
		if !strings.Contains(joined, name) {
			t.Errorf("expected kill argv to target %q, got %v", name, d.execced[0])
		}
	}
}

func TestClose_WarmExecDestroysStreamThenSignalsBroadly(t *testing.T) {
	o, d, _ := newTestOrchestrator(t)
	ws := t.TempDir()
	creds := t.TempDir()
	ensureWarm(t, o, ws, creds)

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     creds,
		Argv:          []string{"codex"},
		UseWarm:       true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var stream *fakeStream
	for _, s := range d.streams {
		stream = s
	}

	if err := o.Close(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	if !stream.closed {
		t.Fatal("expected Close to tear down the attach stream before signaling")
	}
	if len(d.killed) != 0 || len(d.removed) != 0 {
		t.Fatalf("warm-exec Close must never kill or remove the warm container, got killed=%v removed=%v", d.killed, d.removed)
	}
	if len(d.execced) != 1 {
		t.Fatalf("expected exactly one in-container signal, got %v", d.execced)
	}
	joined := strings.Join(d.execced[0], " ")
	if !strings.Contains(joined, "sh") {
		t.Errorf("expected Close's signal to cast a wider net including the wrapper shell, got %v", d.execced[0])
	}
}

func TestInput_DeliversBytesToStdin(t *testing.T) {
	o, d, _ := newTestOrchestrator(t)
	ws := t.TempDir()

	run, err := o.Start(context.Background(), StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: ws,
		CredsPath:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var stream *fakeStream
	for _, s := range d.streams {
		stream = s
	}

	readDone := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := stream.inR.Read(buf)
		readDone <- string(buf[:n])
	}()

	if err := o.Input(run.ID, []byte("ls\n")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-readDone:
		if got != "ls\n" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stdin delivery")
	}

	stream.outW.Close()
	stream.inW.Close()
}
