package reaper

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/orchestrator"
	"github.com/cliboard/cliboard/pkg/transcript"
	"github.com/cliboard/cliboard/pkg/warmpool"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type fakeDriver struct {
	removed []string
}

func (f *fakeDriver) CreateFresh(context.Context, ctrdriver.CreateSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	outR, _ := io.Pipe()
	_, inW := io.Pipe()
	return ctrdriver.Ref{ContainerID: "c1"}, ctrdriver.Stream{
		Reader: outR,
		Writer: inW,
		Closer: closerFunc(func() error { return nil }),
	}, nil
}

func (f *fakeDriver) ExecInWarm(context.Context, ctrdriver.Ref, ctrdriver.ExecSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	panic("not used")
}
func (f *fakeDriver) Resize(context.Context, ctrdriver.Ref, int, int) error { return nil }
func (f *fakeDriver) Stop(context.Context, ctrdriver.Ref, int) error        { return nil }
func (f *fakeDriver) Kill(context.Context, ctrdriver.Ref) error             { return nil }
func (f *fakeDriver) ExecOneShot(context.Context, ctrdriver.Ref, []string) error {
	return nil
}
func (f *fakeDriver) Remove(_ context.Context, ref ctrdriver.Ref, _ bool) error {
	f.removed = append(f.removed, ref.ContainerID)
	return nil
}
func (f *fakeDriver) Wait(context.Context, ctrdriver.Ref) (ctrdriver.ExitInfo, error) {
	return ctrdriver.ExitInfo{}, nil
}
func (f *fakeDriver) Inspect(context.Context, ctrdriver.Ref) (ctrdriver.Status, error) {
	return ctrdriver.Status{Running: true}, nil
}
func (f *fakeDriver) List(context.Context, map[string]string) ([]ctrdriver.Ref, error) {
	return nil, nil
}

func TestSweep_StopsRunsPastIdleTimeout(t *testing.T) {
	d := &fakeDriver{}
	bus := eventbus.New()
	warm := warmpool.New(d, "cliboard/agent:latest")
	orch := orchestrator.New(d, warm, orchestrator.BackendDocker, "cliboard/agent:latest", bus, nil)

	run, err := orch.Start(context.Background(), orchestrator.StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: t.TempDir(),
		CredsPath:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	r := New(orch, Config{Interval: time.Hour, IdleTimeout: time.Millisecond}, nil)

	time.Sleep(5 * time.Millisecond)
	r.sweep(context.Background())

	if _, ok := orch.Meta(run.ID); ok {
		t.Fatal("expected the idle run to be stopped and removed from the registry")
	}
}

func TestSweep_WritesAutoStopMarkerBeforeStopping(t *testing.T) {
	d := &fakeDriver{}
	bus := eventbus.New()
	warm := warmpool.New(d, "cliboard/agent:latest")
	orch := orchestrator.New(d, warm, orchestrator.BackendDocker, "cliboard/agent:latest", bus, nil)

	run, err := orch.Start(context.Background(), orchestrator.StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: t.TempDir(),
		CredsPath:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	r := New(orch, Config{Interval: time.Hour, IdleTimeout: time.Millisecond}, nil)

	time.Sleep(5 * time.Millisecond)
	r.sweep(context.Background())

	got, err := transcript.ReadAll(run.TranscriptPath)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	if !strings.Contains(string(got), "[[AUTO-STOP]] idle timeout exceeded") {
		t.Fatalf("expected transcript to contain the auto-stop marker, got %q", got)
	}
}

func TestSweep_LeavesActiveRunsAlone(t *testing.T) {
	d := &fakeDriver{}
	bus := eventbus.New()
	warm := warmpool.New(d, "cliboard/agent:latest")
	orch := orchestrator.New(d, warm, orchestrator.BackendDocker, "cliboard/agent:latest", bus, nil)

	run, err := orch.Start(context.Background(), orchestrator.StartSpec{
		Engine:        engine.Codex,
		WorkspacePath: t.TempDir(),
		CredsPath:     t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	r := New(orch, Config{Interval: time.Hour, IdleTimeout: time.Hour}, nil)
	r.sweep(context.Background())

	if _, ok := orch.Meta(run.ID); !ok {
		t.Fatal("expected the recently active run to stay in the registry")
	}
}

func TestRun_DisabledWhenIdleTimeoutZero(t *testing.T) {
	d := &fakeDriver{}
	bus := eventbus.New()
	warm := warmpool.New(d, "cliboard/agent:latest")
	orch := orchestrator.New(d, warm, orchestrator.BackendDocker, "cliboard/agent:latest", bus, nil)

	r := New(orch, Config{IdleTimeout: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when IdleTimeout is zero")
	}
}
