package warmpool

import (
	"context"
	"testing"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/engine"
)

type fakeDriver struct {
	created []ctrdriver.CreateSpec
	byLabel map[string]ctrdriver.Ref
	labels  map[string]map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{labels: make(map[string]map[string]string)}
}

func (f *fakeDriver) CreateFresh(_ context.Context, spec ctrdriver.CreateSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	f.created = append(f.created, spec)
	ref := ctrdriver.Ref{ContainerID: "c1"}
	f.labels[ref.ContainerID] = spec.Labels
	return ref, ctrdriver.Stream{Closer: nopCloser{}}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (f *fakeDriver) ExecInWarm(context.Context, ctrdriver.Ref, ctrdriver.ExecSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	panic("not used")
}
func (f *fakeDriver) Resize(context.Context, ctrdriver.Ref, int, int) error { return nil }
func (f *fakeDriver) Stop(context.Context, ctrdriver.Ref, int) error        { return nil }
func (f *fakeDriver) Kill(context.Context, ctrdriver.Ref) error             { return nil }
func (f *fakeDriver) ExecOneShot(context.Context, ctrdriver.Ref, []string) error {
	return nil
}
func (f *fakeDriver) Remove(context.Context, ctrdriver.Ref, bool) error     { return nil }
func (f *fakeDriver) Wait(context.Context, ctrdriver.Ref) (ctrdriver.ExitInfo, error) {
	return ctrdriver.ExitInfo{}, nil
}
func (f *fakeDriver) Inspect(_ context.Context, ref ctrdriver.Ref) (ctrdriver.Status, error) {
	return ctrdriver.Status{Running: true, Labels: f.labels[ref.ContainerID]}, nil
}
func (f *fakeDriver) List(_ context.Context, filter map[string]string) ([]ctrdriver.Ref, error) {
	var out []ctrdriver.Ref
	for id, labels := range f.labels {
		if matchesAll(labels, filter) {
			out = append(out, ctrdriver.Ref{ContainerID: id})
		}
	}
	return out, nil
}

func matchesAll(labels, filter map[string]string) bool {
	for k, v := range filter {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func testFingerprint() engine.MountFingerprint {
	return engine.MountFingerprint{
		Engine:        engine.Codex,
		WorkspacePath: "/srv/ws/alice",
		CredsPath:     "/srv/creds/alice",
	}
}

func TestEnsure_CreatesWhenAbsent(t *testing.T) {
	d := newFakeDriver()
	m := New(d, "cliboard/agent:latest")

	wc, err := m.Ensure(context.Background(), testFingerprint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wc == nil {
		t.Fatal("expected a warm container")
	}
	if len(d.created) != 1 {
		t.Fatalf("expected one CreateFresh call, got %d", len(d.created))
	}
}

func TestEnsure_ReusesExisting(t *testing.T) {
	d := newFakeDriver()
	m := New(d, "cliboard/agent:latest")
	fp := testFingerprint()

	first, err := m.Ensure(context.Background(), fp)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Ensure(context.Background(), fp)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.created) != 1 {
		t.Fatalf("expected only one container created, got %d calls", len(d.created))
	}
	if first.Ref.ContainerID != second.Ref.ContainerID {
		t.Error("expected the same container to be reused")
	}
}

func TestFind_NoMatch(t *testing.T) {
	d := newFakeDriver()
	m := New(d, "cliboard/agent:latest")

	wc, err := m.Find(context.Background(), testFingerprint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wc != nil {
		t.Error("expected no match in an empty pool")
	}
}
