// Package warmpool indexes idle containers by engine and mount fingerprint
// so the Run Orchestrator can exec into an already-running container
// instead of paying fresh-container startup cost on every attach.
package warmpool

import (
	"context"
	"fmt"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/engine"
)

// WarmContainer describes a running, idle container indexed by its mount
// fingerprint.
type WarmContainer struct {
	Ref         ctrdriver.Ref
	Fingerprint engine.MountFingerprint
}

// Manager ensures, finds, lists, and destroys warm containers.
type Manager struct {
	driver ctrdriver.Driver
	image  string
}

// New builds a Manager that creates warm containers from image when none
// exist for a requested fingerprint.
func New(driver ctrdriver.Driver, image string) *Manager {
	return &Manager{driver: driver, image: image}
}

// Find returns the running warm container whose labels equal fp, if any.
// Labels fully determine identity, so there is never ambiguity between
// multiple matches.
func (m *Manager) Find(ctx context.Context, fp engine.MountFingerprint) (*WarmContainer, error) {
	refs, err := m.driver.List(ctx, ctrdriver.WarmLabels(fp))
	if err != nil {
		return nil, fmt.Errorf("warmpool: list: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &WarmContainer{Ref: refs[0], Fingerprint: fp}, nil
}

// Ensure returns an existing warm container for fp or creates one with the
// argv "sleep infinity". On the Docker backend that argv follows the
// image's own entrypoint, which is not replaced.
func (m *Manager) Ensure(ctx context.Context, fp engine.MountFingerprint) (*WarmContainer, error) {
	if existing, err := m.Find(ctx, fp); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	n := fp.Normalize()
	spec := ctrdriver.CreateSpec{
		Image: m.image,
		Env:   map[string]string{"ENGINE": string(n.Engine), "TERM": "xterm-256color"},
		Mounts: []ctrdriver.Mount{
			{HostPath: n.WorkspacePath, ContainerPath: "/workspace"},
			{HostPath: n.CredsPath, ContainerPath: "/home/agent/.creds"},
		},
		ReadOnlyRoot: n.ReadOnlyRoot,
		TmpfsTmp:     true,
		UIDGID:       n.UIDGID,
		WorkDir:      "/workspace",
		Labels:       ctrdriver.WarmLabels(n),
		Argv:         []string{"sleep", "infinity"},
	}

	ref, stream, err := m.driver.CreateFresh(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("warmpool: create: %w", err)
	}
	// The warm container has no attached session yet; nothing reads this
	// stream until an exec is started against it.
	_ = stream.Closer.Close()

	return &WarmContainer{Ref: ref, Fingerprint: n}, nil
}

// List returns every known warm container.
func (m *Manager) List(ctx context.Context) ([]WarmContainer, error) {
	refs, err := m.driver.List(ctx, map[string]string{ctrdriver.LabelWarm: "true"})
	if err != nil {
		return nil, fmt.Errorf("warmpool: list all: %w", err)
	}

	out := make([]WarmContainer, 0, len(refs))
	for _, ref := range refs {
		status, err := m.driver.Inspect(ctx, ref)
		if err != nil {
			continue
		}
		out = append(out, WarmContainer{
			Ref:         ref,
			Fingerprint: ctrdriver.FingerprintFromWarmLabels(status.Labels),
		})
	}
	return out, nil
}

// Destroy stops and removes the warm container referenced by ref.
func (m *Manager) Destroy(ctx context.Context, ref ctrdriver.Ref) error {
	if err := m.driver.Stop(ctx, ref, int(ctrdriver.DefaultStopGrace.Seconds())); err != nil {
		_ = m.driver.Kill(ctx, ref)
	}
	return m.driver.Remove(ctx, ref, true)
}
