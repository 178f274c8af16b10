// Package ctrdriver defines the capability interface the Run Orchestrator
// uses to create, attach to, and tear down containers, independent of
// which underlying container runtime backs a given deployment.
package ctrdriver

import (
	"context"
	"io"
	"time"
)

// Mount describes a single host-path bind mount into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// CreateSpec describes a fresh container to be created and started.
type CreateSpec struct {
	Image        string
	Env          map[string]string
	Mounts       []Mount
	ReadOnlyRoot bool
	TmpfsTmp     bool // mount a 256MiB noexec,nosuid tmpfs at /tmp
	UIDGID       string
	WorkDir      string
	Labels       map[string]string
	Argv         []string // appended to the image's default entrypoint, optional
}

// ExecSpec describes an exec session started inside an already-running
// (warm) container.
type ExecSpec struct {
	Env     map[string]string
	WorkDir string
	Argv    []string
}

// Stream is a bidirectional TTY byte stream attached to a container or an
// exec session.
type Stream struct {
	io.Reader
	io.Writer
	io.Closer
}

// Ref opaquely identifies a container (fresh run) or an exec session (warm
// run) to every other Driver method.
type Ref struct {
	ContainerID string
	ExecID      string // empty unless this ref names an exec session
}

// ExitInfo is the outcome observed after a container or exec session has
// finished.
type ExitInfo struct {
	ExitCode int
	Err      error // non-nil if the wait itself failed, distinct from a non-zero exit
}

// Status is the runtime's current view of a container.
type Status struct {
	Running bool
	Labels  map[string]string
	Mounts  []Mount
}

// Driver is the capability set the Run Orchestrator and Warm Pool Manager
// consume. It is the only component aware of the underlying container
// runtime; every other component speaks only in terms of these verbs.
type Driver interface {
	// CreateFresh creates and starts a new container, returning a Ref to it
	// plus its attached bidirectional TTY stream.
	CreateFresh(ctx context.Context, spec CreateSpec) (Ref, Stream, error)

	// ExecInWarm starts spec's command inside an already-running container
	// referenced by warmRef, returning a Ref to the exec session plus its
	// attached stream.
	ExecInWarm(ctx context.Context, warmRef Ref, spec ExecSpec) (Ref, Stream, error)

	// Resize resizes the pseudo-TTY behind ref. For a warm-exec Ref this
	// resizes the exec session; for a fresh-run Ref it resizes the
	// container's own TTY.
	Resize(ctx context.Context, ref Ref, cols, rows int) error

	// Stop gracefully stops the container behind ref, waiting up to
	// graceSec before forcing termination.
	Stop(ctx context.Context, ref Ref, graceSec int) error

	// Kill immediately terminates the container behind ref.
	Kill(ctx context.Context, ref Ref) error

	// ExecOneShot runs a short-lived, non-interactive command inside the
	// container behind ref.ContainerID and waits for it to finish. It never
	// stops, removes, or otherwise touches the container itself — used to
	// signal a single process living inside a shared warm container without
	// tearing the container down.
	ExecOneShot(ctx context.Context, ref Ref, argv []string) error

	// Remove deletes the container behind ref. If force is false, Remove
	// fails on a still-running container.
	Remove(ctx context.Context, ref Ref, force bool) error

	// Wait blocks until the container or exec session behind ref finishes.
	Wait(ctx context.Context, ref Ref) (ExitInfo, error)

	// Inspect returns the current status of the container behind ref.
	Inspect(ctx context.Context, ref Ref) (Status, error)

	// List returns refs for every container matching labelFilter (an
	// exact-match AND over label key/value pairs).
	List(ctx context.Context, labelFilter map[string]string) ([]Ref, error)
}

// DefaultStopGrace is used when a caller does not specify a grace period.
const DefaultStopGrace = 10 * time.Second
