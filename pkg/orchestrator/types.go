package orchestrator

import (
	"time"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/transcript"
)

// Status is a Run's position in its lifecycle. A Run exists in the
// Orchestrator's registry only while Status is StatusRunning; every
// terminal status removes it from the registry after exactly one matching
// LifecycleEvent has been published.
type Status string

const (
	StatusRunning     Status = "running"
	StatusExited      Status = "exited"
	StatusStopped     Status = "stopped"
	StatusKilled      Status = "killed"
	StatusClosed      Status = "closed"
	StatusIdleStopped Status = "idle-stopped"
)

// Backend names the container runtime a Run was started against.
type Backend string

const (
	BackendDocker     Backend = "docker"
	BackendKubernetes Backend = "kubernetes"
)

// StartSpec describes a client's request to start a new Run.
type StartSpec struct {
	Engine        engine.Engine
	WorkspacePath string // already validated+resolved by the Path Guard
	CredsPath     string // already validated+resolved by the Path Guard
	ReadOnlyRoot  bool
	UIDGID        string
	Argv          []string // the engine's CLI invocation; empty uses the image default
	UseWarm       bool     // exec into a matching warm container if one exists; otherwise a fresh one is created
	ExtraEnv      map[string]string
}

// Run is a point-in-time snapshot of an orchestrated session, safe to copy
// and hand to an HTTP handler.
type Run struct {
	ID             string
	Engine         engine.Engine
	Workspace      string
	Creds          string
	ReadOnlyRoot   bool
	UIDGID         string
	Backend        Backend
	Warm           bool
	ContainerID    string
	Status         Status
	ExitCode       *int
	TranscriptPath string
	CreatedAt      time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	LastActivity   time.Time
}

// runEntry is the live, mutable state the registry owns for a running Run.
// Registry membership and LastActivity updates go through Orchestrator.mu,
// the single serialization point; runEntry has no lock of its own.
type runEntry struct {
	run Run
	ref ctrdriver.Ref

	stream ctrdriver.Stream // the attached stream driving pump/pumpStdin
	stdin  chan []byte      // serialized writes to the container's stdin
	broker *outputBroker
	tw     *transcript.Writer // nil if the transcript failed to open

	cancel func() // stops the pump goroutine and releases driver resources

	done chan struct{} // closed once the pump goroutine has fully exited
}
