// Package eventbus fans out structured lifecycle and artifact events to
// subscribers. Delivery is best-effort: a subscriber whose channel is full
// or whose connection has gone away is dropped rather than allowed to stall
// the bus.
package eventbus

import (
	"sync"
	"time"

	"github.com/cliboard/cliboard/pkg/artifact"
	"github.com/cliboard/cliboard/pkg/engine"
)

// LifecycleKind enumerates the tagged LifecycleEvent variants.
type LifecycleKind string

const (
	RunStarted     LifecycleKind = "run-started"
	RunExited      LifecycleKind = "run-exited"
	RunStopped     LifecycleKind = "run-stopped"
	RunKilled      LifecycleKind = "run-killed"
	RunIdleStopped LifecycleKind = "run-idle-stopped"
	RunClosed      LifecycleKind = "run-closed"
)

// LifecycleEvent records a Run state transition.
type LifecycleEvent struct {
	Kind      LifecycleKind
	RunID     string
	Engine    engine.Engine
	Workspace string
	Warm      bool
	Timestamp time.Time
}

// Event is the envelope delivered to Bus subscribers: exactly one of its
// two fields is set.
type Event struct {
	Lifecycle *LifecycleEvent
	Artifact  *artifact.Event
}

type subscriber struct {
	ch chan Event
}

// Bus is an unbounded multicast of Events to any number of subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new listener and returns a channel of Events plus
// an Unsubscribe function. The channel is buffered; a slow or gone
// subscriber is dropped on the next failed delivery rather than blocking
// the publisher.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	s := &subscriber{ch: make(chan Event, bufferSize)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() { b.remove(s) }
	return s.ch, unsubscribe
}

func (b *Bus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// PublishLifecycle broadcasts a LifecycleEvent to all current subscribers.
func (b *Bus) PublishLifecycle(e LifecycleEvent) {
	b.publish(Event{Lifecycle: &e})
}

// PublishArtifact broadcasts an artifact.Event to all current subscribers.
func (b *Bus) PublishArtifact(e artifact.Event) {
	b.publish(Event{Artifact: &e})
}

func (b *Bus) publish(evt Event) {
	b.mu.RLock()
	dead := make([]*subscriber, 0)
	for s := range b.subs {
		select {
		case s.ch <- evt:
		default:
			dead = append(dead, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range dead {
		go b.remove(s)
	}
}

// SubscriberCount returns the number of currently active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
