package eventbus

import (
	"testing"
	"time"

	"github.com/cliboard/cliboard/pkg/artifact"
	"github.com/cliboard/cliboard/pkg/engine"
)

func TestSubscribe_ReceivesLifecycleEvent(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(4)
	defer unsubscribe()

	b.PublishLifecycle(LifecycleEvent{
		Kind:      RunStarted,
		RunID:     "run-1",
		Engine:    engine.Codex,
		Workspace: "/ws",
		Timestamp: time.Unix(0, 0),
	})

	select {
	case evt := <-ch:
		if evt.Lifecycle == nil || evt.Lifecycle.RunID != "run-1" {
			t.Fatalf("got %+v", evt)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestSubscribe_ReceivesArtifactEvent(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(4)
	defer unsubscribe()

	b.PublishArtifact(artifact.Event{Kind: artifact.KindURL, Value: "https://example.com", RunID: "run-1"})

	evt := <-ch
	if evt.Artifact == nil || evt.Artifact.Value != "https://example.com" {
		t.Fatalf("got %+v", evt)
	}
}

func TestPublish_MultipleSubscribersAllReceive(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.PublishLifecycle(LifecycleEvent{Kind: RunExited, RunID: "run-2"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Lifecycle.RunID != "run-2" {
				t.Errorf("got %+v", evt)
			}
		default:
			t.Error("expected both subscribers to receive the event")
		}
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(4)
	unsubscribe()

	b.PublishLifecycle(LifecycleEvent{Kind: RunClosed, RunID: "run-3"})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("got %d subscribers, want 0", got)
	}
}

func TestPublish_FullBufferDropsSubscriber(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(1)

	b.PublishLifecycle(LifecycleEvent{Kind: RunStarted, RunID: "a"})
	b.PublishLifecycle(LifecycleEvent{Kind: RunExited, RunID: "b"})

	// Give the async removal goroutine a chance to run.
	deadline := time.After(time.Second)
	for b.SubscriberCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber was never dropped after a full buffer")
		case <-time.After(time.Millisecond):
		}
	}

	<-ch // drain the one event that made it in
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after drop")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	_, unsubscribe := b.Subscribe(1)
	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	unsubscribe()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
