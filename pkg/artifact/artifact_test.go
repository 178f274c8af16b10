package artifact

import (
	"testing"

	"github.com/cliboard/cliboard/pkg/engine"
)

func TestFeed_URLAndPR(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")
	events := s.Feed([]byte("see https://github.com/acme/widget/pull/42 for details\n"))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	if events[0].Kind != KindPR {
		t.Errorf("got kind %v, want pr", events[0].Kind)
	}
}

func TestFeed_PlainURL(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")
	events := s.Feed([]byte("fetching https://example.com/a/b\n"))
	if len(events) != 1 || events[0].Kind != KindURL {
		t.Fatalf("got %+v", events)
	}
}

func TestFeed_FilePath(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")
	events := s.Feed([]byte("wrote /workspace/src/main.go\n"))
	if len(events) != 1 || events[0].Kind != KindFile || events[0].Value != "/workspace/src/main.go" {
		t.Fatalf("got %+v", events)
	}
}

func TestFeed_AuthWarning(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")
	events := s.Feed([]byte("Error: Unauthorized request\n"))
	if len(events) != 1 || events[0].Kind != KindAuthWarning {
		t.Fatalf("got %+v", events)
	}
}

func TestFeed_PartialLineAcrossChunks(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")

	// "https://example.com/foo" split mid-URL across two chunks.
	first := s.Feed([]byte("see https://example.com/f"))
	if len(first) != 0 {
		t.Fatalf("expected no events before the line completes, got %+v", first)
	}

	second := s.Feed([]byte("oo for more\n"))
	if len(second) != 1 || second[0].Kind != KindURL {
		t.Fatalf("expected the completed URL once the newline arrives, got %+v", second)
	}
	if second[0].Value != "https://example.com/foo" {
		t.Errorf("got %q, want full URL reassembled across the boundary", second[0].Value)
	}
}

func TestFlush_EmitsTrailingPartialLine(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")
	if events := s.Feed([]byte("unauthorized, no trailing newline")); len(events) != 0 {
		t.Fatalf("unexpected events before flush: %+v", events)
	}

	events := s.Flush()
	if len(events) != 1 || events[0].Kind != KindAuthWarning {
		t.Fatalf("expected flush to emit the residual line's events, got %+v", events)
	}
}

func TestFeed_EmptyLinesIgnored(t *testing.T) {
	s := New("run-1", engine.Codex, "/ws")
	events := s.Feed([]byte("\n\n   \n"))
	if len(events) != 0 {
		t.Errorf("got %+v, want no events", events)
	}
}
