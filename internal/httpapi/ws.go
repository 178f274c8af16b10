package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// wsControlMessage is the only text-frame shape the socket recognizes; any
// other text or binary frame is raw bytes destined for the Run's stdin.
type wsControlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// registerWebSocket mounts the bidirectional TTY socket directly on the chi
// mux, alongside the SSE handlers.
func (s *Server) registerWebSocket() {
	s.Router.Get("/ws/runs/{runId}", s.handleRunWebSocket)
}

func (s *Server) handleRunWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if _, ok := s.deps.Orchestrator.Meta(runID); !ok {
		http.Error(w, "not-found: run "+runID, http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logf("websocket accept failed for run %s: %v", runID, err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, detach, err := s.deps.Orchestrator.AttachOutput(runID, 256)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "run exited")
		return
	}
	defer detach()

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "run exited")
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if msgType == websocket.MessageText {
			var ctrl wsControlMessage
			if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.Type == "resize" {
				_ = s.deps.Orchestrator.Resize(ctx, runID, ctrl.Cols, ctrl.Rows)
				continue
			}
		}

		if err := s.deps.Orchestrator.Input(runID, data); err != nil {
			s.logf("websocket stdin write failed for run %s: %v", runID, err)
		}
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.deps.Log != nil {
		s.deps.Log.Warn(fmt.Sprintf(format, args...))
	}
}
