package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/pathguard"
	"github.com/cliboard/cliboard/pkg/transcript"
)

const transcriptTailBytes = 64 * 1024

// registerStreams mounts the raw net/http handlers for SSE endpoints
// directly on the chi mux — these responses are a stream of frames, not a
// single JSON body, so they sit alongside the huma-registered routes rather
// than going through huma.Register.
func (s *Server) registerStreams() {
	s.Router.Get("/runs/{runId}/logs", s.handleRunLogs)
	s.Router.Get("/events", s.handleEvents)
	s.Router.Get("/runs/{runId}/file", s.handleRunFile)
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", base64.StdEncoding.EncodeToString(data))
	flusher.Flush()
}

// handleRunLogs serves GET /runs/{id}/logs?follow=0|1: a transcript tail
// frame, then (if follow=1) the live chunk stream, ending in a terminal
// "[[PROCESS EXITED]]" frame once the Run's output pump closes.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, ok := s.deps.Orchestrator.Meta(runID)
	if !ok {
		http.Error(w, "not-found: run "+runID, http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if tail, err := transcript.Tail(run.TranscriptPath, transcriptTailBytes); err == nil {
		writeSSEFrame(w, flusher, "chunk", tail)
	}

	if r.URL.Query().Get("follow") != "1" {
		return
	}

	var lastStatus atomic.Value
	lastStatus.Store("running")
	bus, unsubscribe := s.deps.Bus.Subscribe(32)
	defer unsubscribe()
	go func() {
		for evt := range bus {
			if evt.Lifecycle != nil && evt.Lifecycle.RunID == runID && evt.Lifecycle.Kind != eventbus.RunStarted {
				// "run-stopped" -> "stopped": the marker carries the Run's status.
				lastStatus.Store(strings.TrimPrefix(string(evt.Lifecycle.Kind), "run-"))
			}
		}
	}()

	ch, detach, err := s.deps.Orchestrator.AttachOutput(runID, 256)
	if err != nil {
		// Run exited between the Meta lookup above and here.
		fmt.Fprintf(w, "event: chunk\ndata: %s\n\n",
			base64.StdEncoding.EncodeToString([]byte("[[PROCESS EXITED]] status=exited")))
		flusher.Flush()
		return
	}
	defer detach()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				marker := fmt.Sprintf("[[PROCESS EXITED]] status=%s", lastStatus.Load())
				writeSSEFrame(w, flusher, "chunk", []byte(marker))
				return
			}
			writeSSEFrame(w, flusher, "chunk", chunk)
		}
	}
}

// handleEvents serves GET /events: an SSE subscription to every Lifecycle
// and Artifact event published on the Event Bus from the moment of
// subscription onward — there is no replay.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.deps.Bus.Subscribe(64)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			name := "artifact"
			if evt.Lifecycle != nil {
				name = "lifecycle"
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flusher.Flush()
		}
	}
}

// handleRunFile serves GET /runs/{id}/file?path=, streaming a file that must
// resolve under the Run's workspace or its .runs directory.
func (s *Server) handleRunFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, ok := s.deps.Orchestrator.Meta(runID)
	if !ok {
		http.Error(w, "not-found: run "+runID, http.StatusNotFound)
		return
	}

	requested := r.URL.Query().Get("path")
	if requested == "" {
		http.Error(w, "invalid-path: path is required", http.StatusBadRequest)
		return
	}

	guard := pathguard.New([]string{run.Workspace, filepath.Join(run.Workspace, ".runs")})
	clean, err := guard.Validate(requested)
	if err != nil {
		http.Error(w, "path-not-allowed: "+err.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(clean)
	if err != nil {
		http.Error(w, "not-found: "+err.Error(), http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}
