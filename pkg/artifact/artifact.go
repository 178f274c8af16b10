// Package artifact extracts structured events — referenced files, URLs,
// pull-request links, and auth warnings — from a Run's outbound byte
// stream.
package artifact

import (
	"regexp"
	"strings"

	"github.com/cliboard/cliboard/pkg/engine"
)

// Kind distinguishes the variants of an ArtifactEvent.
type Kind string

const (
	KindFile        Kind = "file"
	KindURL         Kind = "url"
	KindPR          Kind = "pr"
	KindAuthWarning Kind = "authWarning"
)

// Event is a structured datum extracted from a single line of output.
type Event struct {
	Kind      Kind
	Value     string // path, url, or trimmed warning line
	RunID     string
	Engine    engine.Engine
	Workspace string

	// ArchivedKey names an object-storage key for the referenced file. The
	// Artifact Archiver uploads file artifacts but does not fill this field
	// in, so it is empty on every published event; no consumer reads it.
	ArchivedKey string
}

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s]+`)
	prPattern   = regexp.MustCompile(`(?i)github\.com/[^/\s]+/[^/\s]+/pull/`)
	filePattern = regexp.MustCompile(`/workspace/[\w./-]+`)
	authPattern = regexp.MustCompile(`(?i)invalid (api )?key|unauthorized|401|permission denied|unauthenticated`)
)

// Scanner is a line-oriented detector. Unlike a stateless per-chunk split,
// it carries a per-Run residual buffer so a line split across two chunk
// boundaries is still recognized once its terminating newline arrives,
// rather than silently dropped.
type Scanner struct {
	runID     string
	eng       engine.Engine
	workspace string
	residual  []byte
}

// New builds a Scanner bound to a specific Run's identity, used to stamp
// emitted events.
func New(runID string, eng engine.Engine, workspace string) *Scanner {
	return &Scanner{runID: runID, eng: eng, workspace: workspace}
}

// Feed processes a chunk of outbound bytes, returning the events found on
// every complete line terminated within chunk plus any carried-over
// residual. Any trailing partial line (no terminating \n yet) is retained
// internally and considered on the next Feed call.
func (s *Scanner) Feed(chunk []byte) []Event {
	data := append(s.residual, chunk...)
	s.residual = nil

	lines := strings.Split(string(data), "\n")

	// The last element is either empty (chunk ended on a newline) or a
	// partial line to carry forward.
	last := lines[len(lines)-1]
	lines = lines[:len(lines)-1]
	if last != "" {
		s.residual = []byte(last)
	}

	var events []Event
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		events = append(events, s.scanLine(line)...)
	}
	return events
}

// Flush processes any remaining residual bytes as a final, complete line —
// used when the Run exits and no further chunks will arrive.
func (s *Scanner) Flush() []Event {
	if len(s.residual) == 0 {
		return nil
	}
	line := strings.TrimRight(string(s.residual), "\r")
	s.residual = nil
	return s.scanLine(line)
}

func (s *Scanner) scanLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var events []Event
	emit := func(kind Kind, value string) {
		events = append(events, Event{
			Kind:      kind,
			Value:     value,
			RunID:     s.runID,
			Engine:    s.eng,
			Workspace: s.workspace,
		})
	}

	for _, url := range urlPattern.FindAllString(line, -1) {
		if prPattern.MatchString(url) {
			emit(KindPR, url)
		} else {
			emit(KindURL, url)
		}
	}

	for _, path := range filePattern.FindAllString(line, -1) {
		emit(KindFile, path)
	}

	if authPattern.MatchString(line) {
		emit(KindAuthWarning, trimmed)
	}

	return events
}
