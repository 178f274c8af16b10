package orchestrator

import (
	"fmt"

	"github.com/cliboard/cliboard/pkg/artifact"
	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/transcript"
)

// ScanTranscript re-derives the artifact events a Run's output would have
// produced, by reading its persisted transcript in full. This is how
// GET /runs/:id/artifacts is served for a Run still in the registry (the
// endpoint answers 404 once it has left) — artifacts are never stored
// twice, only recomputed from the one durable record of a Run's output.
func ScanTranscript(transcriptPath string, runID string, eng engine.Engine, workspace string) ([]artifact.Event, error) {
	data, err := transcript.ReadAll(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: scan transcript %s: %w", transcriptPath, err)
	}

	scanner := artifact.New(runID, eng, workspace)
	events := scanner.Feed(data)
	events = append(events, scanner.Flush()...)
	return events, nil
}
