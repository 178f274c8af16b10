package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cliboard/cliboard/pkg/artifact"
	"github.com/cliboard/cliboard/pkg/orchestrator"
)

// StartRunInput is the body for POST /runs.
type StartRunInput struct {
	Body struct {
		Engine     string            `json:"engine" doc:"codex, gemini, or opencode"`
		Workspace  string            `json:"workspace" doc:"absolute host path, bind-mounted at /workspace"`
		Creds      string            `json:"creds" doc:"absolute host path, bind-mounted at /home/agent/.creds"`
		ReadOnly   bool              `json:"readOnly,omitempty"`
		UIDGID     string            `json:"uidgid,omitempty"`
		ExtraEnv   map[string]string `json:"extraEnv,omitempty"`
		PreferWarm *bool             `json:"preferWarm,omitempty" doc:"defaults to true"`
		Argv       []string          `json:"argv,omitempty"`
	}
}

// StartRunOutput is the response for POST /runs.
type StartRunOutput struct {
	Body struct {
		RunID         string `json:"runId"`
		ContainerName string `json:"containerName"`
	}
}

// RunSummary is one entry of GET /runs.
type RunSummary struct {
	RunID     string `json:"runId"`
	Engine    string `json:"engine"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
}

// ListRunsOutput is the response for GET /runs.
type ListRunsOutput struct {
	Body struct {
		Runs []RunSummary `json:"runs"`
	}
}

// RunIDInput is the shared path-param input for the /runs/{id}/* family.
type RunIDInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// RunMetaOutput is the response for GET /runs/{id}/meta.
type RunMetaOutput struct {
	Body struct {
		RunID        string   `json:"runId"`
		Engine       string   `json:"engine"`
		Workspace    string   `json:"workspace"`
		Creds        string   `json:"creds"`
		ReadOnlyRoot bool     `json:"readOnlyRoot"`
		UIDGID       string   `json:"uidgid"`
		Backend      string   `json:"backend"`
		Warm         bool     `json:"warm"`
		Status       string   `json:"status"`
		ContainerID  string   `json:"containerId"`
		Mounts       []string `json:"mounts"`
	}
}

// InputRunInput is the body for POST /runs/{id}/input.
type InputRunInput struct {
	RunID string `path:"runId" doc:"Run ID"`
	Body  struct {
		Data string `json:"data"`
	}
}

// BulkOpInput is the query input shared by stop-all/kill-all.
type BulkOpInput struct {
	IncludeWarm bool `query:"includeWarm" doc:"also tear down warm containers"`
}

// OkOutput is a generic {ok[, fallback]} acknowledgement.
type OkOutput struct {
	Body struct {
		OK       bool `json:"ok"`
		Fallback bool `json:"fallback,omitempty"`
	}
}

// RunArtifactsOutput is the response for GET /runs/{id}/artifacts.
type RunArtifactsOutput struct {
	Body struct {
		Transcripts []string `json:"transcripts"`
		RecentFiles []string `json:"recentFiles"`
	}
}

func (s *Server) registerRuns() {
	o := s.deps.Orchestrator

	huma.Register(s.api, huma.Operation{
		OperationID: "start-run",
		Method:      http.MethodPost,
		Path:        "/runs",
		Summary:     "Start a new Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *StartRunInput) (*StartRunOutput, error) {
		eng, err := parseEngine(input.Body.Engine)
		if err != nil {
			return nil, err
		}
		workspace, err := guardPath(s.deps.WorkspaceGuard, input.Body.Workspace)
		if err != nil {
			return nil, err
		}
		creds, err := guardPath(s.deps.CredsGuard, input.Body.Creds)
		if err != nil {
			return nil, err
		}

		preferWarm := true
		if input.Body.PreferWarm != nil {
			preferWarm = *input.Body.PreferWarm
		}

		run, err := o.Start(ctx, orchestrator.StartSpec{
			Engine:        eng,
			WorkspacePath: workspace,
			CredsPath:     creds,
			ReadOnlyRoot:  input.Body.ReadOnly,
			UIDGID:        input.Body.UIDGID,
			Argv:          input.Body.Argv,
			UseWarm:       preferWarm,
			ExtraEnv:      input.Body.ExtraEnv,
		})
		if err != nil {
			return nil, runtimeError("start run", err)
		}

		resp := &StartRunOutput{}
		resp.Body.RunID = run.ID
		resp.Body.ContainerName = run.ContainerID
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List Run summaries",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *struct{}) (*ListRunsOutput, error) {
		resp := &ListRunsOutput{}
		for _, run := range o.List() {
			resp.Body.Runs = append(resp.Body.Runs, RunSummary{
				RunID:     run.ID,
				Engine:    string(run.Engine),
				Workspace: run.Workspace,
				Status:    string(run.Status),
				StartedAt: run.StartedAt.Format(time.RFC3339),
			})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-run-meta",
		Method:      http.MethodGet,
		Path:        "/runs/{runId}/meta",
		Summary:     "Static descriptors and mounts for a Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *RunIDInput) (*RunMetaOutput, error) {
		run, ok := o.Meta(input.RunID)
		if !ok {
			return nil, huma.Error404NotFound("not-found: run " + input.RunID)
		}

		resp := &RunMetaOutput{}
		resp.Body.RunID = run.ID
		resp.Body.Engine = string(run.Engine)
		resp.Body.Workspace = run.Workspace
		resp.Body.Creds = run.Creds
		resp.Body.ReadOnlyRoot = run.ReadOnlyRoot
		resp.Body.UIDGID = run.UIDGID
		resp.Body.Backend = string(run.Backend)
		resp.Body.Warm = run.Warm
		resp.Body.Status = string(run.Status)
		resp.Body.ContainerID = run.ContainerID

		if status, err := o.Inspect(ctx, input.RunID); err == nil {
			for _, m := range status.Mounts {
				resp.Body.Mounts = append(resp.Body.Mounts, m.HostPath+":"+m.ContainerPath)
			}
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "input-run",
		Method:      http.MethodPost,
		Path:        "/runs/{runId}/input",
		Summary:     "Write bytes to a Run's TTY",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *InputRunInput) (*struct{}, error) {
		if err := o.Input(input.RunID, []byte(input.Body.Data)); err != nil {
			if runNotFoundOrFallback(err) {
				return nil, huma.Error404NotFound("not-found: run " + input.RunID)
			}
			return nil, huma.Error500InternalServerError("write-failed: " + err.Error())
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-run",
		Method:      http.MethodDelete,
		Path:        "/runs/{runId}",
		Summary:     "Gracefully stop a Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *RunIDInput) (*OkOutput, error) {
		return s.terminateWithFallback(ctx, input.RunID, o.Stop)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "kill-run",
		Method:      http.MethodPost,
		Path:        "/runs/{runId}/kill",
		Summary:     "Immediately kill a Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *RunIDInput) (*OkOutput, error) {
		return s.terminateWithFallback(ctx, input.RunID, o.Kill)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "close-run",
		Method:      http.MethodPost,
		Path:        "/runs/{runId}/close",
		Summary:     "Unconditionally tear down a Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *RunIDInput) (*OkOutput, error) {
		return s.terminateWithFallback(ctx, input.RunID, o.Close)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-all-runs",
		Method:      http.MethodPost,
		Path:        "/runs/stop-all",
		Summary:     "Gracefully stop every Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *BulkOpInput) (*OkOutput, error) {
		if err := o.StopAll(ctx, input.IncludeWarm); err != nil {
			return nil, runtimeError("stop all", err)
		}
		resp := &OkOutput{}
		resp.Body.OK = true
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "kill-all-runs",
		Method:      http.MethodPost,
		Path:        "/runs/kill-all",
		Summary:     "Immediately kill every Run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *BulkOpInput) (*OkOutput, error) {
		if err := o.KillAll(ctx, input.IncludeWarm); err != nil {
			return nil, runtimeError("kill all", err)
		}
		resp := &OkOutput{}
		resp.Body.OK = true
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "run-artifacts",
		Method:      http.MethodGet,
		Path:        "/runs/{runId}/artifacts",
		Summary:     "Artifacts referenced in a Run's output",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *RunIDInput) (*RunArtifactsOutput, error) {
		run, ok := o.Meta(input.RunID)
		if !ok {
			return nil, huma.Error404NotFound("not-found: run " + input.RunID)
		}

		events, err := orchestrator.ScanTranscript(run.TranscriptPath, run.ID, run.Engine, run.Workspace)
		if err != nil {
			// Artifact scanning failures are silently dropped per the error
			// taxonomy; an empty result is still a valid response.
			events = nil
		}

		resp := &RunArtifactsOutput{}
		resp.Body.Transcripts = []string{run.TranscriptPath}
		seen := make(map[string]bool)
		for _, evt := range events {
			if evt.Kind != artifact.KindFile || seen[evt.Value] {
				continue
			}
			seen[evt.Value] = true
			resp.Body.RecentFiles = append(resp.Body.RecentFiles, evt.Value)
		}
		return resp, nil
	})
}

// terminateWithFallback runs op(ctx, runID) and, on ErrRunNotFound, attempts
// the label-based fallback cleanup the §7 error taxonomy requires.
func (s *Server) terminateWithFallback(ctx context.Context, runID string, op func(context.Context, string) error) (*OkOutput, error) {
	err := op(ctx, runID)
	if err == nil {
		resp := &OkOutput{}
		resp.Body.OK = true
		return resp, nil
	}
	if !runNotFoundOrFallback(err) {
		return nil, runtimeError("terminate run", err)
	}

	removed, ferr := s.deps.Orchestrator.FallbackCleanup(ctx, runID)
	if ferr != nil {
		return nil, runtimeError("fallback cleanup", ferr)
	}
	if !removed {
		return nil, huma.Error404NotFound("not-found: run " + runID)
	}

	resp := &OkOutput{}
	resp.Body.OK = true
	resp.Body.Fallback = true
	return resp, nil
}
