package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cliboard/cliboard/pkg/engine"
)

// WarmSummary is one entry of GET /warm.
type WarmSummary struct {
	ContainerID string `json:"containerId"`
	Engine      string `json:"engine"`
	Workspace   string `json:"workspace"`
	Creds       string `json:"creds"`
	ReadOnly    bool   `json:"readOnly"`
	UIDGID      string `json:"uidgid"`
}

// ListWarmOutput is the response for GET /warm.
type ListWarmOutput struct {
	Body struct {
		Containers []WarmSummary `json:"containers"`
	}
}

// EnsureWarmInput is the body for POST /warm/ensure.
type EnsureWarmInput struct {
	Body struct {
		Engine    string `json:"engine"`
		Workspace string `json:"workspace"`
		Creds     string `json:"creds"`
		ReadOnly  bool   `json:"readOnly,omitempty"`
		UIDGID    string `json:"uidgid,omitempty"`
	}
}

// EnsureWarmOutput is the response for POST /warm/ensure.
type EnsureWarmOutput struct {
	Body struct {
		ContainerID string `json:"containerId"`
	}
}

// WarmIDInput is the path-param input for DELETE /warm/{id}.
type WarmIDInput struct {
	ID string `path:"id" doc:"Warm container ID"`
}

func (s *Server) registerWarm() {
	warm := s.deps.WarmPool

	huma.Register(s.api, huma.Operation{
		OperationID: "list-warm",
		Method:      http.MethodGet,
		Path:        "/warm",
		Summary:     "List warm containers",
		Tags:        []string{"Warm"},
	}, func(ctx context.Context, input *struct{}) (*ListWarmOutput, error) {
		containers, err := warm.List(ctx)
		if err != nil {
			return nil, runtimeError("list warm", err)
		}
		resp := &ListWarmOutput{}
		for _, wc := range containers {
			resp.Body.Containers = append(resp.Body.Containers, WarmSummary{
				ContainerID: wc.Ref.ContainerID,
				Engine:      string(wc.Fingerprint.Engine),
				Workspace:   wc.Fingerprint.WorkspacePath,
				Creds:       wc.Fingerprint.CredsPath,
				ReadOnly:    wc.Fingerprint.ReadOnlyRoot,
				UIDGID:      wc.Fingerprint.UIDGID,
			})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "ensure-warm",
		Method:      http.MethodPost,
		Path:        "/warm/ensure",
		Summary:     "Ensure a warm container exists for a mount fingerprint",
		Tags:        []string{"Warm"},
	}, func(ctx context.Context, input *EnsureWarmInput) (*EnsureWarmOutput, error) {
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

		wc, err := warm.Ensure(ctx, engine.MountFingerprint{
			Engine:        eng,
			WorkspacePath: workspace,
			CredsPath:     creds,
			ReadOnlyRoot:  input.Body.ReadOnly,
			UIDGID:        input.Body.UIDGID,
		})
		if err != nil {
			return nil, runtimeError("ensure warm", err)
		}

		resp := &EnsureWarmOutput{}
		resp.Body.ContainerID = wc.Ref.ContainerID
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-warm",
		Method:      http.MethodDelete,
		Path:        "/warm/{id}",
		Summary:     "Stop and remove a warm container",
		Tags:        []string{"Warm"},
	}, func(ctx context.Context, input *WarmIDInput) (*OkOutput, error) {
		containers, err := warm.List(ctx)
		if err != nil {
			return nil, runtimeError("list warm", err)
		}
		for _, wc := range containers {
			if wc.Ref.ContainerID != input.ID {
				continue
			}
			if err := warm.Destroy(ctx, wc.Ref); err != nil {
				return nil, runtimeError("destroy warm", err)
			}
			resp := &OkOutput{}
			resp.Body.OK = true
			return resp, nil
		}
		return nil, huma.Error404NotFound("not-found: warm container " + input.ID)
	})
}
