package httpapi

import (
	"context"
	"net/http"
	"os"
	"runtime"

	"github.com/danielgtaylor/huma/v2"
)

// HealthOutput is the response body for GET /health.
type HealthOutput struct {
	Body struct {
		OK    bool `json:"ok"`
		Image string `json:"image"`
		Allow struct {
			Workspaces []string `json:"workspaces"`
			Creds      []string `json:"creds"`
		} `json:"allow"`
	}
}

// WhoamiOutput is the response body for GET /whoami.
type WhoamiOutput struct {
	Body struct {
		UID      int    `json:"uid"`
		GID      int    `json:"gid"`
		Platform string `json:"platform"`
	}
}

func (s *Server) registerHealth() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness and configuration summary",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.OK = true
		resp.Body.Image = s.deps.Image
		resp.Body.Allow.Workspaces = s.deps.WorkspaceGuard.Roots()
		resp.Body.Allow.Creds = s.deps.CredsGuard.Roots()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/whoami",
		Summary:     "Process identity and platform",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*WhoamiOutput, error) {
		resp := &WhoamiOutput{}
		resp.Body.UID = os.Getuid()
		resp.Body.GID = os.Getgid()
		resp.Body.Platform = runtime.GOOS + "/" + runtime.GOARCH
		return resp, nil
	})
}
