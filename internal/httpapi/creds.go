package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cliboard/cliboard/pkg/credstore"
	"github.com/cliboard/cliboard/pkg/engine"
)

// CheckCredsInput is the query input for GET /creds/check.
type CheckCredsInput struct {
	Engine string `query:"engine" doc:"codex, gemini, or opencode"`
	Creds  string `query:"creds" doc:"absolute creds directory"`
}

// CheckCredsOutput is the response for GET /creds/check.
type CheckCredsOutput struct {
	Body struct {
		Engine  string   `json:"engine"`
		Ready   bool     `json:"ready"`
		Reasons []string `json:"reasons,omitempty"`
		Found   struct {
			Keys []string `json:"keys,omitempty"`
			Dirs []string `json:"dirs,omitempty"`
		} `json:"found"`
	}
}

// WriteEnvInput is the body for POST /creds/write-env.
type WriteEnvInput struct {
	Body struct {
		Creds   string            `json:"creds"`
		Updates map[string]string `json:"updates,omitempty"`
		Deletes []string          `json:"deletes,omitempty"`
	}
}

// WriteEnvOutput is the response for POST /creds/write-env.
type WriteEnvOutput struct {
	Body struct {
		Env map[string]string `json:"env"`
	}
}

func (s *Server) registerCreds() {
	huma.Register(s.api, huma.Operation{
		OperationID: "check-creds",
		Method:      http.MethodGet,
		Path:        "/creds/check",
		Summary:     "Check an engine's credential readiness",
		Tags:        []string{"Creds"},
	}, func(ctx context.Context, input *CheckCredsInput) (*CheckCredsOutput, error) {
		eng, err := parseEngine(input.Engine)
		if err != nil {
			return nil, err
		}
		credsDir, err := guardPath(s.deps.CredsGuard, input.Creds)
		if err != nil {
			return nil, err
		}

		readiness, err := s.deps.Creds.CheckReadiness(ctx, eng, credsDir)
		resp := &CheckCredsOutput{}
		resp.Body.Engine = string(readiness.Engine)
		resp.Body.Ready = readiness.Ready
		resp.Body.Reasons = readiness.Reasons
		resp.Body.Found.Keys = readiness.Found.Keys
		resp.Body.Found.Dirs = readiness.Found.Dirs
		if err != nil {
			// readiness-indeterminate: still a 200, reasons explain why.
			resp.Body.Reasons = append(resp.Body.Reasons, "readiness-indeterminate: "+err.Error())
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "write-creds-env",
		Method:      http.MethodPost,
		Path:        "/creds/write-env",
		Summary:     "Persist credential environment overlays to <creds>/.env",
		Tags:        []string{"Creds"},
	}, func(ctx context.Context, input *WriteEnvInput) (*WriteEnvOutput, error) {
		credsDir, err := guardPath(s.deps.CredsGuard, input.Body.Creds)
		if err != nil {
			return nil, err
		}

		env, err := credstore.WriteEnv(credsDir, input.Body.Updates, input.Body.Deletes)
		if err != nil {
			return nil, huma.Error500InternalServerError("write-failed: " + err.Error())
		}

		for _, eng := range []engine.Engine{engine.Codex, engine.Gemini, engine.OpenCode} {
			s.deps.Creds.InvalidateReadiness(ctx, eng, credsDir)
		}

		resp := &WriteEnvOutput{}
		resp.Body.Env = env
		return resp, nil
	})
}
