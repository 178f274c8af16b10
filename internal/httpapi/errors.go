package httpapi

import (
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/orchestrator"
	"github.com/cliboard/cliboard/pkg/pathguard"
)

// parseEngine validates a raw engine string against the closed enumeration,
// returning the `invalid-engine` 400 the error taxonomy specifies.
func parseEngine(raw string) (engine.Engine, error) {
	eng, err := engine.Parse(raw)
	if err != nil {
		return "", huma.Error400BadRequest("invalid-engine: " + err.Error())
	}
	return eng, nil
}

// guardPath runs g.Validate and maps its failure modes onto the
// `invalid-path` / `path-not-allowed` 400s.
func guardPath(g *pathguard.Guard, raw string) (string, error) {
	if raw == "" {
		return "", huma.Error400BadRequest("invalid-path: path must not be empty")
	}
	clean, err := g.Validate(raw)
	if err != nil {
		var outside *pathguard.ErrOutsideAllowList
		if errors.As(err, &outside) {
			return "", huma.Error400BadRequest("path-not-allowed: " + err.Error())
		}
		return "", huma.Error400BadRequest("invalid-path: " + err.Error())
	}
	return clean, nil
}

// runNotFoundOrFallback reports whether err means the Run is absent from the
// registry. stop/kill/close then go on to terminateWithFallback, which
// tears down any container still found by runId label; the function itself
// performs no cleanup.
func runNotFoundOrFallback(err error) bool {
	return errors.Is(err, orchestrator.ErrRunNotFound)
}

func runtimeError(op string, err error) error {
	return huma.Error500InternalServerError(fmt.Sprintf("runtime-error: %s: %v", op, err))
}
