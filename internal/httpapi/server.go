// Package httpapi is the HTTP/Stream Front-End: it translates inbound
// requests into Run Orchestrator, Warm Pool, and Credential Store calls, and
// turns their outputs back into JSON, SSE, and WebSocket frames.
package httpapi

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cliboard/cliboard/pkg/alog"
	"github.com/cliboard/cliboard/pkg/credstore"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/orchestrator"
	"github.com/cliboard/cliboard/pkg/pathguard"
	"github.com/cliboard/cliboard/pkg/warmpool"
)

// Deps are the components the front-end translates requests against. It
// owns none of them — the caller (cmd/agentboardd) wires their lifetimes.
type Deps struct {
	Orchestrator   *orchestrator.Orchestrator
	WarmPool       *warmpool.Manager
	Bus            *eventbus.Bus
	Creds          *credstore.Store
	WorkspaceGuard *pathguard.Guard
	CredsGuard     *pathguard.Guard
	Image          string
	Log            *alog.Logger
}

// Server holds the chi router and huma API built on top of Deps.
type Server struct {
	Router *chi.Mux
	api    huma.API
	deps   Deps
}

// New builds the full HTTP surface: chi mux with logging/recovery
// middleware, a huma-registered JSON API for the structured routes, and raw
// net/http handlers mounted on the same mux for SSE and WebSocket upgrades.
func New(deps Deps) *Server {
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("cliboard control plane", "1.0.0")
	api := humachi.New(router, config)

	s := &Server{Router: router, api: api, deps: deps}
	s.registerHealth()
	s.registerRuns()
	s.registerWarm()
	s.registerCreds()
	s.registerStreams()
	s.registerWebSocket()
	return s
}
