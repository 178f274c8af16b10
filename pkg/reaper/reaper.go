// Package reaper periodically sweeps the Run Orchestrator's registry for
// Runs that have gone idle past a configured timeout and stops them.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/cliboard/cliboard/pkg/alog"
	"github.com/cliboard/cliboard/pkg/orchestrator"
)

// DefaultInterval is used when a caller does not configure one.
const DefaultInterval = 30 * time.Second

// Config configures the sweep loop.
type Config struct {
	// Interval is how often to check for idle Runs. Defaults to
	// DefaultInterval.
	Interval time.Duration
	// IdleTimeout is how long a Run may go without Input/output activity
	// before it is stopped. Zero disables idle reaping entirely.
	IdleTimeout time.Duration
}

// Reaper periodically stops Runs that have been idle past Config.IdleTimeout.
type Reaper struct {
	orch *orchestrator.Orchestrator
	cfg  Config
	log  *alog.Logger
}

// New builds a Reaper. A zero IdleTimeout makes Run a permanent no-op,
// matching the IDLE_TIMEOUT_SEC=0 "disabled" setting.
func New(orch *orchestrator.Orchestrator, cfg Config, log *alog.Logger) *Reaper {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	return &Reaper{orch: orch, cfg: cfg, log: log}
}

// Run starts the sweep loop. Blocks until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	if r.cfg.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	if r.log != nil {
		r.log.Info("idle reaper starting", "interval", r.cfg.Interval, "idle_timeout", r.cfg.IdleTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep runs a single pass, stopping every Run whose LastActivity is older
// than IdleTimeout. Stop failures are logged and otherwise ignored — a Run
// that can't be stopped this pass gets another chance next tick.
func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()
	for _, run := range r.orch.List() {
		if now.Sub(run.LastActivity) < r.cfg.IdleTimeout {
			continue
		}
		if r.log != nil {
			r.log.Info("stopping idle run", "run_id", run.ID, "idle_for", now.Sub(run.LastActivity))
		}
		if err := r.orch.Announce(run.ID, "[[AUTO-STOP]] idle timeout exceeded"); err != nil {
			r.logf("idle-stop marker failed for run %s: %v", run.ID, err)
		}
		if err := r.orch.IdleStop(ctx, run.ID); err != nil {
			r.logf("idle-stop failed for run %s: %v", run.ID, err)
		}
	}
}

func (r *Reaper) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Warn(fmt.Sprintf(format, args...))
	}
}
