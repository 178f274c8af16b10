package archive

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/cliboard/cliboard/pkg/alog"
	"github.com/cliboard/cliboard/pkg/artifact"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/pathguard"
)

// Archiver consumes file ArtifactEvents off the Event Bus and best-effort
// uploads the referenced workspace file to object storage. A nil Archiver
// (or a nil Store) is a valid no-op, matching the spec's "absent when S3
// config is absent" requirement.
type Archiver struct {
	store Store
	log   *alog.Logger
}

// NewArchiver wraps store for background archiving. store may be nil, in
// which case Run subscribes but every event is a no-op.
func NewArchiver(store Store, log *alog.Logger) *Archiver {
	return &Archiver{store: store, log: log}
}

// Run subscribes to bus and archives every file ArtifactEvent until ctx is
// canceled. Intended to be started once per process in its own goroutine.
func (a *Archiver) Run(ctx context.Context, bus *eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Artifact == nil || evt.Artifact.Kind != artifact.KindFile {
				continue
			}
			a.archive(ctx, *evt.Artifact)
		}
	}
}

func (a *Archiver) archive(ctx context.Context, evt artifact.Event) {
	if a == nil || a.store == nil {
		return
	}

	rel := strings.TrimPrefix(evt.Value, "/workspace/")
	hostPath, err := pathguard.New([]string{evt.Workspace}).Validate(filepath.Join(evt.Workspace, rel))
	if err != nil {
		a.logf("archive: %s: %v", evt.Value, err)
		return
	}

	f, err := os.Open(hostPath)
	if err != nil {
		a.logf("archive: open %s: %v", hostPath, err)
		return
	}
	defer f.Close()

	key := RunArtifactKey(evt.RunID, rel)
	contentType := mime.TypeByExtension(filepath.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := a.store.Upload(ctx, key, f, contentType, map[string]string{
		"run-id": evt.RunID,
		"engine": string(evt.Engine),
	}); err != nil {
		a.logf("archive: upload %s: %v", key, err)
		return
	}

	if a.log != nil {
		a.log.Info("archived artifact", "run_id", evt.RunID, "key", key)
	}
}

func (a *Archiver) logf(format string, args ...any) {
	if a.log != nil {
		a.log.Warn(fmt.Sprintf(format, args...))
	}
}
