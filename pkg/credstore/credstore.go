// Package credstore reads and writes the key/value credentials file inside
// a user's credentials pocket and computes per-engine readiness.
package credstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cliboard/cliboard/pkg/engine"
	"github.com/cliboard/cliboard/pkg/kv"
)

const envFileName = ".env"

// Store reads and writes CredsEnv files and computes readiness, optionally
// backed by a short-TTL cache for readiness lookups.
type Store struct {
	cache    kv.Store
	cacheTTL time.Duration
}

// New builds a Store. cache may be nil, in which case readiness is always
// computed fresh.
func New(cache kv.Store) *Store {
	return &Store{cache: cache, cacheTTL: 30 * time.Second}
}

// ReadEnv parses <credsDir>/.env into a map. A missing file yields an empty
// map, not an error. Lines without "=" are ignored; surrounding single or
// double quotes are stripped with no further unescaping.
func ReadEnv(credsDir string) (map[string]string, error) {
	path := filepath.Join(credsDir, envFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: open %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = unquote(strings.TrimSpace(val))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("credstore: scan %s: %w", path, err)
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// WriteEnv atomically overlays updates on the current file contents and
// rewrites the whole file, creating credsDir if missing. Keys listed in
// deletes are removed from the overlay entirely rather than merely set to
// empty; keys in updates with an empty string value are retained, matching
// the source's overlay semantics.
func WriteEnv(credsDir string, updates map[string]string, deletes []string) (map[string]string, error) {
	if err := os.MkdirAll(credsDir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: mkdir %s: %w", credsDir, err)
	}

	current, err := ReadEnv(credsDir)
	if err != nil {
		return nil, err
	}

	for k, v := range updates {
		current[k] = v
	}
	for _, k := range deletes {
		delete(current, k)
	}

	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, current[k])
	}

	path := filepath.Join(credsDir, envFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return nil, fmt.Errorf("credstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("credstore: rename %s: %w", tmp, err)
	}

	return current, nil
}

// dirNonEmpty reports whether credsDir/name exists and contains at least
// one entry.
func dirNonEmpty(credsDir, name string) bool {
	entries, err := os.ReadDir(filepath.Join(credsDir, name))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// computeReadiness applies the per-engine rules against an already-parsed
// CredsEnv map and the credentials directory's sub-directories. It is pure:
// two calls with unchanged inputs return equal results.
func computeReadiness(eng engine.Engine, credsDir string, env map[string]string) engine.Readiness {
	r := engine.Readiness{Engine: eng}

	has := func(key string) bool {
		v, ok := env[key]
		return ok && v != ""
	}

	switch eng {
	case engine.Codex:
		keyOK := has("OPENAI_API_KEY")
		dirOK := dirNonEmpty(credsDir, "codex")
		r.Ready = keyOK || dirOK
		if keyOK {
			r.Found.Keys = append(r.Found.Keys, "OPENAI_API_KEY")
		}
		if dirOK {
			r.Found.Dirs = append(r.Found.Dirs, "codex")
		}
		if !r.Ready {
			r.Reasons = append(r.Reasons, "OPENAI_API_KEY not set and codex/ is empty")
		}

	case engine.Gemini:
		keyOK := has("GEMINI_API_KEY")
		geminiDirOK := dirNonEmpty(credsDir, "gemini")
		gcloudDirOK := dirNonEmpty(credsDir, "gcloud")
		r.Ready = keyOK || geminiDirOK || gcloudDirOK
		if keyOK {
			r.Found.Keys = append(r.Found.Keys, "GEMINI_API_KEY")
		}
		if geminiDirOK {
			r.Found.Dirs = append(r.Found.Dirs, "gemini")
		}
		if gcloudDirOK {
			r.Found.Dirs = append(r.Found.Dirs, "gcloud")
		}
		if !r.Ready {
			r.Reasons = append(r.Reasons, "GEMINI_API_KEY not set and gemini/, gcloud/ are empty")
		}

	case engine.OpenCode:
		var foundKeys []string
		for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
			if has(k) {
				foundKeys = append(foundKeys, k)
			}
		}
		dirOK := dirNonEmpty(credsDir, "opencode")
		r.Ready = len(foundKeys) > 0 || dirOK
		r.Found.Keys = foundKeys
		if dirOK {
			r.Found.Dirs = append(r.Found.Dirs, "opencode")
		}
		if !r.Ready {
			r.Reasons = append(r.Reasons, "no provider API key set and opencode/ is empty")
		}
	}

	return r
}

func cacheKey(eng engine.Engine, credsDir string) string {
	return fmt.Sprintf("readiness:%s:%s", eng, filepath.Clean(credsDir))
}

// CheckReadiness computes readiness for eng against credsDir, consulting
// and populating the optional cache. With no cache configured this behaves
// exactly like the pure computeReadiness call.
func (s *Store) CheckReadiness(ctx context.Context, eng engine.Engine, credsDir string) (engine.Readiness, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(eng, credsDir)); err == nil {
			if r, ok := decodeReadiness(cached); ok {
				return r, nil
			}
		}
	}

	env, err := ReadEnv(credsDir)
	if err != nil {
		return engine.Readiness{Engine: eng, Reasons: []string{err.Error()}}, err
	}
	r := computeReadiness(eng, credsDir, env)

	if s.cache != nil {
		if enc, ok := encodeReadiness(r); ok {
			_ = s.cache.Set(ctx, cacheKey(eng, credsDir), enc, s.cacheTTL)
		}
	}
	return r, nil
}

// InvalidateReadiness evicts any cached readiness for eng/credsDir. Called
// eagerly after WriteEnv.
func (s *Store) InvalidateReadiness(ctx context.Context, eng engine.Engine, credsDir string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, cacheKey(eng, credsDir))
}
