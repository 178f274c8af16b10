// Package config loads the daemon's environment configuration, following
// the teacher's ValidateEnv shape: godotenv in development, envconfig
// processing, then a handful of manual cross-field checks.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvConfig is the full set of environment variables the control plane
// daemon understands.
type EnvConfig struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	BindHost string `envconfig:"BIND_HOST" default:"127.0.0.1"`

	CLIRunnerImage      string `envconfig:"CLI_RUNNER_IMAGE" required:"true"`
	IdleTimeoutSec      int    `envconfig:"IDLE_TIMEOUT_SEC" default:"600"`
	AllowWorkspaceRoots string `envconfig:"ALLOW_WORKSPACE_ROOTS" required:"true"`
	AllowCredsRoots     string `envconfig:"ALLOW_CREDS_ROOTS" required:"true"`

	Driver        string `envconfig:"CLIBOARD_DRIVER" default:"docker"`
	K8sNamespace  string `envconfig:"CLIBOARD_K8S_NAMESPACE" default:"default"`
	K8sKubeconfig string `envconfig:"CLIBOARD_K8S_KUBECONFIG"`

	RedisAddr     string `envconfig:"CLIBOARD_REDIS_ADDR"`
	RedisPassword string `envconfig:"CLIBOARD_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"CLIBOARD_REDIS_DB" default:"0"`

	S3Endpoint  string `envconfig:"CLIBOARD_S3_ENDPOINT"`
	S3AccessKey string `envconfig:"CLIBOARD_S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"CLIBOARD_S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"CLIBOARD_S3_BUCKET"`
	S3UseSSL    bool   `envconfig:"CLIBOARD_S3_USE_SSL" default:"true"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"CLIBOARD_ENV" default:"development"`
}

// WorkspaceRoots splits AllowWorkspaceRoots on commas.
func (c *EnvConfig) WorkspaceRoots() []string {
	return splitCSV(c.AllowWorkspaceRoots)
}

// CredsRoots splits AllowCredsRoots on commas.
func (c *EnvConfig) CredsRoots() []string {
	return splitCSV(c.AllowCredsRoots)
}

// RedisEnabled reports whether the readiness cache should be wired up.
func (c *EnvConfig) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// ArchiveEnabled reports whether the artifact archiver should be wired up.
func (c *EnvConfig) ArchiveEnabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// IsDev reports whether CLIBOARD_ENV requests development mode.
func (c *EnvConfig) IsDev() bool {
	return c.Env == "development"
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads the process environment (optionally seeded from a .env file in
// development) into an EnvConfig and validates cross-field invariants.
func Load() (*EnvConfig, error) {
	if env := os.Getenv("CLIBOARD_ENV"); env == "" || env == "development" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found")
		} else {
			log.Println("loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var errs []string

	if cfg.Driver != "docker" && cfg.Driver != "kubernetes" {
		errs = append(errs, fmt.Sprintf("CLIBOARD_DRIVER must be docker or kubernetes, got %q", cfg.Driver))
	}
	if len(cfg.WorkspaceRoots()) == 0 {
		errs = append(errs, "ALLOW_WORKSPACE_ROOTS must list at least one absolute path")
	}
	if len(cfg.CredsRoots()) == 0 {
		errs = append(errs, "ALLOW_CREDS_ROOTS must list at least one absolute path")
	}
	if cfg.IdleTimeoutSec < 0 {
		errs = append(errs, "IDLE_TIMEOUT_SEC must be >= 0")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return &cfg, nil
}

// Print writes a human-readable, secret-masked summary via fmtr (e.g.
// log.Printf).
func (c *EnvConfig) Print(fmtr func(string, ...any)) {
	fmtr("configuration:\n")
	fmtr("  env=%s log_level=%s\n", c.Env, c.LogLevel)
	fmtr("  listen=%s:%d driver=%s image=%s\n", c.BindHost, c.Port, c.Driver, c.CLIRunnerImage)
	fmtr("  idle_timeout=%ds\n", c.IdleTimeoutSec)
	fmtr("  workspace_roots=%v creds_roots=%v\n", c.WorkspaceRoots(), c.CredsRoots())
	if c.Driver == "kubernetes" {
		fmtr("  k8s_namespace=%s\n", c.K8sNamespace)
	}
	fmtr("  redis=%s\n", boolLabel(c.RedisEnabled()))
	fmtr("  archive=%s\n", boolLabel(c.ArchiveEnabled()))
}

func boolLabel(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// MaskSecret returns a redacted rendering of a secret value for logs.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
