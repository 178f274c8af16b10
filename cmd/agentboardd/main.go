package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cliboard/cliboard/internal/config"
	"github.com/cliboard/cliboard/internal/httpapi"
	"github.com/cliboard/cliboard/pkg/alog"
	"github.com/cliboard/cliboard/pkg/archive"
	"github.com/cliboard/cliboard/pkg/credstore"
	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/ctrdriver/dockerdriver"
	"github.com/cliboard/cliboard/pkg/ctrdriver/k8sdriver"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/kv"
	"github.com/cliboard/cliboard/pkg/orchestrator"
	"github.com/cliboard/cliboard/pkg/pathguard"
	"github.com/cliboard/cliboard/pkg/reaper"
	"github.com/cliboard/cliboard/pkg/warmpool"
)

const httpTimeout = 15 * time.Second

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	log := alog.NewConsole(alog.ParseLevel(cfg.LogLevel), os.Stdout)
	cfg.Print(func(format string, args ...any) { fmt.Fprintf(os.Stdout, format, args...) })

	driver, err := buildDriver(cfg)
	if err != nil {
		log.Fatalf("failed to initialize container driver: %v", err)
	}

	var cache kv.Store
	if cfg.RedisEnabled() {
		store, err := kv.NewValkeyStore(kv.ValkeyConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer store.Close()
		cache = store
	}

	bus := eventbus.New()
	warm := warmpool.New(driver, cfg.CLIRunnerImage)
	backend := orchestrator.BackendDocker
	if cfg.Driver == "kubernetes" {
		backend = orchestrator.BackendKubernetes
	}
	orch := orchestrator.New(driver, warm, backend, cfg.CLIRunnerImage, bus, log)
	creds := credstore.New(cache)

	if cfg.ArchiveEnabled() {
		store, err := archive.NewS3Store(archive.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("failed to initialize artifact archiver: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatalf("failed to ensure archive bucket: %v", err)
		}
		cancel()

		archiver := archive.NewArchiver(store, log)
		go archiver.Run(context.Background(), bus)
	}

	idleReaper := reaper.New(orch, reaper.Config{
		IdleTimeout: secondsToDuration(cfg.IdleTimeoutSec),
	}, log)

	server := httpapi.New(httpapi.Deps{
		Orchestrator:   orch,
		WarmPool:       warm,
		Bus:            bus,
		Creds:          creds,
		WorkspaceGuard: pathguard.New(cfg.WorkspaceRoots()),
		CredsGuard:     pathguard.New(cfg.CredsRoots()),
		Image:          cfg.CLIRunnerImage,
		Log:            log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go idleReaper.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Router}

	go func() {
		log.Info("control plane starting", "addr", addr, "driver", cfg.Driver, "image", cfg.CLIRunnerImage)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err.Error())
	}
}

func buildDriver(cfg *config.EnvConfig) (ctrdriver.Driver, error) {
	if cfg.Driver == "kubernetes" {
		return k8sdriver.New(cfg.K8sNamespace, cfg.K8sKubeconfig)
	}
	return dockerdriver.New()
}
