package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/example/nanoimage/api-go/internal/ai"
	"github.com/example/nanoimage/api-go/internal/blob"
	"github.com/example/nanoimage/api-go/internal/config"
	"github.com/example/nanoimage/api-go/internal/httpapi"
	"github.com/example/nanoimage/api-go/internal/logging"
	"github.com/example/nanoimage/api-go/internal/store"
	"github.com/example/nanoimage/api-go/internal/worker"
)

const drainTimeout = 60 * time.Second

func main() {
	loadDotEnv()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	for _, dir := range []string{"uploads", "results"} {
		if err := os.MkdirAll(filepath.Join(cfg.StorageDir, dir), 0o755); err != nil {
			logger.Fatalf("mkdir storage: %v", err)
		}
	}
	jobStore, err := store.OpenJSONFS(filepath.Join(cfg.StorageDir, "jobs"))
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	blobStore := blob.LocalFS{Root: cfg.StorageDir}

	// Provider credentials are checked per job so a misconfigured service
	// still answers health checks.
	logger.WithFields(logrus.Fields{
		"provider": ai.Describe(cfg.Provider),
		"fallback": cfg.Provider.FallbackToOriginal,
	}).Info("config")

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	factory := func(ctx context.Context) (ai.Provider, error) {
		return ai.New(ctx, cfg.Provider, logger)
	}
	executor := worker.NewExecutor(jobCtx, jobStore, blobStore, factory, cfg.BaseURL, cfg.MaxConcurrentJobs, logger)

	server := httpapi.Server{
		Blobs:          blobStore,
		Jobs:           jobStore,
		Executor:       executor,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("API listening on %s (storage=%s)", cfg.Addr, cfg.StorageDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	// give running jobs a chance to finish before cancelling them
	if !executor.Drain(drainTimeout) {
		logger.Warn("jobs still running after drain timeout, cancelling")
		cancelJobs()
		executor.Wait()
	}
	logger.Info("API stopped")
}

func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
