// Package main provides the API server entry point
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chicogong/slot-compositor/pkg/api"
	"github.com/chicogong/slot-compositor/pkg/auth"
	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/config"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/prober"
	"github.com/chicogong/slot-compositor/pkg/storage"
	"github.com/chicogong/slot-compositor/pkg/store"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	dotenvPath = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath, *dotenvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var s3 *storage.S3Storage
	if cfg.Storage.Primary == "s3" {
		var err error
		s3, err = storage.NewS3Storage(ctx, storage.S3Options{
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			PathStyle:     cfg.Storage.PathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return err
		}
		logger.Info("s3 storage enabled", zap.String("bucket", cfg.Storage.Bucket), zap.String("region", cfg.Storage.Region))
	}
	sm := executor.NewStorageManager(s3)

	var probeOpts []prober.ProberOption
	if cfg.Executor.FFprobePath != "" {
		probeOpts = append(probeOpts, prober.WithFFprobePath(cfg.Executor.FFprobePath))
	}

	exec := executor.NewExecutor(cfg.ExecutorLimits(), sm, logger.Named("executor"))
	comp := compositor.New(cfg.CompositorConfig(), exec, sm, prober.NewProber(probeOpts...), logger.Named("compositor"))

	s := store.NewMemoryStore()
	server := api.NewServer(s, comp, sm, api.Options{
		MaxDuration: cfg.Executor.MaxDuration.Duration,
		ScratchRoot: cfg.Executor.ScratchRoot,
	}, logger.Named("api"))
	defer server.Close()

	authn, err := newAuth(cfg, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(authn, logger.Named("http")),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", addr),
			zap.Bool("auth", authn != nil),
			zap.String("output_format", cfg.Compositor.OutputFormat))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// newAuth returns nil when authentication is disabled
func newAuth(cfg *config.Config, logger *zap.Logger) (*auth.AuthMiddleware, error) {
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled")
		return nil, nil
	}

	keys := auth.NewAPIKeyManager()
	for i, key := range cfg.Auth.APIKeys {
		if err := keys.Register(key, fmt.Sprintf("static-%d", i), auth.RoleKiosk); err != nil {
			return nil, fmt.Errorf("api key %d: %w", i, err)
		}
	}
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	return auth.NewAuthMiddleware(jwtManager, keys, false), nil
}
