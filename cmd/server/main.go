// Package main provides the entry point for the ThreatLens server.
// It serves the threat analysis engine over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/api"
	"github.com/lvonguyen/threatlens/internal/api/gateway"
	"github.com/lvonguyen/threatlens/internal/config"
	"github.com/lvonguyen/threatlens/internal/engine"
	"github.com/lvonguyen/threatlens/internal/observability"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ThreatLens %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "threatlens: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	telOpts := cfg.TelemetryOptions()
	if telOpts.ServiceVersion == "" || telOpts.ServiceVersion == "dev" {
		telOpts.ServiceVersion = Version
	}
	tel, err := observability.New(telOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tel.StartSystemMetricsCollector(ctx)

	logger.Info("Starting ThreatLens",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("config", configPath),
	)

	eng, agg, err := engine.FromConfig(cfg, logger, tel.Metrics())
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	logger.Info("Engine ready", zap.Int("connectors", len(agg.Connectors())))

	checks := map[string]api.Check{}
	var limiter *gateway.RateLimiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password(),
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		defer rdb.Close()

		counter := gateway.NewRedisCounter(rdb)
		checks["redis"] = counter.Ping
		limiter = gateway.NewRateLimiter(counter, cfg.RateLimit, logger.Named("ratelimit"), tel.Metrics().ObserveRateLimited)
	} else {
		logger.Info("Redis disabled: rate limiting off")
	}

	srv := api.NewServer(api.Options{
		Analyzer:       eng,
		Connectors:     agg.Connectors(),
		Attack:         eng.Attack(),
		Limiter:        limiter,
		Logger:         logger.Named("http"),
		Metrics:        tel.Metrics(),
		MetricsHandler: tel.MetricsHandler(),
		Tracer:         tel.Tracer(),
		Errors:         tel,
		Checks:         checks,
		AnalyzeTimeout: cfg.Server.AnalyzeTimeout,
		TrustProxy:     cfg.Server.TrustProxy,
		Version:        Version,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
