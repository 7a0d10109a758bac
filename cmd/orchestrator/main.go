// Package main is the entry point for the tradeflow orchestrator server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/config"
	"github.com/finlake/tradeflow/internal/idempotency"
	"github.com/finlake/tradeflow/internal/invoker"
	"github.com/finlake/tradeflow/internal/observability"
	"github.com/finlake/tradeflow/internal/orchestrator"
	"github.com/finlake/tradeflow/internal/routing"
	"github.com/finlake/tradeflow/internal/status"
	"github.com/finlake/tradeflow/internal/transport"
	"github.com/finlake/tradeflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "tradeflow-orchestrator", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load signing key material from the environment.
	signingKey := os.Getenv(cfg.Signing.KeyEnv)
	if signingKey == "" {
		logger.Error("signing key not set", zap.String("env", cfg.Signing.KeyEnv))
		return 1
	}
	signer, err := invoker.NewSigner([]byte(signingKey), cfg.Signing.Issuer, cfg.Signing.TokenTTL)
	if err != nil {
		logger.Error("signer initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Initialize stores.
	sessionStore, sessionCloser, err := buildSessionStore(ctx, cfg.StatusStore, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	recordStore, recordCloser, err := buildRecordStore(ctx, cfg.RecordStore, logger)
	if err != nil {
		logger.Error("record store initialization failed", zap.Error(err))
		return 1
	}

	guard, guardCloser, err := buildGuard(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency guard initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Build the signed invoker and resilience wrapper.
	targets, policies := buildTargets(cfg)
	inv, err := invoker.NewSignedInvoker(signer, targets, logger, metrics)
	if err != nil {
		logger.Error("invoker initialization failed", zap.Error(err))
		return 1
	}
	resilience := invoker.NewResilience(policies, logger, metrics)

	// Step 7: Assemble the pipeline.
	writer := status.NewWriter(sessionStore, logger)
	router := routing.NewRouter(
		recordStore,
		cfg.RecordStore.BankTable,
		cfg.RecordStore.CounterpartyTable,
		logger,
		metrics,
	)
	orch := orchestrator.New(cfg, inv, resilience, writer, router, guard, logger, metrics)

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		SigningKeyLoaded: func() bool { return len(signingKey) > 0 },
	}
	if hc, ok := sessionStore.(observability.HealthChecker); ok {
		readinessChecks.SessionStore = hc
	}
	if hc, ok := recordStore.(observability.HealthChecker); ok {
		readinessChecks.RecordStore = hc
	}
	if hc, ok := guard.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyGuard = hc
	}

	httpRouter := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Orchestrator: orch,
		Status:       writer,
		Logger:       logger,
		Metrics:      metrics,
		Readiness:    readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	sweeper := status.NewSweeper(sessionStore, cfg.StatusStore.SweepInterval, logger)
	go sweeper.Run(bgCtx)

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Let in-flight pipeline runs finish.
	if err := orch.Wait(shutdownCtx); err != nil {
		logger.Warn("pipeline drain incomplete", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if sessionCloser != nil {
		sessionCloser()
	}
	if recordCloser != nil {
		recordCloser()
	}
	if guardCloser != nil {
		guardCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildTargets collects the invoker targets and resilience policies for
// every configured stage plus the optional context lookup.
func buildTargets(cfg *config.Config) ([]invoker.Target, map[string]invoker.Policy) {
	targets := make([]invoker.Target, 0, len(cfg.Stages)+1)
	policies := make(map[string]invoker.Policy, len(cfg.Stages)+1)

	for _, name := range model.PipelineStages {
		stage := cfg.Stages[name]
		targets = append(targets, invoker.Target{
			Name:     name,
			Endpoint: stage.Endpoint,
			Timeout:  stage.Timeout,
		})
		policies[name] = invoker.Policy{
			Retry:   stage.Retry,
			Breaker: stage.CircuitBreaker,
		}
	}

	if cfg.ContextLookup.Enabled {
		targets = append(targets, invoker.Target{
			Name:     orchestrator.ContextLookupTarget,
			Endpoint: cfg.ContextLookup.Endpoint,
			Timeout:  cfg.ContextLookup.Timeout,
		})
		policies[orchestrator.ContextLookupTarget] = invoker.Policy{
			Retry:   cfg.ContextLookup.Retry,
			Breaker: cfg.ContextLookup.CircuitBreaker,
		}
	}

	return targets, policies
}

// buildSessionStore creates the session store based on config.
func buildSessionStore(ctx context.Context, cfg config.StatusStoreConfig, logger *zap.Logger) (status.SessionStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return status.NewMemorySessionStore(), nil, nil
	case "postgres":
		pool, err := newPgPool(ctx, cfg.DSNEnv, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		return status.NewPgSessionStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// buildRecordStore creates the record store based on config.
func buildRecordStore(ctx context.Context, cfg config.RecordStoreConfig, logger *zap.Logger) (routing.RecordStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory record store")
		return routing.NewMemoryRecordStore(), nil, nil
	case "postgres":
		pool, err := newPgPool(ctx, cfg.DSNEnv, 0, 0, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("record store: %w", err)
		}
		store := routing.NewPgRecordStore(pool, cfg.BankTable, cfg.CounterpartyTable)
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported record store driver: %q", cfg.Driver)
	}
}

// buildGuard creates the idempotency guard based on config.
func buildGuard(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Guard, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency guard")
		return idempotency.NewMemoryGuard(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency guard: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("idempotency guard: ping: %w", err)
		}
		return idempotency.NewRedisGuard(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Driver)
	}
}

// newPgPool opens and pings a pgx connection pool from a DSN env var.
func newPgPool(ctx context.Context, dsnEnv string, maxConns, minConns int, maxLifetime time.Duration) (*pgxpool.Pool, error) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		return nil, fmt.Errorf("%s environment variable not set", dsnEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		poolCfg.MinConns = int32(minConns)
	}
	if maxLifetime > 0 {
		poolCfg.MaxConnLifetime = maxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
