// Command streamd launches the portfolio stream gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"

	"github.com/foliostream/gateway/config"
	"github.com/foliostream/gateway/internal/auth"
	"github.com/foliostream/gateway/internal/infra/persistence/migrations"
	"github.com/foliostream/gateway/internal/infra/persistence/postgres"
	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/portfolio"
	"github.com/foliostream/gateway/internal/quote"
	"github.com/foliostream/gateway/internal/server"
	"github.com/foliostream/gateway/internal/stream"
	"github.com/foliostream/gateway/lib/async"
	"github.com/foliostream/gateway/lib/telemetry"
)

const (
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	poolShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
	bootstrapTimeout         = 30 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	cfg, loadedFromFile, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := observability.NewProductionLogger()
	if err != nil {
		log.Fatalf("initialise logger: %v", err)
	}
	observability.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if !loadedFromFile {
		observability.Log().Info("configuration file not found, using defaults")
	}
	observability.Log().Info("configuration initialised",
		observability.F("env", string(cfg.Environment)),
		observability.F("addr", cfg.Server.Addr))

	_, telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		log.Fatalf("initialise telemetry: %v", err)
	}
	observability.SetMetrics(observability.NewOtelMetrics(otel.Meter("streamd")))

	store, verifier, dbPool, err := buildPersistence(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("initialise persistence: %v", err)
	}
	if dbPool != nil {
		defer dbPool.Close()
	}

	handlers, err := async.NewPool(cfg.Server.HandlerWorkers, cfg.Server.HandlerQueueLen)
	if err != nil {
		log.Fatalf("initialise handler pool: %v", err)
	}

	metrics := observability.NewRuntimeMetrics()
	registry := stream.NewRegistry()
	resolver := stream.NewPortfolioBindingResolver(store)
	dispatcher := stream.NewDispatcher(registry, metrics, 0)
	provider := quote.NewThrottled(
		quote.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.Endpoint, cfg.Provider.Source, cfg.Provider.HTTPTimeout),
		cfg.Provider.RequestsPerMinute,
		cfg.Provider.Burst,
	)
	engine := stream.NewEngine(registry, resolver, dispatcher, provider, metrics)
	fetchLoop := stream.NewFetchLoop(registry, provider, dispatcher, metrics, stream.FetchLoopConfig{
		Interval:        cfg.Fetch.Interval,
		BatchSize:       cfg.Fetch.BatchSize,
		InterBatchDelay: cfg.Fetch.InterBatchDelay,
		BatchTimeout:    cfg.Fetch.BatchTimeout,
	})

	wsServer := server.New(engine, verifier, handlers, server.Options{
		ReadLimitBytes: cfg.Server.ReadLimitBytes,
		SendBufferSize: cfg.Server.SendBufferSize,
		PingInterval:   cfg.Server.PingInterval,
		WriteTimeout:   cfg.Server.WriteTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { fetchLoop.Run(ctx) })
	lifecycle.Go(func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Log().Error("websocket server", observability.F("error", err.Error()))
			cancel()
		}
	})

	observability.Log().Info("stream gateway started",
		observability.F("addr", cfg.Server.Addr),
		observability.F("fetch_interval", cfg.Fetch.Interval.String()))

	<-ctx.Done()
	observability.Log().Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, gracefulShutdownConfig{
		server:            httpServer,
		mainCancel:        cancel,
		lifecycle:         &lifecycle,
		handlers:          handlers,
		telemetryShutdown: telemetryShutdown,
	})

	observability.Log().Info("shutdown completed",
		observability.F("elapsed", time.Since(shutdownStart).String()))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", "Path to gateway configuration file")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildPersistence connects PostgreSQL when a DSN is configured and falls
// back to in-process stubs otherwise, so the gateway stays runnable in local
// development without a database.
func buildPersistence(ctx context.Context, cfg config.DatabaseConfig) (portfolio.Store, auth.TokenVerifier, *pgxpool.Pool, error) {
	if cfg.DSN == "" {
		observability.Log().Warn("no database configured; using static development credentials")
		return portfolio.NewStaticStore(nil), auth.NewStaticVerifier(nil), nil, nil
	}

	bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	if err := migrations.Apply(bootCtx, cfg.DSN); err != nil {
		return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := pgxpool.New(bootCtx, cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(bootCtx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	return postgres.NewPortfolioStore(pool), postgres.NewSessionVerifier(pool), pool, nil
}

type gracefulShutdownConfig struct {
	server            *http.Server
	mainCancel        context.CancelFunc
	lifecycle         *conc.WaitGroup
	handlers          *async.Pool
	telemetryShutdown func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			observability.Log().Warn("shutdown step failed",
				observability.F("step", name),
				observability.F("error", err.Error()))
			return
		}
		observability.Log().Info("shutdown step completed", observability.F("step", name))
	}

	if cfg.server != nil {
		shutdownStep("stopping websocket server", serverShutdownTimeout, cfg.server.Shutdown)
	}

	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.handlers != nil {
		shutdownStep("shutting down handler pool", poolShutdownTimeout, cfg.handlers.Shutdown)
	}

	if cfg.telemetryShutdown != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetryShutdown)
	}
}
