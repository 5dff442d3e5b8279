// Command supervisor runs the supervisor HTTP service: registry load,
// background health probing, conversation memory, the LLM intent oracle
// with its keyword fallback, the dispatcher, and the HTTP API, wired
// together and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/eduassist/supervisor/internal/config"
	"github.com/eduassist/supervisor/internal/debugstore"
	"github.com/eduassist/supervisor/internal/dispatch"
	"github.com/eduassist/supervisor/internal/health"
	"github.com/eduassist/supervisor/internal/httpapi"
	"github.com/eduassist/supervisor/internal/intent"
	"github.com/eduassist/supervisor/internal/memory"
	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/orchestrator"
	"github.com/eduassist/supervisor/internal/registry"
)

const serviceName = "supervisor"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "supervisor:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := obslog.New(serviceName)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	shutdownTracing, err := setupTracing(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("loading agent registry: %w", err)
	}

	prober := health.New(reg, cfg.ProbeInterval, cfg.ProbeTimeout, logger)

	var store memory.Store
	if cfg.RedisURL != "" {
		redisStore, err := memory.NewRedisStore(cfg.RedisURL, memory.DefaultRedisConfig())
		if err != nil {
			return fmt.Errorf("connecting to redis conversation store: %w", err)
		}
		store = redisStore
		logger.Info("using redis conversation memory", map[string]interface{}{"redis_url": cfg.RedisURL})
	} else {
		store = memory.NewInMemory()
		logger.Info("using in-memory conversation memory (non-durable)", nil)
	}

	var primaryOracle intent.Oracle
	if cfg.OracleAPIKey != "" {
		primaryOracle = intent.NewGeminiClient(cfg.OracleAPIKey, cfg.OracleModel, cfg.OracleBaseURL, cfg.OracleTimeout, logger)
	} else {
		logger.Warn("no oracle API key configured, running on keyword classification only", nil)
		primaryOracle = intent.NewKeywordOracle()
	}
	identifier := intent.New(primaryOracle, intent.NewKeywordOracle(), cfg.ConfidenceRoute, cfg.ConfidenceClarify)

	debug := debugstore.New()
	dispatcher := dispatch.New(reg, prober, debug, logger)
	orch := orchestrator.New(reg, identifier, dispatcher, store, logger,
		orchestrator.WithMaxClarifications(cfg.MaxClarificationAttempts),
		orchestrator.WithHistoryWindow(cfg.HistoryWindow),
	)

	server := httpapi.New(reg, prober, identifier, orch, store, debug, logger, cfg.DebugAuthToken)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go prober.Run(ctx)
	prober.ProbeAll(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // workers may take up to 60s plus one retry
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info("supervisor listening", map[string]interface{}{"port": cfg.Port})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-serveErrs:
		prober.Stop()
		return fmt.Errorf("http server failed: %w", err)
	}

	prober.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http server shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("error shutting down tracing", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// setupTracing builds the span exporter wired to the supervisor's request
// handling: an OTLP/gRPC exporter when a collector endpoint is configured,
// falling back to a pretty-printed stdout exporter for local development.
// Tracing only; the supervisor exports no custom metrics yet.
func setupTracing(otlpEndpoint string) (func(context.Context) error, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", "0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if otlpEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("building otlp grpc exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("building stdout trace exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
