package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flux-gate/fluxgate/internal/adapter/inbound/http"
	"github.com/flux-gate/fluxgate/internal/adapter/outbound/cel"
	"github.com/flux-gate/fluxgate/internal/adapter/outbound/memory"
	"github.com/flux-gate/fluxgate/internal/adapter/outbound/redis"
	"github.com/flux-gate/fluxgate/internal/adapter/outbound/sqlite"
	"github.com/flux-gate/fluxgate/internal/config"
	"github.com/flux-gate/fluxgate/internal/domain/admission"
	"github.com/flux-gate/fluxgate/internal/domain/bucket"
	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy server",
	Long: `Start the fluxgate proxy server.

Requests are admitted through the configured token-bucket policies, guarded
by the idempotency-key cache, and forwarded to the upstream service.

Examples:
  # Start with config file settings
  fluxgate start

  # Start with a specific config file
  fluxgate --config /path/to/config.yaml start

  # Start in development mode (debug logging, permissive default policy)
  fluxgate start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, permissive default policy)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration without validation, so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}

	// Create signal context for graceful shutdown. stop() restores default
	// signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("fluxgate stopped")
	return nil
}

// run wires the store, the admission limiter, the middleware chain, and the
// reverse proxy together, then serves until the context is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	metrics := http.NewMetrics(registry)

	store, closeStore, err := buildStore(ctx, cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer closeStore()

	compiler, err := cel.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to create expression compiler: %w", err)
	}

	global, err := buildPolicies(cfg.RateLimit.Policies, compiler)
	if err != nil {
		return fmt.Errorf("invalid rate limit policy: %w", err)
	}
	routes := make([]admission.Route, 0, len(cfg.RateLimit.Routes))
	for _, rc := range cfg.RateLimit.Routes {
		policies, err := buildPolicies(rc.Policies, compiler)
		if err != nil {
			return fmt.Errorf("invalid policy on route %s: %w", rc.PathPrefix, err)
		}
		routes = append(routes, admission.Route{
			PathPrefix: rc.PathPrefix,
			Methods:    rc.Methods,
			Policies:   policies,
		})
	}

	limiter, err := admission.New(store, admission.Options{
		Global:       global,
		Routes:       routes,
		StoreTimeout: cfg.StoreTimeout(),
		FailOpen:     cfg.FailOpen(),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create limiter: %w", err)
	}

	target, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	inner := http.NewReverseProxy(target, cfg.UpstreamTimeout(), logger)

	middlewares := []func(stdhttp.Handler) stdhttp.Handler{
		http.RequestIDMiddleware(logger),
	}

	if cfg.Tracing.Enabled {
		shutdown, err := setupTracing(ctx)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer shutdown()
		middlewares = append(middlewares, http.TracingMiddleware())
		logger.Info("tracing enabled")
	}

	middlewares = append(middlewares, http.MetricsMiddleware(metrics))

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.IdentitySecret == "" {
			logger.Warn("rate_limit.identity_secret is empty, identifiers are unkeyed")
		}
		middlewares = append(middlewares, http.RateLimitMiddleware(limiter, http.RateLimitOptions{
			IdentitySecret:  cfg.RateLimit.IdentitySecret,
			BypassTokenHash: cfg.RateLimit.BypassTokenHash,
			Metrics:         metrics,
		}))
	}

	// The idempotency guard sits inside the rate limiter: replayed
	// responses still consume tokens.
	if cfg.Idempotency.Enabled {
		middlewares = append(middlewares, http.IdempotencyMiddleware(store, http.IdempotencyOptions{
			TTL:            cfg.IdempotencyTTL(),
			StoreTimeout:   cfg.StoreTimeout(),
			FailOpen:       cfg.FailOpen(),
			IdentitySecret: cfg.RateLimit.IdentitySecret,
			Metrics:        metrics,
		}))
	}

	transport := http.NewHTTPTransport(inner,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithMiddleware(middlewares...),
		http.WithMetricsRegistry(registry),
		http.WithHealthChecker(http.NewHealthChecker(store, Version)),
	)

	logger.Info("fluxgate starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"upstream", cfg.Upstream.URL,
		"store", cfg.Store.Backend,
		"fail_mode", cfg.Store.FailMode,
		"policies", len(global),
		"routes", len(routes),
		"rate_limit", cfg.RateLimit.Enabled,
		"idempotency", cfg.Idempotency.Enabled,
		"dev_mode", cfg.DevMode,
	)

	return transport.Start(ctx)
}

// buildStore creates the configured store backend. The returned func
// releases backend resources on shutdown.
func buildStore(ctx context.Context, cfg *config.Config, metrics *http.Metrics, logger *slog.Logger) (outbound.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		kv := memory.NewKVStore()
		kv.StartCleanup(ctx)
		go trackStoreSize(ctx, kv, metrics)
		return kv, kv.Stop, nil

	case "redis":
		store := redis.NewStore(redis.Config{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			// Not fatal: the failure policy decides what a down store means.
			logger.Warn("redis unreachable at startup", "addr", cfg.Store.Redis.Addr, "error", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "sqlite":
		store, err := sqlite.NewStore(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// trackStoreSize exports the in-memory key count as a gauge.
func trackStoreSize(ctx context.Context, kv *memory.KVStore, metrics *http.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.StoreKeys.Set(float64(kv.Size()))
		}
	}
}

// buildPolicies converts config policies to domain policies, compiling any
// exemption expressions.
func buildPolicies(configs []config.PolicyConfig, compiler *cel.Compiler) ([]bucket.Policy, error) {
	policies := make([]bucket.Policy, 0, len(configs))
	for _, pc := range configs {
		emitHeaders := true
		if pc.EmitHeaders != nil {
			emitHeaders = *pc.EmitHeaders
		}
		p := bucket.Policy{
			Name:                pc.Name,
			Capacity:            pc.Capacity,
			RefillRate:          pc.RefillRate,
			Priority:            pc.Priority,
			EmitHeaders:         emitHeaders,
			EmitHeadersOnReject: pc.EmitHeadersOnReject,
		}
		if pc.Exempt != "" {
			exempt, err := compiler.CompileExempt(pc.Exempt)
			if err != nil {
				return nil, fmt.Errorf("policy %q: %w", pc.Name, err)
			}
			p.Exempt = exempt
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// setupTracing installs a stdout span exporter and returns a shutdown func.
func setupTracing(ctx context.Context) (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "fluxgate"),
			attribute.String("service.version", Version),
		)),
	)
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
