package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport is the inbound adapter that serves the gateway: the
// traffic-control middleware chain in front of the inner handler, plus the
// health and metrics endpoints.
type HTTPTransport struct {
	server        *http.Server
	addr          string
	inner         http.Handler
	middlewares   []func(http.Handler) http.Handler
	logger        *slog.Logger
	registry      *prometheus.Registry
	healthChecker *HealthChecker
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMiddleware appends middleware to the chain wrapping the inner
// handler. Middleware run in the order given: the first wraps outermost.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(t *HTTPTransport) {
		t.middlewares = append(t.middlewares, mw...)
	}
}

// WithMetricsRegistry sets the Prometheus registry served at /metrics and
// adds the Go runtime collector to it. Registration happens here, once per
// registry, so Handler() stays safe to call repeatedly.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		reg.MustRegister(collectors.NewGoCollector())
		t.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// NewHTTPTransport creates the transport around the inner handler
// (typically the upstream reverse proxy).
func NewHTTPTransport(inner http.Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		addr:   "127.0.0.1:8080",
		inner:  inner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler assembles the full request pipeline.
func (t *HTTPTransport) Handler() http.Handler {
	chained := t.inner
	for i := len(t.middlewares) - 1; i >= 0; i-- {
		chained = t.middlewares[i](chained)
	}

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	}
	if t.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", chained)
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully. It blocks.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		t.logger.Info("http transport listening", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t.logger.Info("http transport shutting down")
		return t.server.Shutdown(shutdownCtx)
	}
}
