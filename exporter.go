package tractus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// DefaultInstrumentName is the histogram name used when none is configured.
const DefaultInstrumentName = "http_request_duration_seconds"

// HTTPMetricsExporter serves a Prometheus scrape endpoint and measures HTTP
// traffic through its Middleware: one duration histogram sample per request,
// labeled by method, matched route, status code and client address.
//
// Start returns once the listener is bound, or with an ExporterError when
// binding fails; it never fails later in the background. Stop shuts the
// server down gracefully.
type HTTPMetricsExporter struct {
	port   int
	path   string
	addr   string
	logger *log.Logger

	registry  *prometheus.Registry
	histogram *prometheus.HistogramVec
	router    chi.Router

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// ExporterOption is a function that configures an HTTPMetricsExporter.
type ExporterOption func(*HTTPMetricsExporter)

// WithExporterLogger sets the logger for exporter diagnostics. If nil,
// logging defaults to a logger that discards output.
func WithExporterLogger(logger *log.Logger) ExporterOption {
	return func(e *HTTPMetricsExporter) {
		if logger == nil {
			e.logger = log.New(io.Discard, "", 0)
		} else {
			e.logger = logger
		}
	}
}

// NewHTTPMetricsExporter creates an exporter scraping at path on port. The
// histogram is registered under instrumentName (DefaultInstrumentName when
// blank) with serviceName as a constant label. It panics if instrumentName is
// not a valid Prometheus metric name, mirroring the registry's own contract.
func NewHTTPMetricsExporter(port int, path, instrumentName, serviceName string, options ...ExporterOption) *HTTPMetricsExporter {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if instrumentName == "" {
		instrumentName = DefaultInstrumentName
	}

	registry := prometheus.NewRegistry()
	histogram := promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:        instrumentName,
		Help:        "Duration of handled HTTP requests in seconds",
		ConstLabels: prometheus.Labels{"service": serviceName},
	}, []string{"method", "route", "status_code", "client_address"})

	router := chi.NewRouter()
	router.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	e := &HTTPMetricsExporter{
		port:      port,
		path:      path,
		addr:      fmt.Sprintf(":%d%s", port, path),
		logger:    log.New(io.Discard, "", 0),
		registry:  registry,
		histogram: histogram,
		router:    router,
	}

	// Apply options
	for _, option := range options {
		option(e)
	}

	return e
}

// Start binds the listener and begins serving the scrape endpoint. It
// returns ErrExporterRunning (wrapped) when already started and an
// ExporterError when the port cannot be bound.
func (e *HTTPMetricsExporter) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.srv != nil {
		return NewExporterError("start", e.addr, ErrExporterRunning)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.port))
	if err != nil {
		return NewExporterError("start", e.addr, err)
	}

	srv := &http.Server{
		Handler:           e.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	e.srv = srv
	e.ln = ln

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			e.logger.Printf("tractus: metrics exporter %s: %v", e.addr, serveErr)
		}
	}()
	return nil
}

// Addr returns the bound listener address while the exporter is running,
// nil otherwise. With port 0 this is how callers learn the assigned port.
func (e *HTTPMetricsExporter) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Stop shuts the scrape server down gracefully, honoring ctx for the
// drain deadline. Stopping a never-started exporter is a no-op.
func (e *HTTPMetricsExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	srv := e.srv
	e.srv = nil
	e.ln = nil
	e.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return NewExporterError("stop", e.addr, err)
	}
	return nil
}

// HealthStatus reports nil while the exporter is serving.
func (e *HTTPMetricsExporter) HealthStatus(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.srv == nil {
		return NewExporterError("health", e.addr, ErrExporterNotFound)
	}
	return nil
}

// Registry returns the private registry backing the scrape endpoint, so
// hosts can register their own collectors alongside the request histogram.
func (e *HTTPMetricsExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Middleware measures every request passing through it. Designed for chi's
// Use but compatible with any net/http middleware chain.
func (e *HTTPMetricsExporter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}

		e.histogram.WithLabelValues(
			r.Method,
			route,
			fmt.Sprintf("%d", recorder.status),
			client,
		).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

var (
	_ Starter         = (*HTTPMetricsExporter)(nil)
	_ Stopper         = (*HTTPMetricsExporter)(nil)
	_ HealthCheckable = (*HTTPMetricsExporter)(nil)
)

// ExporterPool manages metrics exporters keyed by port and path, so a host
// can start and stop scrape endpoints by address without holding exporter
// handles itself.
type ExporterPool struct {
	mu        sync.Mutex
	exporters map[string]*HTTPMetricsExporter
	logger    *log.Logger
}

// NewExporterPool creates an empty pool. A nil logger discards diagnostics.
func NewExporterPool(logger *log.Logger) *ExporterPool {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ExporterPool{
		exporters: make(map[string]*HTTPMetricsExporter),
		logger:    logger,
	}
}

// StartExporter creates and starts an exporter for port and path. Requesting
// an address that is already being served returns ErrExporterRunning
// (wrapped); bind failures surface as an ExporterError and leave the pool
// unchanged.
func (p *ExporterPool) StartExporter(ctx context.Context, port int, path, instrumentName, serviceName string) (*HTTPMetricsExporter, error) {
	key := exporterKey(port, path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.exporters[key]; ok {
		return nil, NewExporterError("start", key, ErrExporterRunning)
	}

	exporter := NewHTTPMetricsExporter(port, path, instrumentName, serviceName, WithExporterLogger(p.logger))
	if err := exporter.Start(ctx); err != nil {
		return nil, err
	}
	p.exporters[key] = exporter
	return exporter, nil
}

// StopExporter gracefully stops the exporter serving port and path and
// removes it from the pool. An unknown address returns ErrExporterNotFound
// (wrapped).
func (p *ExporterPool) StopExporter(ctx context.Context, port int, path string) error {
	key := exporterKey(port, path)

	p.mu.Lock()
	exporter, ok := p.exporters[key]
	if ok {
		delete(p.exporters, key)
	}
	p.mu.Unlock()

	if !ok {
		return NewExporterError("stop", key, ErrExporterNotFound)
	}
	return exporter.Stop(ctx)
}

// Exporter returns the running exporter for port and path, if any. Hosts use
// it to reach the Middleware of an exporter started by address.
func (p *ExporterPool) Exporter(port int, path string) (*HTTPMetricsExporter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exporter, ok := p.exporters[exporterKey(port, path)]
	return exporter, ok
}

// Len returns the number of running exporters.
func (p *ExporterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exporters)
}

// Close stops every exporter concurrently and empties the pool, returning
// the first shutdown error encountered.
func (p *ExporterPool) Close(ctx context.Context) error {
	p.mu.Lock()
	exporters := make([]*HTTPMetricsExporter, 0, len(p.exporters))
	for key, exporter := range p.exporters {
		exporters = append(exporters, exporter)
		delete(p.exporters, key)
	}
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, exporter := range exporters {
		g.Go(func() error {
			return exporter.Stop(ctx)
		})
	}
	return g.Wait()
}

func exporterKey(port int, path string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf(":%d%s", port, path)
}
