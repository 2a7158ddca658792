package tractus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObservabilityFactory creates observability components from tracker configuration.
type ObservabilityFactory struct{}

// NewObservabilityFactory creates a new factory for observability components.
func NewObservabilityFactory() *ObservabilityFactory {
	return &ObservabilityFactory{}
}

// CreateTracerProvider creates a TracerProvider for the configured exporter
// protocol. Startup failures (bad endpoint, exporter construction errors)
// surface as a ProviderError so the owning component can report them without
// crashing the host.
func (f *ObservabilityFactory) CreateTracerProvider(ctx context.Context, cfg Config) (TracerProvider, error) {
	switch cfg.Protocol {
	case ProtocolNoop, "":
		return &NoopTracerProvider{}, nil
	case ProtocolGRPC:
		return f.createOTLPGRPCTracerProvider(ctx, cfg)
	case ProtocolHTTP:
		return f.createOTLPHTTPTracerProvider(ctx, cfg)
	case ProtocolZipkin:
		return f.createZipkinTracerProvider(ctx, cfg)
	default:
		return nil, NewProviderError(string(cfg.Protocol), errors.New("unsupported exporter protocol"))
	}
}

func (f *ObservabilityFactory) createOTLPGRPCTracerProvider(ctx context.Context, cfg Config) (TracerProvider, error) {
	if cfg.URL == "" {
		return nil, NewProviderError(string(cfg.Protocol), errors.New("otlp endpoint is required"))
	}

	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(collectorEndpoint(cfg.URL)),
		otlptracegrpc.WithInsecure(), // Use WithTLSCredentials() for secure connections
	)
	if err != nil {
		return nil, NewProviderError(string(cfg.Protocol), fmt.Errorf("failed to create OTLP exporter: %w", err))
	}
	return f.wrapOTLPExporter(ctx, cfg, exporter)
}

func (f *ObservabilityFactory) createOTLPHTTPTracerProvider(ctx context.Context, cfg Config) (TracerProvider, error) {
	if cfg.URL == "" {
		return nil, NewProviderError(string(cfg.Protocol), errors.New("otlp endpoint is required"))
	}

	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(collectorEndpoint(cfg.URL)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, NewProviderError(string(cfg.Protocol), fmt.Errorf("failed to create OTLP exporter: %w", err))
	}
	return f.wrapOTLPExporter(ctx, cfg, exporter)
}

func (f *ObservabilityFactory) wrapOTLPExporter(ctx context.Context, cfg Config, exporter *otlptrace.Exporter) (TracerProvider, error) {
	res, err := f.createResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, NewProviderError(string(cfg.Protocol), err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &OTLPTracerProvider{tp: tp}, nil
}

func (f *ObservabilityFactory) createZipkinTracerProvider(ctx context.Context, cfg Config) (TracerProvider, error) {
	if cfg.URL == "" {
		return nil, NewProviderError(string(cfg.Protocol), errors.New("zipkin endpoint is required"))
	}

	exporter, err := zipkin.New(cfg.URL)
	if err != nil {
		return nil, NewProviderError(string(cfg.Protocol), fmt.Errorf("failed to create Zipkin exporter: %w", err))
	}

	res, err := f.createResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, NewProviderError(string(cfg.Protocol), err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &ZipkinTracerProvider{tp: tp}, nil
}

// createResource builds the resource describing the instrumented service.
func (f *ObservabilityFactory) createResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// collectorEndpoint strips the URL scheme for OTLP transports, which expect a
// bare host:port endpoint.
func collectorEndpoint(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[i+len("://"):]
	}
	return raw
}

// OTLPTracerProvider wraps an SDK tracer provider exporting over OTLP.
type OTLPTracerProvider struct {
	tp *sdktrace.TracerProvider
}

// Tracer returns a tracer from the underlying provider.
func (p *OTLPTracerProvider) Tracer(name string, opts ...otelTrace.TracerOption) otelTrace.Tracer {
	return p.tp.Tracer(name, opts...)
}

// Shutdown flushes batched spans and stops the provider.
func (p *OTLPTracerProvider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ZipkinTracerProvider wraps an SDK tracer provider exporting to Zipkin.
type ZipkinTracerProvider struct {
	tp *sdktrace.TracerProvider
}

// Tracer returns a tracer from the underlying provider.
func (p *ZipkinTracerProvider) Tracer(name string, opts ...otelTrace.TracerOption) otelTrace.Tracer {
	return p.tp.Tracer(name, opts...)
}

// Shutdown flushes batched spans and stops the provider.
func (p *ZipkinTracerProvider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Ensure the concrete providers implement TracerProvider.
var (
	_ TracerProvider = (*OTLPTracerProvider)(nil)
	_ TracerProvider = (*ZipkinTracerProvider)(nil)
)

// LoggingMetricsCollector is a simple implementation that logs metrics to a
// logger. This serves as a development/testing implementation and a format
// example for real implementations.
type LoggingMetricsCollector struct {
	logger *log.Logger
}

// NewLoggingMetricsCollector creates a collector printing every metric event
// to logger. A nil logger discards output.
func NewLoggingMetricsCollector(logger *log.Logger) *LoggingMetricsCollector {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LoggingMetricsCollector{logger: logger}
}

// Ensure LoggingMetricsCollector implements MetricsCollector.
var _ MetricsCollector = (*LoggingMetricsCollector)(nil)

// SpanStarted logs when a step span starts.
func (l *LoggingMetricsCollector) SpanStarted(_ context.Context, stepType string) {
	l.logger.Printf("METRICS: span started (%s)", stepType)
}

// SpanSkipped logs idempotent duplicate creation requests.
func (l *LoggingMetricsCollector) SpanSkipped(_ context.Context, stepType string) {
	l.logger.Printf("METRICS: duplicate span request skipped (%s)", stepType)
}

// SpanEnded logs when a step span completes.
func (l *LoggingMetricsCollector) SpanEnded(_ context.Context, stepType string, duration time.Duration, failed bool) {
	l.logger.Printf("METRICS: span ended (%s) in %v, failed=%t", stepType, duration, failed)
}

// SpansOrphaned logs forced completion of unreachable branch spans.
func (l *LoggingMetricsCollector) SpansOrphaned(_ context.Context, count int) {
	l.logger.Printf("METRICS: %d orphaned spans force-ended", count)
}

// EntryCreated logs allocation of a journey entry.
func (l *LoggingMetricsCollector) EntryCreated(_ context.Context) {
	l.logger.Printf("METRICS: journey entry created")
}

// EntryCompleted logs completion of a journey entry.
func (l *LoggingMetricsCollector) EntryCompleted(_ context.Context, duration time.Duration) {
	l.logger.Printf("METRICS: journey entry completed in %v", duration)
}

// EntriesSwept logs a sweeper pass that reclaimed entries.
func (l *LoggingMetricsCollector) EntriesSwept(_ context.Context, count int) {
	if count > 0 {
		l.logger.Printf("METRICS: %d stale entries swept", count)
	}
}

// RegistrySize logs the tracked-entry count.
func (l *LoggingMetricsCollector) RegistrySize(_ context.Context, size int) {
	l.logger.Printf("METRICS: registry size %d", size)
}

// ContextExtracted logs upstream context extraction.
func (l *LoggingMetricsCollector) ContextExtracted(_ context.Context, stepType string) {
	l.logger.Printf("METRICS: upstream context extracted (%s)", stepType)
}

// ContextInjected logs outbound context injection.
func (l *LoggingMetricsCollector) ContextInjected(_ context.Context, stepType string) {
	l.logger.Printf("METRICS: context injected (%s)", stepType)
}

// CarrierCleared logs carrier clearing.
func (l *LoggingMetricsCollector) CarrierCleared(_ context.Context) {
	l.logger.Printf("METRICS: carriers cleared")
}

// PrometheusMetricsCollector implements MetricsCollector for Prometheus.
type PrometheusMetricsCollector struct {
	registry *prometheus.Registry

	// Pre-defined metrics
	spansStartedCounter     *prometheus.CounterVec
	spansSkippedCounter     *prometheus.CounterVec
	spanDurationHistogram   *prometheus.HistogramVec
	spansOrphanedCounter    prometheus.Counter
	entriesCreatedCounter   prometheus.Counter
	entryDurationHistogram  prometheus.Histogram
	entriesSweptCounter     prometheus.Counter
	registrySizeGauge       prometheus.Gauge
	contextExtractedCounter *prometheus.CounterVec
	contextInjectedCounter  *prometheus.CounterVec
	carriersClearedCounter  prometheus.Counter
}

// NewPrometheusMetricsCollector creates a collector backed by its own private
// registry, exposed through Registry for scraping.
func NewPrometheusMetricsCollector() *PrometheusMetricsCollector {
	collector := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}
	collector.initializePrometheusMetrics()
	return collector
}

// Ensure PrometheusMetricsCollector implements MetricsCollector.
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)

// Registry returns the private registry holding the tracker metrics.
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

// initializePrometheusMetrics creates all the Prometheus metrics.
func (p *PrometheusMetricsCollector) initializePrometheusMetrics() {
	p.spansStartedCounter = promauto.With(p.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "tractus_spans_started_total",
		Help: "Total number of step spans started",
	}, []string{"step_type"})

	p.spansSkippedCounter = promauto.With(p.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "tractus_spans_skipped_total",
		Help: "Total number of duplicate span requests skipped",
	}, []string{"step_type"})

	p.spanDurationHistogram = promauto.With(p.registry).NewHistogramVec(prometheus.HistogramOpts{
		Name: "tractus_span_duration_seconds",
		Help: "Duration of step spans in seconds",
	}, []string{"step_type", "failed"})

	p.spansOrphanedCounter = promauto.With(p.registry).NewCounter(prometheus.CounterOpts{
		Name: "tractus_spans_orphaned_total",
		Help: "Total number of branch spans force-ended by orphan resolution",
	})

	p.entriesCreatedCounter = promauto.With(p.registry).NewCounter(prometheus.CounterOpts{
		Name: "tractus_entries_created_total",
		Help: "Total number of journey entries created",
	})

	p.entryDurationHistogram = promauto.With(p.registry).NewHistogram(prometheus.HistogramOpts{
		Name: "tractus_entry_duration_seconds",
		Help: "Duration of completed message journeys in seconds",
	})

	p.entriesSweptCounter = promauto.With(p.registry).NewCounter(prometheus.CounterOpts{
		Name: "tractus_entries_swept_total",
		Help: "Total number of stale entries reclaimed by the sweeper",
	})

	p.registrySizeGauge = promauto.With(p.registry).NewGauge(prometheus.GaugeOpts{
		Name: "tractus_registry_size",
		Help: "Current number of tracked journey entries",
	})

	p.contextExtractedCounter = promauto.With(p.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "tractus_context_extracted_total",
		Help: "Total number of upstream trace contexts extracted",
	}, []string{"step_type"})

	p.contextInjectedCounter = promauto.With(p.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "tractus_context_injected_total",
		Help: "Total number of trace contexts injected into carriers",
	}, []string{"step_type"})

	p.carriersClearedCounter = promauto.With(p.registry).NewCounter(prometheus.CounterOpts{
		Name: "tractus_carriers_cleared_total",
		Help: "Total number of carrier-clearing passes",
	})
}

// SpanStarted increments the started counter.
func (p *PrometheusMetricsCollector) SpanStarted(_ context.Context, stepType string) {
	p.spansStartedCounter.WithLabelValues(stepType).Inc()
}

// SpanSkipped increments the skipped counter.
func (p *PrometheusMetricsCollector) SpanSkipped(_ context.Context, stepType string) {
	p.spansSkippedCounter.WithLabelValues(stepType).Inc()
}

// SpanEnded records span duration.
func (p *PrometheusMetricsCollector) SpanEnded(_ context.Context, stepType string, duration time.Duration, failed bool) {
	p.spanDurationHistogram.WithLabelValues(stepType, fmt.Sprintf("%t", failed)).Observe(duration.Seconds())
}

// SpansOrphaned adds to the orphaned counter.
func (p *PrometheusMetricsCollector) SpansOrphaned(_ context.Context, count int) {
	p.spansOrphanedCounter.Add(float64(count))
}

// EntryCreated increments the entry counter.
func (p *PrometheusMetricsCollector) EntryCreated(_ context.Context) {
	p.entriesCreatedCounter.Inc()
}

// EntryCompleted records journey duration.
func (p *PrometheusMetricsCollector) EntryCompleted(_ context.Context, duration time.Duration) {
	p.entryDurationHistogram.Observe(duration.Seconds())
}

// EntriesSwept adds to the swept counter.
func (p *PrometheusMetricsCollector) EntriesSwept(_ context.Context, count int) {
	p.entriesSweptCounter.Add(float64(count))
}

// RegistrySize sets the registry size gauge.
func (p *PrometheusMetricsCollector) RegistrySize(_ context.Context, size int) {
	p.registrySizeGauge.Set(float64(size))
}

// ContextExtracted increments the extraction counter.
func (p *PrometheusMetricsCollector) ContextExtracted(_ context.Context, stepType string) {
	p.contextExtractedCounter.WithLabelValues(stepType).Inc()
}

// ContextInjected increments the injection counter.
func (p *PrometheusMetricsCollector) ContextInjected(_ context.Context, stepType string) {
	p.contextInjectedCounter.WithLabelValues(stepType).Inc()
}

// CarrierCleared increments the clearing counter.
func (p *PrometheusMetricsCollector) CarrierCleared(_ context.Context) {
	p.carriersClearedCounter.Inc()
}
