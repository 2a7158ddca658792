package tractus

import (
	"context"
	"time"
)

// MetricsCollector defines an interface for collecting metrics about span
// tracking operations. This allows for integration with various monitoring
// systems like Prometheus, StatsD, etc.
type MetricsCollector interface {
	// --- Span lifecycle ---

	// SpanStarted is called when a child span is created for a step.
	SpanStarted(ctx context.Context, stepType string)
	// SpanSkipped is called when a creation request was an idempotent duplicate.
	SpanSkipped(ctx context.Context, stepType string)
	// SpanEnded is called when a child span completes, with its open duration
	// and whether the step reported a failure.
	SpanEnded(ctx context.Context, stepType string, duration time.Duration, failed bool)
	// SpansOrphaned is called when branching-prone sibling spans are force-ended.
	SpansOrphaned(ctx context.Context, count int)

	// --- Entry lifecycle ---

	// EntryCreated is called when a new message entry (parent span) is allocated.
	EntryCreated(ctx context.Context)
	// EntryCompleted is called when an entry's last child completed and the
	// parent span was ended, with the journey duration.
	EntryCompleted(ctx context.Context, duration time.Duration)
	// EntriesSwept is called after a sweep pass, with the number of stale
	// entries reclaimed. Zero-count passes are reported too.
	EntriesSwept(ctx context.Context, count int)
	// RegistrySize reports the number of in-flight entries after a mutation.
	RegistrySize(ctx context.Context, size int)

	// --- Context propagation ---

	// ContextExtracted is called when an upstream trace context was parsed
	// from a message carrier.
	ContextExtracted(ctx context.Context, stepType string)
	// ContextInjected is called when trace context was serialized into a
	// destination carrier.
	ContextInjected(ctx context.Context, stepType string)
	// CarrierCleared is called when propagated fields were stripped before
	// in-process redelivery.
	CarrierCleared(ctx context.Context)
}

// NoopMetricsCollector is a metrics collector that does nothing.
// It's useful as a default when no metrics collection is needed.
type NoopMetricsCollector struct{}

// Ensure NoopMetricsCollector implements MetricsCollector
var _ MetricsCollector = (*NoopMetricsCollector)(nil)

// SpanStarted implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) SpanStarted(_ context.Context, _ string) {}

// SpanSkipped implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) SpanSkipped(_ context.Context, _ string) {}

// SpanEnded implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) SpanEnded(_ context.Context, _ string, _ time.Duration, _ bool) {}

// SpansOrphaned implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) SpansOrphaned(_ context.Context, _ int) {}

// EntryCreated implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) EntryCreated(_ context.Context) {}

// EntryCompleted implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) EntryCompleted(_ context.Context, _ time.Duration) {}

// EntriesSwept implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) EntriesSwept(_ context.Context, _ int) {}

// RegistrySize implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) RegistrySize(_ context.Context, _ int) {}

// ContextExtracted implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) ContextExtracted(_ context.Context, _ string) {}

// ContextInjected implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) ContextInjected(_ context.Context, _ string) {}

// CarrierCleared implements MetricsCollector interface for NoopMetricsCollector.
func (*NoopMetricsCollector) CarrierCleared(_ context.Context) {}

// DefaultMetricsCollector is the default metrics collector used when none is provided.
var DefaultMetricsCollector MetricsCollector = &NoopMetricsCollector{}
