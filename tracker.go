package tractus

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
)

const (
	// DefaultRootPrefix is the span-name prefix for journey (parent) spans.
	DefaultRootPrefix = "msg"
	// DefaultSweepTimeout is the inactivity threshold after which an entry
	// is considered abandoned and reclaimed by the sweeper.
	DefaultSweepTimeout = 30 * time.Second
)

// Tracker is the span lifecycle manager: it owns the registry mapping
// in-flight message identities to their journey and step spans, creates and
// completes those spans as pipeline events arrive, resolves orphaned siblings
// of branching steps, and reclaims abandoned entries on a timer.
//
// One Tracker is constructed per plugin/host instance and torn down with it;
// there is no process-global state.
type Tracker struct {
	reg        *Registry
	provider   TracerProvider
	tracer     trace.Tracer
	propagator *Propagator
	variants   *VariantSet
	mappings   Mappings
	metrics    MetricsCollector
	logger     *log.Logger

	rootPrefix string
	ignored    map[string]struct{}
	propagate  map[string]struct{}

	sweepTimeout  time.Duration
	sweepInterval time.Duration
	sweeper       *Sweeper

	stateMu sync.Mutex
	stopped bool

	missLog rate.Sometimes
}

// TrackerOption is a function that configures a Tracker.
type TrackerOption func(*Tracker)

// WithTracerProvider sets the provider spans are started through.
// If nil is provided, the DefaultTracerProvider (the global OpenTelemetry
// provider) is used. Providers that expose Shutdown are shut down by
// Tracker.Stop.
func WithTracerProvider(provider TracerProvider) TrackerOption {
	return func(t *Tracker) {
		if provider != nil {
			t.provider = provider
		} else {
			t.provider = DefaultTracerProvider // Ensure it's never nil
		}
	}
}

// WithPropagator sets the trace-context propagator used for carrier
// extraction, injection and clearing.
func WithPropagator(p *Propagator) TrackerOption {
	return func(t *Tracker) {
		if p != nil {
			t.propagator = p
		}
	}
}

// WithVariants sets the step-type dispatch table.
func WithVariants(vs *VariantSet) TrackerOption {
	return func(t *Tracker) {
		if vs != nil {
			t.variants = vs
		}
	}
}

// WithAttributeMappings sets the configured attribute mappings, replacing any
// previously set.
func WithAttributeMappings(mappings ...AttributeMapping) TrackerOption {
	return func(t *Tracker) {
		t.mappings = Mappings(mappings)
	}
}

// WithRootPrefix sets the span-name prefix for journey spans.
func WithRootPrefix(prefix string) TrackerOption {
	return func(t *Tracker) {
		t.rootPrefix = prefix
	}
}

// WithIgnoredTypes declares step types excluded from real span creation.
// Ignored steps still participate in lifecycle accounting through silent
// bookkeeping records so sibling and entry-removal invariants hold.
func WithIgnoredTypes(types ...string) TrackerOption {
	return func(t *Tracker) {
		for _, st := range types {
			if st = strings.TrimSpace(st); st != "" {
				t.ignored[st] = struct{}{}
			}
		}
	}
}

// WithPropagateTypes declares destination step types eligible for trace
// context injection on delivery.
func WithPropagateTypes(types ...string) TrackerOption {
	return func(t *Tracker) {
		for _, st := range types {
			if st = strings.TrimSpace(st); st != "" {
				t.propagate[st] = struct{}{}
			}
		}
	}
}

// WithSweepTimeout sets the inactivity threshold for the sweeper. Values
// below zero fall back to the default.
func WithSweepTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d >= 0 {
			t.sweepTimeout = d
		}
	}
}

// WithSweepInterval sets how often the sweeper runs. If unset or zero the
// interval is derived from the sweep timeout.
func WithSweepInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.sweepInterval = d
		}
	}
}

// WithLogger sets the logger for diagnostic events (correlation misses,
// sweeps, forced shutdown completion). If nil, logging defaults to a logger
// that discards output.
func WithLogger(logger *log.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger == nil {
			t.logger = log.New(io.Discard, "", 0)
		} else {
			t.logger = logger
		}
	}
}

// WithMetricsCollector sets the collector receiving span-tracking metrics.
// If nil is provided, the DefaultMetricsCollector (a no-op collector) is used.
func WithMetricsCollector(collector MetricsCollector) TrackerOption {
	return func(t *Tracker) {
		if collector != nil {
			t.metrics = collector
		} else {
			t.metrics = DefaultMetricsCollector
		}
	}
}

// NewTracker creates a span lifecycle tracker with optional configuration.
func NewTracker(options ...TrackerOption) *Tracker {
	t := &Tracker{
		reg:          NewRegistry(),
		provider:     DefaultTracerProvider,
		propagator:   NewPropagator(),
		variants:     DefaultVariants(),
		metrics:      DefaultMetricsCollector,
		logger:       log.New(io.Discard, "", 0),
		rootPrefix:   DefaultRootPrefix,
		ignored:      make(map[string]struct{}),
		propagate:    make(map[string]struct{}),
		sweepTimeout: DefaultSweepTimeout,
		missLog:      rate.Sometimes{First: 1, Interval: time.Second},
	}

	// Apply options
	for _, option := range options {
		option(t)
	}

	if t.sweepInterval <= 0 {
		t.sweepInterval = deriveSweepInterval(t.sweepTimeout)
	}

	t.tracer = t.provider.Tracer(instrumentationName)
	t.sweeper = NewSweeper(t.sweepInterval, t.DeleteOutdatedSpans, t.logger)

	return t
}

// deriveSweepInterval picks a sweep cadence for a given inactivity threshold:
// half the threshold, clamped to [1s, 30s].
func deriveSweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 2
	if interval < time.Second {
		return time.Second
	}
	if interval > 30*time.Second {
		return 30 * time.Second
	}
	return interval
}

// CreateSpan starts tracking one processing step of a message. It returns the
// span handed to the step and true, or (nil, false) when an identical request
// was already tracked (duplicate invocation of the same step for the same
// message is an idempotent no-op).
//
// The first request for a previously unseen message identity also allocates
// the journey (parent) span, seeded with before-phase extracted attributes
// and, when the step's variant locates a carrier, with the upstream remote
// trace context. With disabled set, no real span is started: a silent
// bookkeeping record enters the registry and the caller receives a separate
// no-op handle, so lifecycle accounting cannot be mutated through it.
func (t *Tracker) CreateSpan(ctx context.Context, msg *Message, step Step, disabled bool) (trace.Span, bool) {
	if msg == nil || t.isStopped() {
		return nil, false
	}

	identity := msg.Identity()
	key := spanKey(identity, step.ID)
	variant := t.variants.Lookup(step.Type)
	before := t.mappings.Resolve(false, msg.Payload, step.Flow, step.Type)

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	entry, ok := t.reg.entries[identity]
	if ok {
		if _, dup := entry.spans[key]; dup {
			t.metrics.SpanSkipped(ctx, step.Type)
			return nil, false
		}
	} else {
		entry = t.startEntry(ctx, msg, step, variant, before, identity)
		t.reg.entries[identity] = entry
		t.metrics.EntryCreated(ctx)
	}

	record := &spanRecord{
		stepID:   step.ID,
		stepType: step.Type,
		disabled: disabled,
		started:  time.Now(),
	}

	var handle trace.Span
	if disabled {
		record.span = newSilentSpan(step.Label(), t.stepAttributes(step, before)...)
		_, handle = noopTracer.Start(ctx, step.Label())
	} else {
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(variant.Kind),
			trace.WithAttributes(t.stepAttributes(step, before)...),
		}
		_, span := t.tracer.Start(trace.ContextWithSpan(ctx, entry.parent), step.Label(), opts...)
		record.span = span
		handle = span
	}

	entry.spans[key] = record
	entry.touch()
	t.metrics.SpanStarted(ctx, step.Type)
	t.metrics.RegistrySize(ctx, len(t.reg.entries))
	return handle, true
}

// stepAttributes assembles the step-identifying tags plus before-phase
// extracted attributes for a child span.
func (t *Tracker) stepAttributes(step Step, extracted []attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(extracted)+3)
	attrs = append(attrs,
		attribute.String("step.id", step.ID),
		attribute.String("step.type", step.Type),
	)
	if step.Flow != "" {
		attrs = append(attrs, attribute.String("step.flow", step.Flow))
	}
	return append(attrs, extracted...)
}

// startEntry allocates the journey span and tracking entry for a new message
// identity. Caller holds the registry lock.
func (t *Tracker) startEntry(
	ctx context.Context,
	msg *Message,
	step Step,
	variant Variant,
	before []attribute.KeyValue,
	identity string,
) *spanEntry {
	parentCtx := ctx
	if variant.Carrier != nil {
		if carrier := variant.Carrier(msg, false); carrier != nil {
			parentCtx = t.propagator.tm.Extract(ctx, carrier)
			t.metrics.ContextExtracted(ctx, step.Type)
		}
	}

	attrs := make([]attribute.KeyValue, 0, len(before)+5)
	attrs = append(attrs, attribute.String("message.id", identity))
	if variant.Endpoint != nil {
		attrs = append(attrs, variant.Endpoint(step)...)
	}
	attrs = append(attrs, before...)

	name := strings.TrimSpace(t.rootPrefix + " " + step.Label())
	_, parent := t.tracer.Start(parentCtx, name, trace.WithAttributes(attrs...))

	now := time.Now()
	return &spanEntry{
		parent:       parent,
		spans:        make(map[string]*spanRecord),
		lastActivity: now,
		started:      now,
	}
}

// EndSpan completes the tracked step span for the message. Unknown identities
// or step keys are tolerated silently: duplicate completions and entries
// already reclaimed are expected in an event-driven host.
//
// fault reports the step outcome: nil means success; an error value is
// recorded as an exception and sets ERROR status on the step span and on the
// journey span; any other non-nil value sets the ERROR statuses without an
// exception record. After removal, siblings that can no longer complete
// (every remaining child belongs to a branching-prone step type) are
// force-ended, and an entry whose child map empties ends its journey span
// and leaves the registry.
func (t *Tracker) EndSpan(ctx context.Context, msg *Message, fault any, step Step) {
	if msg == nil {
		return
	}

	identity := msg.Identity()
	key := spanKey(identity, step.ID)
	variant := t.variants.Lookup(step.Type)
	after := t.mappings.Resolve(true, msg.Payload, step.Flow, step.Type)

	t.reg.mu.Lock()
	entry, ok := t.reg.entries[identity]
	if !ok {
		t.reg.mu.Unlock()
		t.missLog.Do(func() {
			t.logf("end for untracked message %s (step %s)", identity, step.ID)
		})
		return
	}
	record, ok := entry.spans[key]
	if !ok {
		t.reg.mu.Unlock()
		t.missLog.Do(func() {
			t.logf("end for untracked step %s of message %s", step.ID, identity)
		})
		return
	}

	if len(after) > 0 {
		record.span.SetAttributes(after...)
	}
	if variant.Response != nil {
		if resp := variant.Response(msg); len(resp) > 0 {
			record.span.SetAttributes(resp...)
		}
	}

	failed := fault != nil
	if failed {
		desc := describeFault(fault)
		if err := faultError(fault); err != nil {
			record.span.RecordError(err)
		}
		record.span.SetStatus(codes.Error, desc)
		entry.parent.SetStatus(codes.Error, desc)
	}

	record.span.End(trace.WithTimestamp(time.Now()))
	delete(entry.spans, key)
	entry.touch()
	stepDuration := time.Since(record.started)

	// Branching steps emit on at most one output; once a sibling completed,
	// remaining branching-only children can make no further progress.
	orphans := 0
	if len(entry.spans) > 0 && t.onlyBranchingLeft(entry) {
		for k, rec := range entry.spans {
			rec.span.End()
			delete(entry.spans, k)
			orphans++
		}
	}

	entryDone := len(entry.spans) == 0
	var journeyDuration time.Duration
	if entryDone {
		entry.parent.End()
		delete(t.reg.entries, identity)
		journeyDuration = time.Since(entry.started)
	}
	size := len(t.reg.entries)
	t.reg.mu.Unlock()

	t.metrics.SpanEnded(ctx, step.Type, stepDuration, failed)
	if orphans > 0 {
		t.metrics.SpansOrphaned(ctx, orphans)
	}
	if entryDone {
		t.metrics.EntryCompleted(ctx, journeyDuration)
	}
	t.metrics.RegistrySize(ctx, size)
}

// onlyBranchingLeft reports whether every remaining child record of the entry
// belongs to a branching-prone step type. Caller holds the registry lock.
func (t *Tracker) onlyBranchingLeft(entry *spanEntry) bool {
	for _, rec := range entry.spans {
		if !t.variants.Branching(rec.stepType) {
			return false
		}
	}
	return true
}

// faultError returns the fault as an error when it is exception-shaped.
func faultError(fault any) error {
	if err, ok := fault.(error); ok {
		return err
	}
	return nil
}

// describeFault renders a fault value for span status descriptions.
func describeFault(fault any) string {
	if err, ok := fault.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(fault)
}

// DeleteOutdatedSpans force-completes every entry whose last activity is
// older than the sweep timeout: still-open child spans are ended, the journey
// span is ended, and the entry leaves the registry. It returns the number of
// entries reclaimed. Entries within the window are untouched. Invoked by the
// sweeper; hosts may also call it directly.
//
// Force-ended spans complete silently with unset status: an abandoned journey
// is normal pipeline behavior, not a failure signal.
func (t *Tracker) DeleteOutdatedSpans(ctx context.Context) int {
	cutoff := time.Now().Add(-t.sweepTimeout)

	t.reg.mu.Lock()
	var expired []*spanEntry
	for identity, entry := range t.reg.entries {
		if entry.lastActivity.Before(cutoff) {
			expired = append(expired, entry)
			delete(t.reg.entries, identity)
		}
	}
	size := len(t.reg.entries)
	t.reg.mu.Unlock()

	// Span completion happens outside the lock; ends are fire-and-forget
	// against the tracer.
	for _, entry := range expired {
		for _, rec := range entry.spans {
			rec.span.End()
		}
		entry.parent.End()
	}

	if len(expired) > 0 {
		t.logf("swept %d stale entries", len(expired))
		t.metrics.RegistrySize(ctx, size)
	}
	t.metrics.EntriesSwept(ctx, len(expired))
	return len(expired)
}

// drain force-completes every tracked entry regardless of age. Used at
// shutdown so no span is left dangling once the exporter stops.
func (t *Tracker) drain() int {
	t.reg.mu.Lock()
	entries := make([]*spanEntry, 0, len(t.reg.entries))
	for identity, entry := range t.reg.entries {
		entries = append(entries, entry)
		delete(t.reg.entries, identity)
	}
	t.reg.mu.Unlock()

	for _, entry := range entries {
		for _, rec := range entry.spans {
			rec.span.End()
		}
		entry.parent.End()
	}
	return len(entries)
}

// Start launches the background sweeper. Calling Start on a stopped tracker
// returns ErrTrackerStopped.
func (t *Tracker) Start(ctx context.Context) error {
	t.stateMu.Lock()
	if t.stopped {
		t.stateMu.Unlock()
		return ErrTrackerStopped
	}
	t.stateMu.Unlock()
	return t.sweeper.Start(ctx)
}

// Stop tears the tracker down: the sweeper is halted, all still-open entries
// are force-completed (mirroring the sweep), and a provider exposing
// Shutdown is shut down so batched spans flush. Stop is idempotent.
func (t *Tracker) Stop(ctx context.Context) error {
	t.stateMu.Lock()
	if t.stopped {
		t.stateMu.Unlock()
		return nil
	}
	t.stopped = true
	t.stateMu.Unlock()

	if err := t.sweeper.Stop(ctx); err != nil {
		return err
	}
	if n := t.drain(); n > 0 {
		t.logf("force-completed %d entries at shutdown", n)
	}
	if closer, ok := t.provider.(interface{ Shutdown(context.Context) error }); ok {
		if err := closer.Shutdown(ctx); err != nil {
			return fmt.Errorf("tracer provider shutdown: %w", err)
		}
	}
	return nil
}

// Reset discards all registry state without completing spans, for host
// teardown after a flush and for test isolation.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.reg.Reset(ctx)
}

// HealthStatus reports nil while the tracker is usable and ErrTrackerStopped
// after Stop.
func (t *Tracker) HealthStatus(_ context.Context) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.stopped {
		return ErrTrackerStopped
	}
	return nil
}

// Registry exposes the underlying span registry for host lifecycle code and
// tests.
func (t *Tracker) Registry() *Registry {
	return t.reg
}

func (t *Tracker) isStopped() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.stopped
}

func (t *Tracker) ignoredType(stepType string) bool {
	_, ok := t.ignored[stepType]
	return ok
}

func (t *Tracker) propagateType(stepType string) bool {
	_, ok := t.propagate[stepType]
	return ok
}

func (t *Tracker) logf(format string, args ...any) {
	t.logger.Printf("tractus: "+format, args...)
}

// Ensure Tracker implements the lifecycle interfaces.
var (
	_ Starter         = (*Tracker)(nil)
	_ Stopper         = (*Tracker)(nil)
	_ Resettable      = (*Tracker)(nil)
	_ HealthCheckable = (*Tracker)(nil)
)

// noopTracer supplies the detached handles returned for disabled steps.
var noopTracer = noop.NewTracerProvider().Tracer(instrumentationName)

// silentSpan is the bookkeeping record stored for steps whose tracing is
// disabled. It satisfies the span contract and retains attributes so entry
// accounting stays uniform, but records nothing and never reaches a tracer.
type silentSpan struct {
	embedded.Span

	mu    sync.Mutex
	name  string
	attrs []attribute.KeyValue
	ended bool
}

// newSilentSpan creates a silent bookkeeping span.
func newSilentSpan(name string, attrs ...attribute.KeyValue) *silentSpan {
	return &silentSpan{name: name, attrs: attrs}
}

// End marks the record ended. Subsequent calls are no-ops.
func (s *silentSpan) End(_ ...trace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// AddEvent does nothing; silent records keep no event history.
func (s *silentSpan) AddEvent(_ string, _ ...trace.EventOption) {}

// AddLink does nothing.
func (s *silentSpan) AddLink(_ trace.Link) {}

// IsRecording always reports false.
func (s *silentSpan) IsRecording() bool { return false }

// RecordError does nothing.
func (s *silentSpan) RecordError(_ error, _ ...trace.EventOption) {}

// SpanContext returns an empty span context.
func (s *silentSpan) SpanContext() trace.SpanContext { return trace.SpanContext{} }

// SetStatus does nothing.
func (s *silentSpan) SetStatus(_ codes.Code, _ string) {}

// SetName renames the record.
func (s *silentSpan) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// SetAttributes retains attributes for bookkeeping.
func (s *silentSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = append(s.attrs, kv...)
}

// TracerProvider returns a no-op provider.
func (s *silentSpan) TracerProvider() trace.TracerProvider { return noop.NewTracerProvider() }

// Ensure silentSpan implements the span contract.
var _ trace.Span = (*silentSpan)(nil)
