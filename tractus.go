package tractus

import (
	"context"
	"net/http"
	"strings"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Starter defines an optional interface for components requiring initialization
// before they begin processing. This is useful for components that need to
// acquire resources (like listeners) or start background tasks.
type Starter interface {
	// Start initializes the component. It may block until initialization is complete.
	// The context can be used for cancellation or timeouts during startup.
	Start(ctx context.Context) error
}

// Stopper defines an optional interface for components requiring graceful shutdown.
// This is useful for components that need to release resources, flush pending
// spans, or stop background tasks.
type Stopper interface {
	// Stop signals the component to shut down gracefully. It may block until
	// shutdown is complete. The context can be used to enforce a timeout or
	// cancellation for the shutdown process itself.
	Stop(ctx context.Context) error
}

// Message is one logical unit of work traversing the host pipeline.
//
// A message carries an intrinsic ID plus, when it was produced by splitting
// another message, the RootID of its ancestor. All fragments of one split
// share the ancestor's identity for span-correlation purposes. The remaining
// fields are the per-protocol trace-context carriers a message may own; any
// of them may be nil when the message never crossed that transport.
type Message struct {
	// ID is the intrinsic per-message id.
	ID string
	// RootID is the inherited correlation id, stamped when a splitting step
	// receives the message. When set it takes precedence over ID.
	RootID string
	// Payload holds the JSON-shaped message body used for attribute extraction.
	Payload any

	// Headers is the HTTP-style carrier (requests and responses).
	Headers http.Header
	// Props is the MQTT v5 user-properties carrier.
	Props paho.UserProperties
	// Fields is the AMQP application-headers carrier.
	Fields amqp.Table
	// Meta is the generic string-pair carrier for transports without a
	// native header concept.
	Meta map[string]string

	// Status is the protocol response status observed after an HTTP-like
	// step completed, if any.
	Status int
}

// NewMessage creates a message with a fresh unique id and the given payload.
func NewMessage(payload any) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Payload: payload,
	}
}

// Identity returns the correlation key for this message: the inherited RootID
// when present, otherwise the intrinsic ID.
func (m *Message) Identity() string {
	if m.RootID != "" {
		return m.RootID
	}
	return m.ID
}

// spanKey uniquely identifies one child span within one message's tree.
func spanKey(identity, stepID string) string {
	return identity + "#" + stepID
}

// Step describes one processing step of the host pipeline.
type Step struct {
	ID       string // unique step id within the pipeline
	Type     string // step-type tag, resolved against the variant table
	Name     string // display name, may be empty
	Flow     string // owning-flow id
	Endpoint string // configured address for connection-oriented steps
}

// Label returns the display name of the step, falling back to its type.
func (s Step) Label() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return s.Type
}

// Event is one hook occurrence delivered by the host pipeline: a message
// crossing from a source step towards a destination step. Depending on the
// hook, only one of the two steps may be meaningful.
type Event struct {
	Msg    *Message
	Source Step
	Dest   Step
}

// TracerProvider is the minimal tracer source used throughout this package.
// It is satisfied by the providers built by ObservabilityFactory and by any
// OpenTelemetry trace.TracerProvider through a thin adapter.
type TracerProvider interface {
	Tracer(name string, options ...trace.TracerOption) trace.Tracer
}

// globalTracerProvider delegates to the process-wide OpenTelemetry provider.
type globalTracerProvider struct{}

func (globalTracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name, options...)
}

// DefaultTracerProvider is the provider used when none is supplied. It
// resolves tracers through the global OpenTelemetry provider, so hosts that
// configure tracing globally get sensible behavior with zero options.
var DefaultTracerProvider TracerProvider = globalTracerProvider{}

// NoopTracerProvider produces tracers that record nothing. It is returned by
// the observability factory when tracing is disabled.
type NoopTracerProvider struct{}

// Tracer returns a no-op tracer.
func (*NoopTracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return noop.NewTracerProvider().Tracer(name, options...)
}

// Shutdown is a no-op; it exists so all factory-built providers share the
// same shutdown surface.
func (*NoopTracerProvider) Shutdown(_ context.Context) error {
	return nil
}

// Ensure NoopTracerProvider implements TracerProvider.
var _ TracerProvider = (*NoopTracerProvider)(nil)

// instrumentationName is the tracer scope name used for all spans started
// by this package.
const instrumentationName = "github.com/synoptiq/go-tractus"
