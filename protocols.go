package tractus

import (
	"net/url"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Step-type tags covered by the built-in variant table. Hosts with their own
// step vocabulary register additional variants on a VariantSet.
const (
	StepHTTPIn       = "http-in"
	StepHTTPRequest  = "http-request"
	StepHTTPResponse = "http-response"
	StepMQTTIn       = "mqtt-in"
	StepMQTTOut      = "mqtt-out"
	StepAMQPIn       = "amqp-in"
	StepAMQPOut      = "amqp-out"
	StepWebsocketIn  = "websocket-in"
	StepWebsocketOut = "websocket-out"
	StepLink         = "link"
	StepSplit        = "split"
	StepJoin         = "join"
	StepSwitch       = "switch"
	StepRoute        = "route"
)

// Variant describes the tracing capabilities of one step type. All fields are
// optional; the zero Variant is a plain internal processing step with no
// carrier and no special lifecycle behavior.
//
// Dispatching on a capability table instead of on type-name conditionals
// keeps protocol support additive: a new transport is one Register call.
type Variant struct {
	// Kind is the span kind recorded for child spans of this step type.
	Kind trace.SpanKind

	// Branching marks step types that emit on at most one of several
	// outputs per invocation. Their sibling spans may never receive an
	// explicit completion and are force-ended once every remaining child
	// of an entry is branching-prone.
	Branching bool

	// Splitting marks step types that fan a message out into fragments.
	// Messages received by such a step are stamped with their identity so
	// all fragments correlate to one journey.
	Splitting bool

	// Carrier locates the step's native trace-context carrier on a
	// message. With create set, a missing carrier is allocated on the
	// message; otherwise nil is returned when the message has none.
	Carrier func(msg *Message, create bool) propagation.TextMapCarrier

	// Endpoint decomposes the step's configured address into attributes
	// for connection-oriented step types.
	Endpoint func(step Step) []attribute.KeyValue

	// Response extracts protocol response data recorded when the step
	// completes, such as an HTTP status code.
	Response func(msg *Message) []attribute.KeyValue
}

// VariantSet is the dispatch table mapping step-type tags to their variants.
// Registration is additive and may replace an existing tag, so hosts can
// re-declare a built-in type with different capabilities (for example to mark
// a custom router as branching-prone).
type VariantSet struct {
	mu       sync.RWMutex
	variants map[string]Variant
}

// NewVariantSet creates an empty variant table.
func NewVariantSet() *VariantSet {
	return &VariantSet{
		variants: make(map[string]Variant),
	}
}

// Register adds or replaces the variant for a step-type tag.
func (vs *VariantSet) Register(stepType string, v Variant) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.variants[stepType] = v
}

// Lookup returns the variant registered for the step-type tag, or the zero
// variant when the tag is unknown.
func (vs *VariantSet) Lookup(stepType string) Variant {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.variants[stepType]
}

// Branching reports whether the step-type tag is registered as branching-prone.
func (vs *VariantSet) Branching(stepType string) bool {
	return vs.Lookup(stepType).Branching
}

// Splitting reports whether the step-type tag is registered as a splitting producer.
func (vs *VariantSet) Splitting(stepType string) bool {
	return vs.Lookup(stepType).Splitting
}

// DefaultVariants builds the variant table for the built-in step vocabulary.
func DefaultVariants() *VariantSet {
	vs := NewVariantSet()

	httpResponse := func(msg *Message) []attribute.KeyValue {
		if msg.Status == 0 {
			return nil
		}
		return []attribute.KeyValue{attribute.Int("http.status_code", msg.Status)}
	}

	vs.Register(StepHTTPIn, Variant{
		Kind:     trace.SpanKindServer,
		Carrier:  headerCarrier,
		Response: httpResponse,
	})
	vs.Register(StepHTTPRequest, Variant{
		Kind:     trace.SpanKindClient,
		Carrier:  headerCarrier,
		Response: httpResponse,
	})
	vs.Register(StepHTTPResponse, Variant{
		Kind:     trace.SpanKindInternal,
		Carrier:  headerCarrier,
		Response: httpResponse,
	})
	vs.Register(StepMQTTIn, Variant{
		Kind:    trace.SpanKindConsumer,
		Carrier: userPropertiesCarrier,
	})
	vs.Register(StepMQTTOut, Variant{
		Kind:    trace.SpanKindProducer,
		Carrier: userPropertiesCarrier,
	})
	vs.Register(StepAMQPIn, Variant{
		Kind:    trace.SpanKindConsumer,
		Carrier: tableCarrier,
	})
	vs.Register(StepAMQPOut, Variant{
		Kind:    trace.SpanKindProducer,
		Carrier: tableCarrier,
	})
	vs.Register(StepWebsocketIn, Variant{
		Kind:     trace.SpanKindServer,
		Endpoint: DecomposeEndpoint,
	})
	vs.Register(StepWebsocketOut, Variant{
		Kind:     trace.SpanKindClient,
		Endpoint: DecomposeEndpoint,
	})
	vs.Register(StepLink, Variant{
		Kind:    trace.SpanKindInternal,
		Carrier: metaCarrier,
	})
	vs.Register(StepSplit, Variant{
		Kind:      trace.SpanKindInternal,
		Splitting: true,
	})
	vs.Register(StepJoin, Variant{
		Kind: trace.SpanKindInternal,
	})
	vs.Register(StepSwitch, Variant{
		Kind:      trace.SpanKindInternal,
		Branching: true,
	})
	vs.Register(StepRoute, Variant{
		Kind:      trace.SpanKindInternal,
		Branching: true,
	})

	return vs
}

// DecomposeEndpoint derives scheme, host, port and path attributes from a
// step's configured address (WebSocket-style steps are configured by full URL
// or by bare path). Decomposition feeds extraction attributes only; it never
// opens a connection.
func DecomposeEndpoint(step Step) []attribute.KeyValue {
	raw := step.Endpoint
	if raw == "" {
		return nil
	}

	// A bare path means the endpoint is served by the host process itself.
	if raw[0] == '/' {
		return []attribute.KeyValue{attribute.String("url.path", raw)}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, 4)
	if u.Scheme != "" {
		attrs = append(attrs, attribute.String("url.scheme", u.Scheme))
	}
	attrs = append(attrs, attribute.String("server.address", u.Hostname()))
	if port := u.Port(); port != "" {
		if n, convErr := strconv.Atoi(port); convErr == nil {
			attrs = append(attrs, attribute.Int("server.port", n))
		}
	} else if n, ok := defaultPort(u.Scheme); ok {
		attrs = append(attrs, attribute.Int("server.port", n))
	}
	if u.Path != "" {
		attrs = append(attrs, attribute.String("url.path", u.Path))
	}
	return attrs
}

// defaultPort returns the conventional port for schemes the websocket steps use.
func defaultPort(scheme string) (int, bool) {
	switch scheme {
	case "ws", "http":
		return 80, true
	case "wss", "https":
		return 443, true
	default:
		return 0, false
	}
}
