package tractus

import (
	"context"
	"net/http"
	"strings"

	"github.com/eclipse/paho.golang/paho"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
)

// propagatedKeys are the trace-context fields stripped when a message is
// recirculated inside the process: the W3C pair, baggage, and the legacy
// multi-vendor headers downstream systems may still emit.
var propagatedKeys = []string{
	"traceparent",
	"tracestate",
	"baggage",
	"b3",
	"x-b3-traceid",
	"x-b3-spanid",
	"x-b3-parentspanid",
	"x-b3-sampled",
	"x-b3-flags",
	"x-datadog-trace-id",
	"x-datadog-parent-id",
	"x-datadog-sampling-priority",
	"uber-trace-id",
	"x-amzn-trace-id",
	"x-cloud-trace-context",
	"grpc-trace-bin",
}

// isPropagatedKey matches carrier keys case-insensitively against the strip list.
func isPropagatedKey(key string) bool {
	for _, k := range propagatedKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// Propagator moves W3C trace context and baggage between messages and their
// protocol-native carriers. Carrier location is delegated to the step's
// Variant, so adding a transport never touches this type.
type Propagator struct {
	tm propagation.TextMapPropagator
}

// PropagatorOption configures a Propagator.
type PropagatorOption func(*Propagator)

// WithTextMapPropagator replaces the wire format used for extract/inject.
// Defaults to the composite W3C TraceContext + Baggage propagator.
func WithTextMapPropagator(tm propagation.TextMapPropagator) PropagatorOption {
	return func(p *Propagator) {
		if tm != nil {
			p.tm = tm
		}
	}
}

// NewPropagator creates a Propagator with the W3C composite wire format.
func NewPropagator(options ...PropagatorOption) *Propagator {
	p := &Propagator{
		tm: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Extract parses the upstream trace context carried by the message, if the
// variant locates a carrier on it, and returns a context seeded with the
// remote span context and baggage. Messages without a carrier return ctx
// unchanged.
func (p *Propagator) Extract(ctx context.Context, msg *Message, v Variant) context.Context {
	if msg == nil || v.Carrier == nil {
		return ctx
	}
	carrier := v.Carrier(msg, false)
	if carrier == nil {
		return ctx
	}
	return p.tm.Extract(ctx, carrier)
}

// Inject serializes the current trace context into the message's
// protocol-native carrier, allocating the carrier when the message has none.
func (p *Propagator) Inject(ctx context.Context, msg *Message, v Variant) {
	if msg == nil || v.Carrier == nil {
		return
	}
	carrier := v.Carrier(msg, true)
	if carrier == nil {
		return
	}
	p.tm.Inject(ctx, carrier)
}

// Clear strips all propagated trace fields from every carrier present on the
// message, so in-process redelivery cannot leak stale or duplicated context
// into a new logical step. Safe on a message with no carriers at all: the
// generic bag is left initialized and empty, and nothing panics.
func (p *Propagator) Clear(msg *Message) {
	if msg == nil {
		return
	}

	if msg.Meta == nil {
		msg.Meta = make(map[string]string)
	}
	for key := range msg.Meta {
		if isPropagatedKey(key) {
			delete(msg.Meta, key)
		}
	}

	for _, key := range propagatedKeys {
		if msg.Headers != nil {
			msg.Headers.Del(key)
		}
	}

	for key := range msg.Fields {
		if isPropagatedKey(key) {
			delete(msg.Fields, key)
		}
	}

	if len(msg.Props) > 0 {
		kept := msg.Props[:0]
		for _, prop := range msg.Props {
			if !isPropagatedKey(prop.Key) {
				kept = append(kept, prop)
			}
		}
		msg.Props = kept
	}
}

// --- Carrier adapters ---

// headerCarrier locates the HTTP header carrier on a message.
func headerCarrier(msg *Message, create bool) propagation.TextMapCarrier {
	if msg.Headers == nil {
		if !create {
			return nil
		}
		msg.Headers = make(http.Header)
	}
	return propagation.HeaderCarrier(msg.Headers)
}

// metaCarrier locates the generic string-pair carrier on a message.
func metaCarrier(msg *Message, create bool) propagation.TextMapCarrier {
	if msg.Meta == nil {
		if !create {
			return nil
		}
		msg.Meta = make(map[string]string)
	}
	return propagation.MapCarrier(msg.Meta)
}

// tableCarrier locates the AMQP application-headers carrier on a message.
func tableCarrier(msg *Message, create bool) propagation.TextMapCarrier {
	if msg.Fields == nil {
		if !create {
			return nil
		}
		msg.Fields = make(amqp.Table)
	}
	return amqpTableCarrier(msg.Fields)
}

// userPropertiesCarrier locates the MQTT v5 user-properties carrier on a message.
func userPropertiesCarrier(msg *Message, create bool) propagation.TextMapCarrier {
	if msg.Props == nil && !create {
		return nil
	}
	return &pahoPropertiesCarrier{props: &msg.Props}
}

// amqpTableCarrier adapts an amqp.Table to the TextMapCarrier contract.
// Only string-typed table values participate in propagation.
type amqpTableCarrier amqp.Table

// Get returns the string value for the key, or empty when absent or non-string.
func (c amqpTableCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		if s, isStr := v.(string); isStr {
			return s
		}
	}
	return ""
}

// Set stores the value under the key, replacing any previous value.
func (c amqpTableCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the keys present in the table.
func (c amqpTableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Ensure amqpTableCarrier implements TextMapCarrier.
var _ propagation.TextMapCarrier = amqpTableCarrier(nil)

// pahoPropertiesCarrier adapts MQTT v5 user properties to the TextMapCarrier
// contract. It holds a pointer to the message's slice so injection into a
// previously property-less message is visible on the message.
type pahoPropertiesCarrier struct {
	props *paho.UserProperties
}

// Get returns the first value recorded under the key, or empty when absent.
func (c *pahoPropertiesCarrier) Get(key string) string {
	for _, prop := range *c.props {
		if prop.Key == key {
			return prop.Value
		}
	}
	return ""
}

// Set replaces any values recorded under the key with the given value.
func (c *pahoPropertiesCarrier) Set(key, value string) {
	existing := *c.props
	kept := existing[:0]
	for _, prop := range existing {
		if prop.Key != key {
			kept = append(kept, prop)
		}
	}
	*c.props = append(kept, paho.UserProperty{Key: key, Value: value})
}

// Keys lists the property keys present.
func (c *pahoPropertiesCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.props))
	for _, prop := range *c.props {
		keys = append(keys, prop.Key)
	}
	return keys
}

// Ensure pahoPropertiesCarrier implements TextMapCarrier.
var _ propagation.TextMapCarrier = (*pahoPropertiesCarrier)(nil)
