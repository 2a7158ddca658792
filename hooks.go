package tractus

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Host pipeline integration. The four hook methods mirror the events an
// event-driven pipeline fires as a message traverses its steps: OnReceive
// when a step receives a message, OnSend when steps are about to emit,
// PreDeliver/PostDeliver around the handoff to a destination step, and
// Complete when a step finishes processing. All of them are exception-safe:
// a malformed message must never panic out of a hook and corrupt the host's
// dispatch loop.

// OnReceive handles a message entering a step. When the receiving step is a
// splitting producer and the message carries no inherited root id yet, the
// current intrinsic id is stamped as the root id, so every fragment the step
// emits afterwards correlates back to one journey.
func (t *Tracker) OnReceive(ctx context.Context, event Event) {
	defer t.recoverHook("onReceive")
	msg := event.Msg
	if msg == nil {
		return
	}
	if msg.RootID == "" && t.variants.Splitting(event.Dest.Type) {
		msg.RootID = msg.ID
	}
}

// OnSend handles a batch of steps about to emit, starting one step span per
// event for the emitting step. Step types on the ignored list are tracked
// with silent bookkeeping records instead of real spans.
func (t *Tracker) OnSend(ctx context.Context, events []Event) {
	defer t.recoverHook("onSend")
	for _, event := range events {
		if event.Msg == nil {
			continue
		}
		t.CreateSpan(ctx, event.Msg, event.Source, t.ignoredType(event.Source.Type))
	}
}

// PreDeliver fires immediately before a message crosses to a destination
// step. When the destination's type is on the propagation allow-list, the
// message's current trace context is serialized into the destination's
// native carrier so downstream systems continue the same trace.
func (t *Tracker) PreDeliver(ctx context.Context, event Event) {
	defer t.recoverHook("preDeliver")
	msg := event.Msg
	if msg == nil || !t.propagateType(event.Dest.Type) {
		return
	}

	span := t.lookupSpan(msg.Identity(), event.Source.ID)
	if span == nil {
		return
	}
	variant := t.variants.Lookup(event.Dest.Type)
	t.propagator.Inject(trace.ContextWithSpan(ctx, span), msg, variant)
	t.metrics.ContextInjected(ctx, event.Dest.Type)
}

// PostDeliver fires immediately after a message crossed to a destination
// step. It strips all propagated trace fields from the message's carriers so
// stale context cannot leak into the next logical step when the host
// recirculates the message.
func (t *Tracker) PostDeliver(ctx context.Context, event Event) {
	defer t.recoverHook("postDeliver")
	if event.Msg == nil {
		return
	}
	t.propagator.Clear(event.Msg)
	t.metrics.CarrierCleared(ctx)
}

// Complete is the step-completion entry point: a thin exception-safe wrapper
// over EndSpan. fault follows the EndSpan contract.
func (t *Tracker) Complete(ctx context.Context, msg *Message, fault any, step Step) {
	defer t.recoverHook("complete")
	t.EndSpan(ctx, msg, fault, step)
}

// lookupSpan returns the live tracked span for an identity and step, falling
// back to the journey span when the step has no real record of its own, or
// nil when the identity is untracked.
func (t *Tracker) lookupSpan(identity, stepID string) trace.Span {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	entry, ok := t.reg.entries[identity]
	if !ok {
		return nil
	}
	if rec, ok := entry.spans[spanKey(identity, stepID)]; ok && !rec.disabled {
		return rec.span
	}
	return entry.parent
}

func (t *Tracker) recoverHook(hook string) {
	if r := recover(); r != nil {
		t.logf("%s: recovered from panic: %v", hook, r)
	}
}
