package tractus_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/synoptiq/go-tractus"
)

var (
	stepSplit = tractus.Step{ID: "sp1", Type: tractus.StepSplit, Name: "splitter", Flow: "f1"}
	stepLink  = tractus.Step{ID: "lk1", Type: tractus.StepLink, Name: "loop", Flow: "f1"}
)

// TestOnReceiveStampsRootID verifies that a message entering a splitting step
// inherits its own id as the shared root id, and that an existing root id is
// never overwritten.
func TestOnReceiveStampsRootID(t *testing.T) {
	_, provider := createTestTracer()
	tracker := tractus.NewTracker(tractus.WithTracerProvider(provider))
	ctx := context.Background()

	msg := tractus.NewMessage(nil)
	msg.ID = "m1"
	tracker.OnReceive(ctx, tractus.Event{Msg: msg, Source: stepIngress, Dest: stepSplit})
	if msg.RootID != "m1" {
		t.Errorf("expected root id m1, got %q", msg.RootID)
	}

	// A fragment re-entering another splitter keeps its inherited root.
	frag := tractus.NewMessage(nil)
	frag.ID = "m1-frag"
	frag.RootID = "m1"
	tracker.OnReceive(ctx, tractus.Event{Msg: frag, Source: stepSplit, Dest: stepSplit})
	if frag.RootID != "m1" {
		t.Errorf("existing root id must be preserved, got %q", frag.RootID)
	}

	// Non-splitting destinations never stamp.
	plain := tractus.NewMessage(nil)
	tracker.OnReceive(ctx, tractus.Event{Msg: plain, Source: stepIngress, Dest: stepLookup})
	if plain.RootID != "" {
		t.Errorf("non-splitting step must not stamp a root id, got %q", plain.RootID)
	}
}

// TestOnSendBatch verifies one span per emitted event, with ignored types
// tracked silently.
func TestOnSendBatch(t *testing.T) {
	recorder, provider := createTestTracer()
	tracker := tractus.NewTracker(
		tractus.WithTracerProvider(provider),
		tractus.WithIgnoredTypes(tractus.StepLink),
	)
	ctx := context.Background()

	msg := tractus.NewMessage(nil)
	tracker.OnSend(ctx, []tractus.Event{
		{Msg: msg, Source: stepIngress, Dest: stepLookup},
		{Msg: msg, Source: stepLink, Dest: stepLookup},
		{Msg: nil, Source: stepIngress, Dest: stepLookup}, // tolerated
	})

	reg := tracker.Registry()
	if got := reg.ChildCount(msg.Identity()); got != 2 {
		t.Fatalf("expected 2 tracked steps, got %d", got)
	}

	tracker.Complete(ctx, msg, nil, stepIngress)
	tracker.Complete(ctx, msg, nil, stepLink)

	if got := reg.Len(); got != 0 {
		t.Fatalf("journey should complete, got %d entries", got)
	}
	if findSpanByName(recorder.Ended(), "loop") != nil {
		t.Error("ignored step type must not produce a real span")
	}
	if findSpanByName(recorder.Ended(), "ingress") == nil {
		t.Error("regular step span missing")
	}
}

// TestPreDeliverInjectsForAllowedTypes verifies context injection respects
// the destination allow-list and writes the live span context.
func TestPreDeliverInjectsForAllowedTypes(t *testing.T) {
	_, provider := createTestTracer()
	tracker := tractus.NewTracker(
		tractus.WithTracerProvider(provider),
		tractus.WithPropagateTypes(tractus.StepHTTPRequest),
	)
	ctx := context.Background()

	msg := newHTTPMessage(nil)
	tracker.OnSend(ctx, []tractus.Event{{Msg: msg, Source: stepIngress, Dest: stepLookup}})

	// Destination type is allow-listed: traceparent appears on the carrier.
	tracker.PreDeliver(ctx, tractus.Event{Msg: msg, Source: stepIngress, Dest: stepLookup})
	traceparent := msg.Headers.Get("traceparent")
	if traceparent == "" {
		t.Fatal("expected traceparent to be injected for an allow-listed destination")
	}

	// The injected context belongs to the tracked step span.
	extracted := propagation.TraceContext{}.Extract(context.Background(), propagation.HeaderCarrier(msg.Headers))
	if !oteltrace.SpanContextFromContext(extracted).IsValid() {
		t.Fatalf("injected context does not parse: %q", traceparent)
	}

	// A destination off the list gets nothing.
	other := newHTTPMessage(nil)
	tracker.OnSend(ctx, []tractus.Event{{Msg: other, Source: stepIngress, Dest: stepSwitch}})
	tracker.PreDeliver(ctx, tractus.Event{Msg: other, Source: stepIngress, Dest: stepSwitch})
	if got := other.Headers.Get("traceparent"); got != "" {
		t.Errorf("unexpected injection for non-listed destination: %q", got)
	}

	// An untracked message is a silent no-op.
	stranger := newHTTPMessage(nil)
	tracker.PreDeliver(ctx, tractus.Event{Msg: stranger, Source: stepIngress, Dest: stepLookup})
	if got := stranger.Headers.Get("traceparent"); got != "" {
		t.Errorf("unexpected injection for untracked message: %q", got)
	}
}

// TestPostDeliverClearsCarriers verifies propagated fields are stripped after
// the handoff.
func TestPostDeliverClearsCarriers(t *testing.T) {
	_, provider := createTestTracer()
	tracker := tractus.NewTracker(
		tractus.WithTracerProvider(provider),
		tractus.WithPropagateTypes(tractus.StepHTTPRequest),
	)
	ctx := context.Background()

	msg := newHTTPMessage(nil)
	msg.Headers.Set("x-api-key", "keep-me")
	tracker.OnSend(ctx, []tractus.Event{{Msg: msg, Source: stepIngress, Dest: stepLookup}})
	tracker.PreDeliver(ctx, tractus.Event{Msg: msg, Source: stepIngress, Dest: stepLookup})
	if msg.Headers.Get("traceparent") == "" {
		t.Fatal("test setup: injection did not happen")
	}

	tracker.PostDeliver(ctx, tractus.Event{Msg: msg, Source: stepIngress, Dest: stepLookup})
	if got := msg.Headers.Get("traceparent"); got != "" {
		t.Errorf("traceparent should be stripped, got %q", got)
	}
	if got := msg.Headers.Get("x-api-key"); got != "keep-me" {
		t.Errorf("unrelated headers must survive clearing, got %q", got)
	}

	// Safe on a message with no carriers at all.
	tracker.PostDeliver(ctx, tractus.Event{Msg: tractus.NewMessage(nil)})
}

// TestCompleteWithFault verifies the completion hook forwards faults.
func TestCompleteWithFault(t *testing.T) {
	recorder, provider := createTestTracer()
	tracker := tractus.NewTracker(tractus.WithTracerProvider(provider))
	ctx := context.Background()

	msg := tractus.NewMessage(nil)
	tracker.OnSend(ctx, []tractus.Event{{Msg: msg, Source: stepIngress, Dest: stepLookup}})
	tracker.Complete(ctx, msg, errors.New("downstream refused"), stepIngress)

	child := findSpanByName(recorder.Ended(), "ingress")
	if child == nil {
		t.Fatal("step span not recorded")
	}
	if child.Status().Code != codes.Error {
		t.Errorf("expected ERROR status, got %v", child.Status().Code)
	}
}

// TestHooksRecoverFromPanics verifies that a panicking protocol extension
// cannot crash the host's dispatch loop through a hook entry point.
func TestHooksRecoverFromPanics(t *testing.T) {
	variants := tractus.DefaultVariants()
	variants.Register("hostile", tractus.Variant{
		Carrier: func(*tractus.Message, bool) propagation.TextMapCarrier {
			panic("hostile carrier")
		},
	})

	_, provider := createTestTracer()
	tracker := tractus.NewTracker(
		tractus.WithTracerProvider(provider),
		tractus.WithVariants(variants),
		tractus.WithPropagateTypes("hostile"),
	)
	ctx := context.Background()

	hostile := tractus.Step{ID: "h1", Type: "hostile", Name: "hostile"}
	msg := tractus.NewMessage(nil)
	tracker.OnSend(ctx, []tractus.Event{{Msg: msg, Source: stepIngress, Dest: hostile}})

	// The carrier panics during injection; the hook must swallow it.
	tracker.PreDeliver(ctx, tractus.Event{Msg: msg, Source: stepIngress, Dest: hostile})

	// Hooks tolerate nil messages outright.
	tracker.OnReceive(ctx, tractus.Event{})
	tracker.PreDeliver(ctx, tractus.Event{})
	tracker.PostDeliver(ctx, tractus.Event{})
	tracker.Complete(ctx, nil, nil, stepIngress)
}
