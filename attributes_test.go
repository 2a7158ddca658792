package tractus_test

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/synoptiq/go-tractus"
)

func findKV(attrs []attribute.KeyValue, key string) (attribute.KeyValue, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv, true
		}
	}
	return attribute.KeyValue{}, false
}

// TestResolveUnconfigured verifies the nil-versus-empty distinction: no
// mappings at all yields nil, mappings that all filter out yield an empty
// non-nil slice.
func TestResolveUnconfigured(t *testing.T) {
	var none tractus.Mappings
	if got := none.Resolve(false, map[string]any{"a": 1}, "f1", "http-in"); got != nil {
		t.Errorf("unconfigured extraction must return nil, got %v", got)
	}

	configured := tractus.Mappings{
		{Flow: "other-flow", Key: "a", Path: "a"},
	}
	got := configured.Resolve(false, map[string]any{"a": 1}, "f1", "http-in")
	if got == nil {
		t.Fatal("configured extraction must not return nil")
	}
	if len(got) != 0 {
		t.Errorf("expected no surviving attributes, got %v", got)
	}
}

// TestResolveFilters verifies wildcard and exact matching for flow, step
// type and phase.
func TestResolveFilters(t *testing.T) {
	payload := map[string]any{"a": "x", "b": "y", "c": "z", "d": "w"}
	mappings := tractus.Mappings{
		{Key: "wild", Path: "a"}, // wildcard flow and type
		{Flow: "f1", StepType: "http-in", Key: "exact", Path: "b"},
		{Flow: "f2", Key: "wrong.flow", Path: "c"},
		{StepType: "mqtt-in", Key: "wrong.type", Path: "d"},
		{Flow: "f1", StepType: "http-in", Key: "late", Path: "a", After: true},
	}

	attrs := mappings.Resolve(false, payload, "f1", "http-in")
	if _, ok := findKV(attrs, "wild"); !ok {
		t.Error("wildcard mapping should match")
	}
	if _, ok := findKV(attrs, "exact"); !ok {
		t.Error("exact mapping should match")
	}
	if _, ok := findKV(attrs, "wrong.flow"); ok {
		t.Error("flow mismatch must be filtered")
	}
	if _, ok := findKV(attrs, "wrong.type"); ok {
		t.Error("type mismatch must be filtered")
	}
	if _, ok := findKV(attrs, "late"); ok {
		t.Error("after-phase mapping must not apply before")
	}

	after := mappings.Resolve(true, payload, "f1", "http-in")
	if _, ok := findKV(after, "late"); !ok {
		t.Error("after-phase mapping should apply after")
	}
	if _, ok := findKV(after, "exact"); ok {
		t.Error("before-phase mapping must not apply after")
	}
}

// TestResolveBlankMappings verifies blank keys and blank or whitespace paths
// are tolerated and skipped.
func TestResolveBlankMappings(t *testing.T) {
	mappings := tractus.Mappings{
		{Key: "", Path: "a"},
		{Key: "no.path", Path: ""},
		{Key: "ws.path", Path: "   "},
		{Key: "good", Path: "a"},
	}
	attrs := mappings.Resolve(false, map[string]any{"a": 1}, "", "")
	if len(attrs) != 1 {
		t.Fatalf("expected exactly the one valid mapping, got %v", attrs)
	}
	if _, ok := findKV(attrs, "good"); !ok {
		t.Error("valid mapping missing from result")
	}
}

// TestResolvePathDescent verifies dotted-path resolution and its miss cases.
func TestResolvePathDescent(t *testing.T) {
	payload := map[string]any{
		"order": map[string]any{
			"customer": map[string]string{"id": "c-7"},
			"total":    99.5,
		},
		"flat": "value",
	}
	mappings := tractus.Mappings{
		{Key: "deep", Path: "order.customer.id"},
		{Key: "mid", Path: "order.total"},
		{Key: "top", Path: "flat"},
		{Key: "missing.leaf", Path: "order.nothing"},
		{Key: "missing.branch", Path: "nope.total"},
		{Key: "through.scalar", Path: "flat.deeper"},
		{Key: "object", Path: "order.customer"}, // non-primitive result
	}

	attrs := mappings.Resolve(false, payload, "", "")

	deep, ok := findKV(attrs, "deep")
	if !ok || deep.Value.AsString() != "c-7" {
		t.Errorf("nested string lookup failed: %v", attrs)
	}
	mid, ok := findKV(attrs, "mid")
	if !ok || mid.Value.AsFloat64() != 99.5 {
		t.Errorf("nested float lookup failed: %v", attrs)
	}
	if _, ok := findKV(attrs, "top"); !ok {
		t.Error("top-level lookup failed")
	}
	for _, key := range []string{"missing.leaf", "missing.branch", "through.scalar", "object"} {
		if _, ok := findKV(attrs, key); ok {
			t.Errorf("mapping %q should have been dropped", key)
		}
	}
}

// TestResolveScalarKinds verifies supported value kinds and the exclusion of
// everything else.
func TestResolveScalarKinds(t *testing.T) {
	payload := map[string]any{
		"s":    "str",
		"b":    true,
		"i":    42,
		"i64":  int64(43),
		"u":    uint16(44),
		"f":    1.5,
		"f32":  float32(2.5),
		"nil":  nil,
		"func": func() {},
	}
	mappings := tractus.Mappings{
		{Key: "s", Path: "s"},
		{Key: "b", Path: "b"},
		{Key: "i", Path: "i"},
		{Key: "i64", Path: "i64"},
		{Key: "u", Path: "u"},
		{Key: "f", Path: "f"},
		{Key: "f32", Path: "f32"},
		{Key: "nil", Path: "nil"},
		{Key: "func", Path: "func"},
	}

	attrs := mappings.Resolve(false, payload, "", "")

	if kv, ok := findKV(attrs, "s"); !ok || kv.Value.AsString() != "str" {
		t.Errorf("string scalar failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "b"); !ok || !kv.Value.AsBool() {
		t.Errorf("bool scalar failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "i"); !ok || kv.Value.AsInt64() != 42 {
		t.Errorf("int scalar failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "i64"); !ok || kv.Value.AsInt64() != 43 {
		t.Errorf("int64 scalar failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "u"); !ok || kv.Value.AsInt64() != 44 {
		t.Errorf("unsigned scalar failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "f"); !ok || kv.Value.AsFloat64() != 1.5 {
		t.Errorf("float scalar failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "f32"); !ok || kv.Value.AsFloat64() != 2.5 {
		t.Errorf("float32 scalar failed: %v", attrs)
	}
	if _, ok := findKV(attrs, "nil"); ok {
		t.Error("nil value must be dropped")
	}
	if _, ok := findKV(attrs, "func"); ok {
		t.Error("non-scalar value must be dropped")
	}
}

// TestResolveArrays verifies scalar-array promotion rules.
func TestResolveArrays(t *testing.T) {
	payload := map[string]any{
		"strs":     []string{"a", "b"},
		"ints":     []int{1, 2},
		"floats":   []float64{1.5, 2.5},
		"bools":    []bool{true, false},
		"anyInt":   []any{1, 2, 3},
		"mixedNum": []any{1, 2.5},
		"mixedBad": []any{1, "two"},
		"nested":   []any{[]any{1}},
	}
	mappings := tractus.Mappings{
		{Key: "strs", Path: "strs"},
		{Key: "ints", Path: "ints"},
		{Key: "floats", Path: "floats"},
		{Key: "bools", Path: "bools"},
		{Key: "anyInt", Path: "anyInt"},
		{Key: "mixedNum", Path: "mixedNum"},
		{Key: "mixedBad", Path: "mixedBad"},
		{Key: "nested", Path: "nested"},
	}

	attrs := mappings.Resolve(false, payload, "", "")

	if kv, ok := findKV(attrs, "strs"); !ok || kv.Value.Type() != attribute.STRINGSLICE {
		t.Errorf("string slice failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "ints"); !ok || kv.Value.Type() != attribute.INT64SLICE {
		t.Errorf("int slice failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "floats"); !ok || kv.Value.Type() != attribute.FLOAT64SLICE {
		t.Errorf("float slice failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "bools"); !ok || kv.Value.Type() != attribute.BOOLSLICE {
		t.Errorf("bool slice failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "anyInt"); !ok || kv.Value.Type() != attribute.INT64SLICE {
		t.Errorf("homogeneous any-int slice failed: %v", attrs)
	}
	if kv, ok := findKV(attrs, "mixedNum"); !ok || kv.Value.Type() != attribute.FLOAT64SLICE {
		t.Errorf("numeric mix should widen to float: %v", attrs)
	}
	if _, ok := findKV(attrs, "mixedBad"); ok {
		t.Error("mixed-kind array must be dropped")
	}
	if _, ok := findKV(attrs, "nested"); ok {
		t.Error("array of arrays must be dropped")
	}
}

// TestResolveNonMapPayload verifies graceful handling of payloads that are
// not object-shaped.
func TestResolveNonMapPayload(t *testing.T) {
	mappings := tractus.Mappings{{Key: "a", Path: "a"}}

	for _, payload := range []any{nil, "just a string", 42, []any{1, 2}} {
		attrs := mappings.Resolve(false, payload, "", "")
		if attrs == nil {
			t.Fatalf("configured extraction must not return nil for payload %v", payload)
		}
		if len(attrs) != 0 {
			t.Errorf("payload %v should resolve nothing, got %v", payload, attrs)
		}
	}
}
