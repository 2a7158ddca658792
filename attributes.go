package tractus

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// AttributeMapping declares one span attribute sourced from the message
// payload. Flow and StepType filter where the mapping applies; an empty
// string in either is a wildcard. After selects the extraction phase: false
// applies when a span is created, true when it completes. Key is the span
// attribute to emit and Path a dotted property path into the payload.
//
// Mappings are configuration data and immutable after load. Entries with a
// blank Key or a blank Path are tolerated and skipped during resolution
// rather than rejected, so a partially edited configuration never takes the
// host down.
type AttributeMapping struct {
	Flow     string `yaml:"flow,omitempty"`      // owning-flow filter, empty = any flow
	StepType string `yaml:"step_type,omitempty"` // step-type filter, empty = any type
	After    bool   `yaml:"after,omitempty"`     // false = span start, true = span end
	Key      string `yaml:"key"`                 // span attribute key
	Path     string `yaml:"path"`                // dotted path into the message payload
}

// Mappings is an ordered list of attribute mappings.
type Mappings []AttributeMapping

// Resolve evaluates the mappings against a message payload and returns the
// span attributes that qualify.
//
// The return value distinguishes "unconfigured" from "nothing matched": with
// zero mappings configured at all it returns nil, otherwise it returns a
// non-nil (possibly empty) slice. A mapping qualifies when its Flow and
// StepType filters match (wildcards allowed), its phase equals after, and its
// Key and Path are non-blank. Each qualifying Path is resolved by plain
// segment-by-segment descent; values that are missing, or that are not a
// primitive scalar or a homogeneous array of scalars, are dropped silently.
func (ms Mappings) Resolve(after bool, payload any, flow, stepType string) []attribute.KeyValue {
	if len(ms) == 0 {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, len(ms))
	for _, m := range ms {
		if m.After != after {
			continue
		}
		if m.Flow != "" && m.Flow != flow {
			continue
		}
		if m.StepType != "" && m.StepType != stepType {
			continue
		}
		if m.Key == "" || strings.TrimSpace(m.Path) == "" {
			continue
		}

		raw, found := lookupPath(payload, m.Path)
		if !found {
			continue
		}
		value, ok := scalarValue(raw)
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.KeyValue{Key: attribute.Key(m.Key), Value: value})
	}
	return attrs
}

// lookupPath descends a dotted property path through string-keyed maps.
// It never evaluates anything: each segment is a literal map lookup, and any
// missing intermediate segment yields not-found. Non-map intermediates end
// the descent the same way.
func lookupPath(payload any, path string) (any, bool) {
	current := payload
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}

// scalarValue converts a resolved payload value into a span attribute value.
// Only primitive scalars and arrays of primitive scalars survive; arrays of
// mixed kinds are rejected, except that integer and floating elements widen
// together to a float64 slice.
func scalarValue(v any) (attribute.Value, bool) {
	switch x := v.(type) {
	case string:
		return attribute.StringValue(x), true
	case bool:
		return attribute.BoolValue(x), true
	case int:
		return attribute.Int64Value(int64(x)), true
	case int8:
		return attribute.Int64Value(int64(x)), true
	case int16:
		return attribute.Int64Value(int64(x)), true
	case int32:
		return attribute.Int64Value(int64(x)), true
	case int64:
		return attribute.Int64Value(x), true
	case uint:
		return attribute.Int64Value(int64(x)), true
	case uint8:
		return attribute.Int64Value(int64(x)), true
	case uint16:
		return attribute.Int64Value(int64(x)), true
	case uint32:
		return attribute.Int64Value(int64(x)), true
	case uint64:
		return attribute.Int64Value(int64(x)), true
	case float32:
		return attribute.Float64Value(float64(x)), true
	case float64:
		return attribute.Float64Value(x), true
	case []string:
		return attribute.StringSliceValue(x), true
	case []bool:
		return attribute.BoolSliceValue(x), true
	case []int:
		return attribute.IntSliceValue(x), true
	case []int64:
		return attribute.Int64SliceValue(x), true
	case []float64:
		return attribute.Float64SliceValue(x), true
	case []any:
		return scalarSlice(x)
	default:
		return attribute.Value{}, false
	}
}

// scalarSlice promotes a []any of uniform scalar elements to the matching
// slice-typed attribute value.
func scalarSlice(items []any) (attribute.Value, bool) {
	if len(items) == 0 {
		return attribute.StringSliceValue(nil), true
	}

	var (
		strs     = make([]string, 0, len(items))
		bools    = make([]bool, 0, len(items))
		floats   = make([]float64, 0, len(items))
		ints     = make([]int64, 0, len(items))
		sawStr   bool
		sawBool  bool
		sawInt   bool
		sawFloat bool
	)
	for _, item := range items {
		switch x := item.(type) {
		case string:
			sawStr = true
			strs = append(strs, x)
		case bool:
			sawBool = true
			bools = append(bools, x)
		case int:
			sawInt = true
			ints = append(ints, int64(x))
			floats = append(floats, float64(x))
		case int64:
			sawInt = true
			ints = append(ints, x)
			floats = append(floats, float64(x))
		case float64:
			sawFloat = true
			floats = append(floats, x)
		default:
			return attribute.Value{}, false
		}
	}

	switch {
	case sawStr && !sawBool && !sawInt && !sawFloat:
		return attribute.StringSliceValue(strs), true
	case sawBool && !sawStr && !sawInt && !sawFloat:
		return attribute.BoolSliceValue(bools), true
	case sawInt && !sawStr && !sawBool && !sawFloat:
		return attribute.Int64SliceValue(ints), true
	case (sawInt || sawFloat) && !sawStr && !sawBool:
		return attribute.Float64SliceValue(floats), true
	default:
		return attribute.Value{}, false
	}
}
