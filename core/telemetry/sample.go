package telemetry

import (
	"math"
	"sort"
)

// Sample is one raw reading from a vehicle: field name to value. A nil value
// or a missing key means the field was not reported.
type Sample map[string]any

// Batch is an ordered sequence of samples collected since the last push.
type Batch []Sample

// Clone returns a shallow copy of the sample.
func (s Sample) Clone() Sample {
	out := make(Sample, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Number returns the field as float64 when it holds a numeric or boolean value.
func (s Sample) Number(key string) (float64, bool) {
	v, ok := s[key]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Has reports whether the field is present with a non-nil value.
func (s Sample) Has(key string) bool {
	v, ok := s[key]
	return ok && v != nil
}

// Keys returns the field names in sorted order.
func (s Sample) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToFloat converts the numeric and boolean types produced by the wire decoder
// to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// FieldSpec describes how a sink wants a field: the key it uses for it and
// the number of decimal places to round to.
type FieldSpec struct {
	Key      string
	Decimals int
}

// Specs maps source field names to their FieldSpec.
type Specs map[string]FieldSpec

// Fields returns the set of source fields covered by the specs.
func (s Specs) Fields() FieldSet {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	return NewFieldSet(names...)
}

// Round rounds v to the given number of decimal places using round half to
// even. Zero decimals rounds to the nearest integer.
func Round(v float64, decimals int) float64 {
	if decimals <= 0 {
		return math.RoundToEven(v)
	}
	p := math.Pow10(decimals)
	r := math.RoundToEven(v*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return v
	}
	return r
}
