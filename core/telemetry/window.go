package telemetry

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Policy selects how a Window reduces the samples it absorbed.
type Policy int

const (
	// PolicyLast keeps the most recent non-nil value of each field.
	PolicyLast Policy = iota
	// PolicyAverage keeps the arithmetic mean of all numeric values of each
	// field. Non-numeric values fall back to last-value.
	PolicyAverage
)

func (p Policy) String() string {
	switch p {
	case PolicyLast:
		return "last"
	case PolicyAverage:
		return "average"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "last" or "average". The empty string yields def.
func ParsePolicy(s string, def Policy) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "last", "last_value":
		return PolicyLast, nil
	case "average", "avg", "mean":
		return PolicyAverage, nil
	default:
		return def, fmt.Errorf("unknown aggregation policy %q", s)
	}
}

// Window accumulates samples between two transmits of a lane. It is not safe
// for concurrent use; callers serialize access through the session.
type Window struct {
	policy  Policy
	fields  FieldSet
	last    map[string]any
	numbers map[string][]float64
}

// NewWindow creates a window that only keeps the given fields.
func NewWindow(policy Policy, fields FieldSet) *Window {
	return &Window{
		policy:  policy,
		fields:  fields,
		last:    make(map[string]any),
		numbers: make(map[string][]float64),
	}
}

// Policy returns the reduction policy of the window.
func (w *Window) Policy() Policy { return w.policy }

// Absorb merges every sample of the batch in order.
func (w *Window) Absorb(batch Batch) {
	for _, s := range batch {
		for k, v := range s {
			if v == nil || !w.fields.Contains(k) {
				continue
			}
			w.last[k] = v
			if w.policy != PolicyAverage {
				continue
			}
			if f, ok := ToFloat(v); ok {
				w.numbers[k] = append(w.numbers[k], f)
			}
		}
	}
}

// Empty reports whether nothing has been absorbed since the last flush.
func (w *Window) Empty() bool { return len(w.last) == 0 }

// Flush reduces the absorbed values to one sample, rounding fields that have
// a spec, and clears the window. It returns false and leaves the window
// untouched when nothing was absorbed.
func (w *Window) Flush(specs Specs) (Sample, bool) {
	if w.Empty() {
		return nil, false
	}
	out := make(Sample, len(w.last))
	for k, v := range w.last {
		if vals := w.numbers[k]; len(vals) > 0 {
			v = stat.Mean(vals, nil)
		}
		if spec, ok := specs[k]; ok {
			if f, ok := ToFloat(v); ok {
				v = Round(f, spec.Decimals)
			}
		}
		out[k] = v
	}
	w.last = make(map[string]any)
	w.numbers = make(map[string][]float64)
	return out, true
}
