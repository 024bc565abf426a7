package telemetry

import "sort"

// FieldSet is the set of telemetry fields a sink consumes. The zero value is
// the empty set; AllFields returns the set that matches every field.
type FieldSet struct {
	all   bool
	names map[string]struct{}
}

// NewFieldSet builds a set from the given names.
func NewFieldSet(names ...string) FieldSet {
	fs := FieldSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		fs.names[n] = struct{}{}
	}
	return fs
}

// AllFields returns the set matching every field.
func AllFields() FieldSet { return FieldSet{all: true} }

// All reports whether the set matches every field.
func (f FieldSet) All() bool { return f.all }

// Contains reports whether the field is part of the set.
func (f FieldSet) Contains(name string) bool {
	if f.all {
		return true
	}
	_, ok := f.names[name]
	return ok
}

// Len returns the number of named fields. It is zero for the All set.
func (f FieldSet) Len() int { return len(f.names) }

// Union merges two sets. If either side is All the result is All.
func (f FieldSet) Union(other FieldSet) FieldSet {
	if f.all || other.all {
		return AllFields()
	}
	out := NewFieldSet()
	for n := range f.names {
		out.names[n] = struct{}{}
	}
	for n := range other.names {
		out.names[n] = struct{}{}
	}
	return out
}

// Names returns the sorted field names, or nil for the All set.
func (f FieldSet) Names() []string {
	if f.all {
		return nil
	}
	out := make([]string, 0, len(f.names))
	for n := range f.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Filter returns the subset of the sample whose fields are in the set.
func (f FieldSet) Filter(s Sample) Sample {
	if f.all {
		return s
	}
	out := make(Sample, len(f.names))
	for k, v := range s {
		if _, ok := f.names[k]; ok {
			out[k] = v
		}
	}
	return out
}
