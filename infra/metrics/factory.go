package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/evproxy/core/factory"
	coremetrics "github.com/kilianp07/evproxy/core/metrics"
)

var recorders = factory.NewRegistry[coremetrics.Recorder]()

// init registers built-in recorders.
func init() {
	_ = recorders.Register("nop", func(factory.ModuleConfig) (coremetrics.Recorder, error) {
		return coremetrics.NopRecorder{}, nil
	})
	_ = recorders.Register("prometheus", func(factory.ModuleConfig) (coremetrics.Recorder, error) {
		return NewPromRecorder(prometheus.DefaultRegisterer)
	})
}

// NewRecorder builds the named recorders and combines them. No names yields
// a NopRecorder.
func NewRecorder(names ...string) (coremetrics.Recorder, error) {
	switch len(names) {
	case 0:
		return coremetrics.NopRecorder{}, nil
	case 1:
		return recorders.Create(factory.ModuleConfig{Type: names[0]})
	}
	out := make([]coremetrics.Recorder, 0, len(names))
	for _, n := range names {
		r, err := recorders.Create(factory.ModuleConfig{Type: n})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return NewMultiRecorder(out...), nil
}
