package metrics

import coremetrics "github.com/kilianp07/evproxy/core/metrics"

// MultiRecorder fans out dispatch activity to multiple recorders.
type MultiRecorder struct {
	Recorders []coremetrics.Recorder
}

// NewMultiRecorder creates a MultiRecorder with the provided recorders.
func NewMultiRecorder(recs ...coremetrics.Recorder) *MultiRecorder {
	return &MultiRecorder{Recorders: recs}
}

func (m *MultiRecorder) RecordConfigure(sinks int) {
	for _, r := range m.Recorders {
		r.RecordConfigure(sinks)
	}
}

func (m *MultiRecorder) RecordIngest(result string, samples int) {
	for _, r := range m.Recorders {
		r.RecordIngest(result, samples)
	}
}

func (m *MultiRecorder) RecordTransmit(rec coremetrics.TransmitRecord) {
	for _, r := range m.Recorders {
		r.RecordTransmit(rec)
	}
}

func (m *MultiRecorder) RecordSessions(n int) {
	for _, r := range m.Recorders {
		r.RecordSessions(n)
	}
}
