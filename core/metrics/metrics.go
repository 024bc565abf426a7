package metrics

import "time"

// TransmitRecord describes one transmit attempt of one sink.
type TransmitRecord struct {
	Sink     string
	Outcome  string
	Duration time.Duration
}

// Recorder records dispatch activity for observability purposes.
type Recorder interface {
	RecordConfigure(sinks int)
	RecordIngest(result string, samples int)
	RecordTransmit(rec TransmitRecord)
	RecordSessions(n int)
}

// NopRecorder implements Recorder with no-op methods.
type NopRecorder struct{}

func (NopRecorder) RecordConfigure(int)           {}
func (NopRecorder) RecordIngest(string, int)      {}
func (NopRecorder) RecordTransmit(TransmitRecord) {}
func (NopRecorder) RecordSessions(int)            {}
