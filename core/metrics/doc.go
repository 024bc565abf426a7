// Package metrics defines the recorder the dispatcher reports to. The
// Prometheus implementation lives in infra/metrics; NopRecorder is used when
// metrics are disabled.
package metrics
