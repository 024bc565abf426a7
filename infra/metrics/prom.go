package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/evproxy/core/metrics"
)

// PromRecorder records dispatch activity in Prometheus metrics.
type PromRecorder struct {
	configures prometheus.Counter
	ingests    *prometheus.CounterVec
	samples    prometheus.Counter
	transmits  *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	sessions   prometheus.Gauge
}

// NewPromRecorder registers the proxy metrics on reg. A nil registerer
// defaults to the global Prometheus registerer. Metrics that are already
// registered are reused.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PromRecorder{
		configures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evproxy_configure_total",
			Help: "Number of accepted sink configurations",
		}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evproxy_ingest_total",
			Help: "Number of telemetry batches received, by result",
		}, []string{"result"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evproxy_ingest_samples_total",
			Help: "Number of telemetry samples absorbed",
		}),
		transmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evproxy_transmit_total",
			Help: "Number of transmit attempts, by sink and outcome",
		}, []string{"sink", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evproxy_transmit_duration_seconds",
			Help:    "Duration of transmit attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evproxy_sessions",
			Help: "Number of configured vehicles",
		}),
	}
	var err error
	if r.configures, err = register(reg, r.configures); err != nil {
		return nil, err
	}
	if r.ingests, err = register(reg, r.ingests); err != nil {
		return nil, err
	}
	if r.samples, err = register(reg, r.samples); err != nil {
		return nil, err
	}
	if r.transmits, err = register(reg, r.transmits); err != nil {
		return nil, err
	}
	if r.latency, err = register(reg, r.latency); err != nil {
		return nil, err
	}
	if r.sessions, err = register(reg, r.sessions); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordConfigure counts one accepted configuration.
func (r *PromRecorder) RecordConfigure(int) { r.configures.Inc() }

// RecordIngest counts one telemetry batch and its samples.
func (r *PromRecorder) RecordIngest(result string, samples int) {
	r.ingests.WithLabelValues(result).Inc()
	if samples > 0 {
		r.samples.Add(float64(samples))
	}
}

// RecordTransmit counts a transmit attempt and observes its duration.
func (r *PromRecorder) RecordTransmit(rec coremetrics.TransmitRecord) {
	r.transmits.WithLabelValues(rec.Sink, rec.Outcome).Inc()
	r.latency.WithLabelValues(rec.Sink).Observe(rec.Duration.Seconds())
}

// RecordSessions sets the number of configured vehicles.
func (r *PromRecorder) RecordSessions(n int) { r.sessions.Set(float64(n)) }
