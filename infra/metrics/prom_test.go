package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/evproxy/core/metrics"
)

func TestPromRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPromRecorder(reg)
	require.NoError(t, err)

	r.RecordConfigure(2)
	r.RecordIngest("accepted", 3)
	r.RecordIngest("not_configured", 0)
	r.RecordTransmit(coremetrics.TransmitRecord{Sink: "abrp", Outcome: "ok", Duration: 20 * time.Millisecond})
	r.RecordTransmit(coremetrics.TransmitRecord{Sink: "abrp", Outcome: "rate_limited", Duration: time.Millisecond})
	r.RecordSessions(4)

	assert.InDelta(t, 1, testutil.ToFloat64(r.configures), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ingests.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.samples), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.transmits.WithLabelValues("abrp", "rate_limited")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(r.sessions), 0)

	expected := `
# HELP evproxy_transmit_total Number of transmit attempts, by sink and outcome
# TYPE evproxy_transmit_total counter
evproxy_transmit_total{outcome="ok",sink="abrp"} 1
evproxy_transmit_total{outcome="rate_limited",sink="abrp"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "evproxy_transmit_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}

func TestPromRecorder_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	r1, err := NewPromRecorder(reg)
	require.NoError(t, err)
	r2, err := NewPromRecorder(reg)
	require.NoError(t, err)

	r1.RecordSessions(2)
	assert.InDelta(t, 2, testutil.ToFloat64(r2.sessions), 0)
}

func TestNewRecorder(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NopRecorder{}, r)

	r, err = NewRecorder("nop", "nop")
	require.NoError(t, err)
	assert.IsType(t, &MultiRecorder{}, r)

	_, err = NewRecorder("statsd")
	assert.Error(t, err)
}
