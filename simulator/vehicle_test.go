package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/api/proxy"
	"github.com/kilianp07/evproxy/core/telemetry"
)

type stubProxy struct {
	configures int
	batches    []telemetry.Batch
	fields     []string
	transmitFn func() error
}

func (p *stubProxy) Configure(context.Context, string, map[string]map[string]any) ([]string, error) {
	p.configures++
	return p.fields, nil
}

func (p *stubProxy) Transmit(_ context.Context, _ string, b telemetry.Batch) error {
	if p.transmitFn != nil {
		if err := p.transmitFn(); err != nil {
			return err
		}
	}
	p.batches = append(p.batches, b)
	return nil
}

func newTestVehicle(p Proxy, segment string) *SimulatedVehicle {
	var prof [24]float64
	for i := range prof {
		prof[i] = 1
	}
	v := &SimulatedVehicle{
		ID:           "veh0001",
		Segment:      segment,
		Availability: prof,
		Battery:      &Battery{CapacityKWh: 40, Soc: 0.8, ChargeRateKW: 7},
		Interval:     time.Minute,
		Proxy:        p,
		now:          func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) },
	}
	v.init()
	return v
}

func TestVehicle_DrivingSample(t *testing.T) {
	v := newTestVehicle(&stubProxy{}, "commuter")
	s := v.step(time.Minute)
	speed, _ := s.Number("speed")
	assert.GreaterOrEqual(t, speed, 8.0)
	assert.Equal(t, 0.0, s["charging"])
	soc, _ := s.Number("SOC_DISPLAY")
	assert.Less(t, soc, 80.0)
	assert.Greater(t, v.odo, 0.0)
	assert.InDelta(t, float64(v.now().Unix()), s["timestamp"], 1e-6)
}

func TestVehicle_ParkedCharges(t *testing.T) {
	v := newTestVehicle(&stubProxy{}, "parked")
	s := v.step(time.Hour)
	assert.Equal(t, 0.0, s["speed"])
	assert.Equal(t, 1.0, s["charging"])
	soc, _ := s.Number("SOC_DISPLAY")
	assert.Greater(t, soc, 80.0)
}

func TestVehicle_BatchesAndFilters(t *testing.T) {
	p := &stubProxy{fields: []string{"SOC_DISPLAY"}}
	v := newTestVehicle(p, "parked")
	v.BatchSize = 2
	ctx := context.Background()
	require.NoError(t, v.configure(ctx))

	v.tick(ctx)
	assert.Empty(t, p.batches)
	v.tick(ctx)
	require.Len(t, p.batches, 1)
	require.Len(t, p.batches[0], 2)
	assert.Equal(t, []string{"SOC_DISPLAY"}, p.batches[0][0].Keys())
}

func TestVehicle_ReconfiguresOnPaymentRequired(t *testing.T) {
	calls := 0
	p := &stubProxy{}
	p.transmitFn = func() error {
		calls++
		if calls == 1 {
			return &proxy.StatusError{Code: http.StatusPaymentRequired}
		}
		return nil
	}
	v := newTestVehicle(p, "parked")
	v.tick(context.Background())
	assert.Equal(t, 1, p.configures)
	assert.Len(t, p.batches, 1)
}

func TestVehicle_RunStopsOnCancel(t *testing.T) {
	p := &stubProxy{}
	v := newTestVehicle(p, "parked")
	v.Interval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, v.Run(ctx))
	assert.Equal(t, 1, p.configures)
	assert.NotEmpty(t, p.batches)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{URL: "http://localhost", FleetSize: 1, Interval: time.Second}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Error(t, (&Config{FleetSize: 1, Interval: time.Second}).Validate())
	assert.Error(t, (&Config{URL: "u", Interval: time.Second}).Validate())
}
