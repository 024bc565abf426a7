package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

func TestRegister(t *testing.T) {
	stubMQTT(t)
	b := sink.NewBuilder()
	require.NoError(t, Register(b, Options{ABRPAPIKey: "key"}))
	assert.Error(t, Register(b, Options{}), "kinds register once")

	cases := []struct {
		cfg      sink.Config
		interval time.Duration
	}{
		{sink.Config{Kind: sink.KindABRP, Settings: map[string]any{"enable": true, "token": "t"}}, 5 * time.Second},
		{sink.Config{Kind: sink.KindEVNotify, Settings: map[string]any{"enable": true, "akey": "a", "token": "t"}}, 30 * time.Second},
		{sink.Config{Kind: sink.KindInfluxDB, Settings: map[string]any{
			"enabled": true, "url": "http://localhost:8086", "org": "o", "bucket": "b", "token": "t",
		}}, 0},
		{sink.Config{Kind: sink.KindMQTT, Settings: map[string]any{"enable": true, "server": "broker", "interval": 2}}, 2 * time.Second},
	}
	for _, c := range cases {
		inst, err := b.Build("car1", c.cfg)
		require.NoError(t, err, c.cfg.Kind)
		assert.Equal(t, c.cfg.Kind, inst.Sink.Kind())
		assert.Equal(t, c.interval, inst.Interval, c.cfg.Kind)
		assert.Equal(t, telemetry.PolicyLast, inst.Policy)
		assert.NoError(t, inst.Sink.Shutdown(context.Background()))
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.setDefaults()
	assert.Equal(t, DefaultABRPURL, o.ABRPURL)
	assert.Equal(t, DefaultEVNotifyURL, o.EVNotifyURL)
	require.NotNil(t, o.HTTPClient)
	assert.Equal(t, 10*time.Second, o.HTTPClient.Timeout)
}
