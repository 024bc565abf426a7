package proxy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

func TestClient_RoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	c := NewClient(f.srv.URL+"/", key, f.codec, f.srv.Client())
	ctx := context.Background()

	err := c.Transmit(ctx, "car1", telemetry.Batch{{"soc": 1.0}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.NotConfigured())

	fields, err := c.Configure(ctx, "car1", map[string]map[string]any{
		"abrp": {"enable": true, "fields": []any{"soc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"soc"}, fields)

	require.NoError(t, c.Transmit(ctx, "car1", telemetry.Batch{{"soc": 42.0}}))
	require.Len(t, f.rec.Last(sink.KindABRP).Transmits(), 1)

	fields, err = c.Configure(ctx, "car2", map[string]map[string]any{"influxdb": {"enable": true}})
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestClient_Unauthorized(t *testing.T) {
	f := newFixture(t, Config{})
	c := NewClient(f.srv.URL, "wrong", f.codec, nil)
	_, err := c.Configure(context.Background(), "car1", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.False(t, se.NotConfigured())
}
