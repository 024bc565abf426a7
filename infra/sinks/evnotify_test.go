package sinks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

type evnotifyServer struct {
	mu     sync.Mutex
	calls  []string
	bodies map[string]map[string]any
	status map[string]int
	reply  string
}

func (s *evnotifyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fn := strings.TrimPrefix(r.URL.Path, "/")
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.calls = append(s.calls, fn)
	s.bodies[fn] = body
	code := s.status[fn]
	s.mu.Unlock()
	if code != 0 {
		w.WriteHeader(code)
		return
	}
	_, _ = w.Write([]byte(s.reply))
}

func newTestEVNotify(t *testing.T) (*EVNotify, *evnotifyServer) {
	t.Helper()
	h := &evnotifyServer{bodies: map[string]map[string]any{}, status: map[string]int{}, reply: `{"synced":true}`}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := newEVNotify(Options{EVNotifyURL: srv.URL, HTTPClient: srv.Client()})(
		factory.ModuleConfig{Scope: "car1", Conf: map[string]any{"akey": "ak", "token": "tok"}})
	require.NoError(t, err)
	return s.(*EVNotify), h
}

func TestEVNotify_RequiresCredentials(t *testing.T) {
	_, err := newEVNotify(Options{})(factory.ModuleConfig{Conf: map[string]any{"akey": "ak"}})
	assert.Error(t, err)
}

func TestEVNotify_SocAndExtended(t *testing.T) {
	e, h := newTestEVNotify(t)

	err := e.Transmit(context.Background(), telemetry.Sample{
		"SOC_DISPLAY": 80.5, "SOC_BMS": 78.0, "dcBatteryVoltage": 650.12, "charging": 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"soc", "extended"}, h.calls)
	assert.Equal(t, "ak", h.bodies["soc"]["akey"])
	assert.Equal(t, "tok", h.bodies["soc"]["token"])
	assert.InDelta(t, 80.5, h.bodies["soc"]["display"], 1e-9)
	assert.InDelta(t, 650.12, h.bodies["extended"]["dcBatteryVoltage"], 1e-9)
}

func TestEVNotify_LocationOnlyWithFixAndUnplugged(t *testing.T) {
	e, h := newTestEVNotify(t)

	gps := telemetry.Sample{"fix_mode": 3.0, "latitude": 52.5, "longitude": 13.4, "speed": 12.0}
	require.NoError(t, e.Transmit(context.Background(), gps))
	assert.Equal(t, []string{"location"}, h.calls)
	loc, ok := h.bodies["location"]["location"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 52.5, loc["latitude"], 1e-9)

	h.calls = nil
	require.NoError(t, e.Transmit(context.Background(), telemetry.Sample{"normalChargePort": 1.0}))
	assert.Equal(t, []string{"extended"}, h.calls)

	e2, h2 := newTestEVNotify(t)
	err := e2.Transmit(context.Background(), telemetry.Sample{"fix_mode": 1.0, "latitude": 1.0})
	assert.ErrorIs(t, err, sink.ErrNothingToSend)
	assert.Empty(t, h2.calls)
}

func TestEVNotify_ErrorMapping(t *testing.T) {
	e, h := newTestEVNotify(t)
	h.status["soc"] = http.StatusTooManyRequests
	err := e.Transmit(context.Background(), telemetry.Sample{"SOC_DISPLAY": 50.0})
	assert.Equal(t, sink.OutcomeRateLimited, sink.Classify(err))

	h.status["soc"] = http.StatusUnauthorized
	err = e.Transmit(context.Background(), telemetry.Sample{"SOC_DISPLAY": 50.0})
	assert.Equal(t, sink.OutcomeTransport, sink.Classify(err))

	delete(h.status, "soc")
	h.reply = `{"error":"nope"}`
	err = e.Transmit(context.Background(), telemetry.Sample{"SOC_DISPLAY": 50.0})
	assert.Equal(t, sink.OutcomeProtocol, sink.Classify(err))
	assert.Contains(t, err.Error(), "synced missing")
}
