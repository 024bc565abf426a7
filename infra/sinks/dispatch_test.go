package sinks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/core/dispatch"
	"github.com/kilianp07/evproxy/core/session"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
	"github.com/kilianp07/evproxy/internal/sinktest"
)

// TestABRP_FirstSpeedSentWithoutWaitingInterval drives the ABRP sink
// through the dispatcher: a batch without speed must not close the gate.
func TestABRP_FirstSpeedSentWithoutWaitingInterval(t *testing.T) {
	var (
		mu   sync.Mutex
		tlms []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req abrpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		tlms = append(tlms, req.TLM)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	b := sink.NewBuilder()
	require.NoError(t, Register(b, Options{ABRPAPIKey: "key", ABRPURL: srv.URL, HTTPClient: srv.Client()}))
	clock := sinktest.NewClock(time.Unix(1700000000, 0))
	d := dispatch.New(session.NewRegistry(b, session.WithClock(clock.Now)), dispatch.WithClock(clock.Now))
	ctx := context.Background()
	defer func() { _ = d.Shutdown(ctx) }()

	_, err := d.Configure(ctx, "car1", map[string]map[string]any{"abrp": {"enable": true, "token": "tok"}})
	require.NoError(t, err)

	_, err = d.Ingest(ctx, "car1", telemetry.Batch{{"SOC_DISPLAY": 50.0}})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = d.Ingest(ctx, "car1", telemetry.Batch{{"speed": 10.0}})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	if len(tlms) != 1 {
		t.Fatalf("expected 1 post after first speed sample, got %d", len(tlms))
	}
	assert.InDelta(t, 50.0, tlms[0]["soc"], 1e-9)
	assert.InDelta(t, 36.0, tlms[0]["speed"], 1e-9)
}
