package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/core/dispatch"
	"github.com/kilianp07/evproxy/core/events"
	"github.com/kilianp07/evproxy/core/session"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/vehiclestatus"
	"github.com/kilianp07/evproxy/infra/codec"
	"github.com/kilianp07/evproxy/infra/journal"
	"github.com/kilianp07/evproxy/internal/sinktest"
)

const key = "secret"

type fixture struct {
	rec     *sinktest.Recorder
	disp    *dispatch.Dispatcher
	codec   *codec.Codec
	status  *vehiclestatus.MemoryStore
	journal journal.Store
	h       *Handler
	srv     *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{rec: &sinktest.Recorder{}, status: vehiclestatus.NewMemoryStore()}
	reg := session.NewRegistry(f.rec.Builder())
	f.disp = dispatch.New(reg)
	var err error
	f.codec, err = codec.New(codec.Options{})
	require.NoError(t, err)
	f.journal, err = journal.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.journal.Close() })
	if cfg.Keys == nil {
		cfg.Keys = []string{key}
	}
	f.h = New(f.disp, f.codec, cfg, WithSessions(reg), WithStatus(f.status), WithJournal(f.journal))
	f.srv = httptest.NewServer(f.h.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body []byte, auth string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string, auth string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := f.codec.Encode(v)
	require.NoError(t, err)
	return b
}

func TestUnauthorized(t *testing.T) {
	f := newFixture(t, Config{})
	settings := f.encode(t, map[string]any{"abrp": map[string]any{"enable": true}})

	assert.Equal(t, http.StatusUnauthorized, f.post(t, "/setsvcsettings/car1", settings, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.post(t, "/setsvcsettings/car1", settings, "wrong").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/status", "").StatusCode)
	assert.Empty(t, f.rec.Created())
}

func TestConfigureAndTransmit(t *testing.T) {
	f := newFixture(t, Config{})
	settings := f.encode(t, map[string]any{
		"abrp": map[string]any{"enable": true, "fields": []any{"soc", "speed"}},
		"mqtt": map[string]any{"enabled": true, "fields": []any{"soc"}},
	})

	resp := f.post(t, "/setsvcsettings/car1", settings, key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	var reply codec.FieldsReply
	require.NoError(t, f.codec.Decode(body.Bytes(), &reply))
	assert.Equal(t, []string{"soc", "speed"}, reply.Fields)

	batch := f.encode(t, []map[string]any{{"soc": 80.0, "speed": 10.0}})
	resp = f.post(t, "/transmit/car1", batch, key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.rec.Last(sink.KindABRP).Transmits(), 1)
	assert.Equal(t, 80.0, f.rec.Last(sink.KindMQTT).Transmits()[0]["soc"])
}

func TestConfigure_AllFields(t *testing.T) {
	f := newFixture(t, Config{})
	settings := f.encode(t, map[string]any{"influxdb": map[string]any{"enable": true}})
	resp := f.post(t, "/setsvcsettings/car1", settings, key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	var reply map[string]any
	require.NoError(t, f.codec.Decode(body.Bytes(), &reply))
	v, ok := reply["fields"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestTransmit_NotConfigured(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.post(t, "/transmit/ghost", f.encode(t, []map[string]any{{"soc": 1.0}}), key)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = f.post(t, "/transmit/ghost", []byte("garbage"), key)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestTransmit_Malformed(t *testing.T) {
	f := newFixture(t, Config{})
	settings := f.encode(t, map[string]any{"abrp": map[string]any{"enable": true}})
	require.Equal(t, http.StatusOK, f.post(t, "/setsvcsettings/car1", settings, key).StatusCode)

	resp := f.post(t, "/transmit/car1", []byte("garbage"), key)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.rec.Last(sink.KindABRP).Transmits())
}

func TestMalformedPayload(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.post(t, "/setsvcsettings/car1", []byte("not a payload"), key)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/setsvcsettings/car1", f.encode(t, []any{1, 2}), key)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.rec.Created())
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 16})
	resp := f.post(t, "/transmit/car1", bytes.Repeat([]byte{0}, 64), key)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestDrain(t *testing.T) {
	f := newFixture(t, Config{})
	f.h.Drain()
	settings := f.encode(t, map[string]any{"abrp": map[string]any{"enable": true}})
	assert.Equal(t, http.StatusServiceUnavailable, f.post(t, "/setsvcsettings/car1", settings, key).StatusCode)
}

func TestConfigure_AfterShutdown(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.disp.Shutdown(context.Background()))
	settings := f.encode(t, map[string]any{"abrp": map[string]any{"enable": true}})
	assert.Equal(t, http.StatusServiceUnavailable, f.post(t, "/setsvcsettings/car1", settings, key).StatusCode)
}

func TestStatusRoutes(t *testing.T) {
	f := newFixture(t, Config{})
	settings := f.encode(t, map[string]any{"abrp": map[string]any{"enable": true}})
	require.Equal(t, http.StatusOK, f.post(t, "/setsvcsettings/car1", settings, key).StatusCode)
	f.status.RecordConfigure(events.ConfigureEvent{Vehicle: "car1", Sinks: []string{"abrp"}})

	resp := f.get(t, "/status", key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []vehiclestatus.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "car1", list[0].VehicleID)

	resp = f.get(t, "/status/car1", key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Session  *session.Info         `json:"session"`
		Delivery *vehiclestatus.Status `json:"delivery"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.NotNil(t, view.Session)
	require.NotNil(t, view.Delivery)
	assert.Equal(t, "car1", view.Session.Vehicle)
	require.Len(t, view.Session.Lanes, 1)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/status/ghost", key).StatusCode)
}

func TestJournalRoute(t *testing.T) {
	f := newFixture(t, Config{})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []string{"car1", "car2", "car1"} {
		require.NoError(t, f.journal.Append(context.Background(), journal.Record{
			Time: base.Add(time.Duration(i) * time.Second), VehicleID: v, Sink: "abrp", Outcome: "ok",
		}))
	}

	resp := f.get(t, "/journal?vehicle_id=car1&limit=1", key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []journal.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Time.Equal(base.Add(2*time.Second)))

	resp = f.get(t, "/journal?since="+base.Add(time.Second).Format(time.RFC3339), key)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	assert.Len(t, recs, 2)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/journal?since=yesterday", key).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/journal?limit=-1", key).StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, Config{MetricsPath: "/metrics"})
	resp := f.get(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f2 := newFixture(t, Config{})
	assert.Equal(t, http.StatusUnauthorized, f2.get(t, "/metrics", "").StatusCode)
}
