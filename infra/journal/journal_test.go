package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evproxy/core/events"
)

func seed(t *testing.T, s Store, base time.Time) {
	t.Helper()
	recs := []Record{
		{Time: base, VehicleID: "car1", Sink: "abrp", Outcome: "ok", LatencyMS: 12.5, Fields: 3, NextEligible: base.Add(5 * time.Second)},
		{Time: base.Add(time.Second), VehicleID: "car2", Sink: "mqtt", Outcome: "transport_failure", Error: "broker down"},
		{Time: base.Add(2 * time.Second), VehicleID: "car1", Sink: "evnotify", Outcome: "rate_limited"},
	}
	for _, r := range recs {
		require.NoError(t, s.Append(context.Background(), r))
	}
}

func testStore(t *testing.T, s Store) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seed(t, s, base)
	ctx := context.Background()

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "evnotify", all[0].Sink, "newest first")
	assert.Equal(t, "abrp", all[2].Sink)
	assert.True(t, all[2].Time.Equal(base))
	assert.True(t, all[2].NextEligible.Equal(base.Add(5*time.Second)))
	assert.InDelta(t, 12.5, all[2].LatencyMS, 1e-9)
	assert.Equal(t, 3, all[2].Fields)
	assert.True(t, all[0].NextEligible.IsZero())

	car1, err := s.Query(ctx, Query{VehicleID: "car1"})
	require.NoError(t, err)
	require.Len(t, car1, 2)

	recent, err := s.Query(ctx, Query{Since: base.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "broker down", recent[1].Error)

	limited, err := s.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "evnotify", limited[0].Sink)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	testStore(t, s)
}

func TestRotatingJSONLStore(t *testing.T) {
	s, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "logs", "journal.jsonl"), 1, 2, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	testStore(t, s)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Path: filepath.Join(dir, "j.jsonl")})
	require.NoError(t, err)
	assert.IsType(t, &RotatingJSONLStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: filepath.Join(dir, "j.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Path: "x", Format: "csv"})
	assert.Error(t, err)
}

func TestFromEvent(t *testing.T) {
	now := time.Now()
	r := FromEvent(events.TransmitEvent{
		Vehicle: "car1", Sink: "abrp", Outcome: "protocol_failure",
		Err: errors.New("status error"), Latency: 2500 * time.Microsecond, Fields: 7, Time: now,
	})
	assert.Equal(t, Record{
		Time: now, VehicleID: "car1", Sink: "abrp", Outcome: "protocol_failure",
		Error: "status error", LatencyMS: 2.5, Fields: 7,
	}, r)
}
