package vehiclestatus

import (
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/evproxy/core/events"
)

func TestMemoryStore_Configure(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.RecordConfigure(events.ConfigureEvent{Vehicle: "v1", Sinks: []string{"mqtt", "abrp"}, Time: now})
	st, ok := s.Get("v1")
	if !ok {
		t.Fatalf("vehicle not found")
	}
	if st.CurrentStatus != StatusConfigured || len(st.Sinks) != 2 || st.Sinks[0].Sink != "abrp" {
		t.Fatalf("unexpected status %#v", st)
	}
	if !st.ConfiguredAt.Equal(now) {
		t.Fatalf("configured_at not set")
	}
}

func TestMemoryStore_RecordTransmit(t *testing.T) {
	s := NewMemoryStore()
	s.RecordConfigure(events.ConfigureEvent{Vehicle: "v1", Sinks: []string{"abrp", "mqtt"}})
	t0 := time.Now()
	s.RecordTransmit(events.TransmitEvent{Vehicle: "v1", Sink: "abrp", Outcome: "ok", Time: t0, NextEligible: t0.Add(5 * time.Second)})
	st, _ := s.Get("v1")
	if st.CurrentStatus != StatusHealthy {
		t.Fatalf("expected healthy got %s", st.CurrentStatus)
	}

	s.RecordTransmit(events.TransmitEvent{Vehicle: "v1", Sink: "mqtt", Outcome: "transport_failure", Err: errors.New("down"), Time: t0})
	s.RecordTransmit(events.TransmitEvent{Vehicle: "v1", Sink: "mqtt", Outcome: "transport_failure", Err: errors.New("down"), Time: t0})
	st, _ = s.Get("v1")
	if st.CurrentStatus != StatusDegraded {
		t.Fatalf("expected degraded got %s", st.CurrentStatus)
	}
	mqtt := st.Sinks[1]
	if mqtt.Attempts != 2 || mqtt.Failures != 2 || mqtt.ConsecutiveFailures != 2 || mqtt.LastError != "down" {
		t.Fatalf("unexpected mqtt status %#v", mqtt)
	}

	s.RecordTransmit(events.TransmitEvent{Vehicle: "v1", Sink: "mqtt", Outcome: "ok", Time: t0.Add(time.Second)})
	st, _ = s.Get("v1")
	if st.CurrentStatus != StatusHealthy || st.Sinks[1].ConsecutiveFailures != 0 || st.Sinks[1].Failures != 2 {
		t.Fatalf("recovery not tracked %#v", st)
	}
	if !st.LastSeen.Equal(t0.Add(time.Second)) {
		t.Fatalf("last seen not updated")
	}
}

func TestMemoryStore_RecordTransmitNew(t *testing.T) {
	s := NewMemoryStore()
	s.RecordTransmit(events.TransmitEvent{Vehicle: "v3", Sink: "influxdb", Outcome: "ok"})
	out := s.List(Filter{})
	if len(out) != 1 || out[0].VehicleID != "v3" || len(out[0].Sinks) != 1 {
		t.Fatalf("auto create failed %#v", out)
	}
}

func TestMemoryStore_Filter(t *testing.T) {
	s := NewMemoryStore()
	s.RecordConfigure(events.ConfigureEvent{Vehicle: "v1", Sinks: []string{"abrp"}})
	s.RecordConfigure(events.ConfigureEvent{Vehicle: "v2", Sinks: []string{"mqtt"}})
	s.RecordTransmit(events.TransmitEvent{Vehicle: "v2", Sink: "mqtt", Outcome: "rate_limited", Err: errors.New("429")})

	out := s.List(Filter{Sink: "abrp"})
	if len(out) != 1 || out[0].VehicleID != "v1" {
		t.Fatalf("sink filter failed: %#v", out)
	}
	out = s.List(Filter{Status: StatusDegraded})
	if len(out) != 1 || out[0].VehicleID != "v2" {
		t.Fatalf("status filter failed: %#v", out)
	}
}

func TestMemoryStore_ReconfigureAndForget(t *testing.T) {
	s := NewMemoryStore()
	s.RecordConfigure(events.ConfigureEvent{Vehicle: "v1", Sinks: []string{"abrp"}})
	s.RecordTransmit(events.TransmitEvent{Vehicle: "v1", Sink: "abrp", Outcome: "ok"})
	s.RecordConfigure(events.ConfigureEvent{Vehicle: "v1", Sinks: []string{"evnotify"}})
	st, _ := s.Get("v1")
	if len(st.Sinks) != 1 || st.Sinks[0].Sink != "evnotify" || st.Sinks[0].Attempts != 0 {
		t.Fatalf("reconfigure did not reset sinks %#v", st)
	}

	st.Sinks[0].Attempts = 99
	again, _ := s.Get("v1")
	if again.Sinks[0].Attempts != 0 {
		t.Fatalf("Get must return a copy")
	}

	s.Forget("v1")
	if _, ok := s.Get("v1"); ok {
		t.Fatalf("expected vehicle forgotten")
	}
}
