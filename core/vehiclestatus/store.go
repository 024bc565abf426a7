// Package vehiclestatus keeps an in-memory view of each vehicle's sinks and
// the outcome of their latest deliveries.
package vehiclestatus

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/evproxy/core/events"
)

const (
	StatusConfigured = "configured"
	StatusHealthy    = "healthy"
	StatusDegraded   = "degraded"
)

// SinkStatus summarizes the deliveries of one sink.
type SinkStatus struct {
	Sink                string    `json:"sink"`
	LastOutcome         string    `json:"last_outcome,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastAttempt         time.Time `json:"last_attempt,omitempty"`
	NextEligible        time.Time `json:"next_eligible,omitempty"`
	Attempts            int       `json:"attempts"`
	Failures            int       `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Status captures the current known state of a vehicle.
type Status struct {
	VehicleID     string       `json:"vehicle_id"`
	CurrentStatus string       `json:"current_status"`
	ConfiguredAt  time.Time    `json:"configured_at"`
	LastSeen      time.Time    `json:"last_seen,omitempty"`
	Sinks         []SinkStatus `json:"sinks"`
}

type Filter struct {
	Sink   string
	Status string
}

type Store interface {
	RecordConfigure(events.ConfigureEvent)
	RecordTransmit(events.TransmitEvent)
	Get(id string) (Status, bool)
	List(Filter) []Status
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]*Status{}}
}

// RecordConfigure resets the vehicle to the configured sinks.
func (s *MemoryStore) RecordConfigure(ev events.ConfigureEvent) {
	st := &Status{
		VehicleID:     ev.Vehicle,
		CurrentStatus: StatusConfigured,
		ConfiguredAt:  ev.Time,
		Sinks:         make([]SinkStatus, 0, len(ev.Sinks)),
	}
	for _, k := range ev.Sinks {
		st.Sinks = append(st.Sinks, SinkStatus{Sink: k})
	}
	sort.Slice(st.Sinks, func(i, j int) bool { return st.Sinks[i].Sink < st.Sinks[j].Sink })
	s.mu.Lock()
	s.data[ev.Vehicle] = st
	s.mu.Unlock()
}

// RecordTransmit folds one delivery outcome into the vehicle's view. Unknown
// vehicles and sinks are created on the fly.
func (s *MemoryStore) RecordTransmit(ev events.TransmitEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[ev.Vehicle]
	if !ok {
		st = &Status{VehicleID: ev.Vehicle}
		s.data[ev.Vehicle] = st
	}
	idx := st.sinkIndex(ev.Sink)
	if idx < 0 {
		st.Sinks = append(st.Sinks, SinkStatus{Sink: ev.Sink})
		sort.Slice(st.Sinks, func(i, j int) bool { return st.Sinks[i].Sink < st.Sinks[j].Sink })
		idx = st.sinkIndex(ev.Sink)
	}
	ss := &st.Sinks[idx]
	ss.Attempts++
	ss.LastOutcome = ev.Outcome
	ss.LastAttempt = ev.Time
	ss.NextEligible = ev.NextEligible
	ss.LastError = ""
	if ev.Err != nil {
		ss.LastError = ev.Err.Error()
		ss.Failures++
		ss.ConsecutiveFailures++
	} else {
		ss.ConsecutiveFailures = 0
	}
	if ev.Time.After(st.LastSeen) {
		st.LastSeen = ev.Time
	}
	st.CurrentStatus = StatusHealthy
	for _, other := range st.Sinks {
		if other.ConsecutiveFailures > 0 {
			st.CurrentStatus = StatusDegraded
			break
		}
	}
}

// Forget drops a vehicle.
func (s *MemoryStore) Forget(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *MemoryStore) Get(id string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[id]
	if !ok {
		return Status{}, false
	}
	return st.copy(), true
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.Status != "" && st.CurrentStatus != f.Status {
			continue
		}
		if f.Sink != "" && st.sinkIndex(f.Sink) < 0 {
			continue
		}
		res = append(res, st.copy())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VehicleID < res[j].VehicleID })
	return res
}

func (st *Status) sinkIndex(kind string) int {
	for i := range st.Sinks {
		if st.Sinks[i].Sink == kind {
			return i
		}
	}
	return -1
}

func (st *Status) copy() Status {
	out := *st
	out.Sinks = append([]SinkStatus(nil), st.Sinks...)
	return out
}
