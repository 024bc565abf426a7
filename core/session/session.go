package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

// Lane is one sink of a vehicle together with the window and gate that
// throttle it.
type Lane struct {
	Sink     sink.Sink
	Window   *telemetry.Window
	Gate     telemetry.Gate
	Interval time.Duration
	Specs    telemetry.Specs
}

func newLane(inst sink.Instance) *Lane {
	return &Lane{
		Sink:     inst.Sink,
		Window:   telemetry.NewWindow(inst.Policy, inst.Sink.Fields()),
		Interval: inst.Interval,
		Specs:    inst.Sink.Specs(),
	}
}

// Session is the live state of one vehicle. Its lanes are only reachable
// through Exclusive, which serializes ingest and reconfiguration.
type Session struct {
	id     string
	fields atomic.Pointer[telemetry.FieldSet]

	mu           sync.Mutex
	lanes        []*Lane
	configuredAt time.Time
	closed       bool
}

func newSession(id string) *Session {
	s := &Session{id: id}
	empty := telemetry.NewFieldSet()
	s.fields.Store(&empty)
	return s
}

// ID returns the vehicle identifier.
func (s *Session) ID() string { return s.id }

// Fields returns the union of the interests of the installed sinks.
func (s *Session) Fields() telemetry.FieldSet { return *s.fields.Load() }

// Exclusive runs fn with the session's lanes while holding the vehicle's
// exclusive section. It returns ErrNotConfigured if the session was closed.
func (s *Session) Exclusive(fn func(lanes []*Lane)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConfigured
	}
	fn(s.lanes)
	return nil
}

// ConfiguredAt returns the time the current sink set was installed.
func (s *Session) ConfiguredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configuredAt
}

// install must be called with mu held.
func (s *Session) install(lanes []*Lane, fields telemetry.FieldSet, now time.Time) {
	s.lanes = lanes
	s.configuredAt = now
	s.fields.Store(&fields)
}

func (s *Session) close() []*Lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	lanes := s.lanes
	s.lanes = nil
	s.closed = true
	return lanes
}

// LaneInfo describes one lane for status reporting.
type LaneInfo struct {
	Sink         string        `json:"sink"`
	Interval     time.Duration `json:"interval"`
	Policy       string        `json:"policy"`
	NextEligible time.Time     `json:"next_eligible"`
	Pending      bool          `json:"pending"`
}

// Info is a point-in-time view of a session.
type Info struct {
	Vehicle      string     `json:"vehicle_id"`
	Fields       []string   `json:"fields"`
	AllFields    bool       `json:"all_fields"`
	ConfiguredAt time.Time  `json:"configured_at"`
	Lanes        []LaneInfo `json:"lanes"`
}

// Info returns the current view of the session. It takes the exclusive
// section, so it waits for an in-flight fan-out.
func (s *Session) Info() Info {
	f := s.Fields()
	info := Info{Vehicle: s.id, Fields: f.Names(), AllFields: f.All()}
	s.mu.Lock()
	defer s.mu.Unlock()
	info.ConfiguredAt = s.configuredAt
	for _, l := range s.lanes {
		info.Lanes = append(info.Lanes, LaneInfo{
			Sink:         l.Sink.Kind().String(),
			Interval:     l.Interval,
			Policy:       l.Window.Policy().String(),
			NextEligible: l.Gate.Deadline(),
			Pending:      !l.Window.Empty(),
		})
	}
	return info
}
