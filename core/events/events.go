package events

import "time"

// Event is any value published on the dispatch bus.
type Event interface {
	VehicleID() string
}

// ConfigureEvent is published after a vehicle's sinks were (re)installed.
type ConfigureEvent struct {
	Vehicle   string
	Sinks     []string
	Fields    []string
	AllFields bool
	Time      time.Time
}

func (e ConfigureEvent) VehicleID() string { return e.Vehicle }

// TransmitEvent is published for each transmit attempt of a sink.
type TransmitEvent struct {
	Vehicle      string
	Sink         string
	Outcome      string
	Err          error
	Latency      time.Duration
	Fields       int
	NextEligible time.Time
	Time         time.Time
}

func (e TransmitEvent) VehicleID() string { return e.Vehicle }
