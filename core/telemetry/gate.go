package telemetry

import "time"

// Clock returns the current time. time.Now carries a monotonic reading which
// Gate comparisons use.
type Clock func() time.Time

// Gate decides whether a lane may transmit. The zero Gate is eligible.
type Gate struct {
	deadline time.Time
}

// Eligible reports whether now is at or past the deadline.
func (g *Gate) Eligible(now time.Time) bool {
	return g.deadline.IsZero() || !now.Before(g.deadline)
}

// Advance moves the deadline to now plus interval.
func (g *Gate) Advance(now time.Time, interval time.Duration) {
	g.deadline = now.Add(interval)
}

// Penalize moves the deadline to now plus interval plus an extra backoff.
func (g *Gate) Penalize(now time.Time, interval, extra time.Duration) {
	g.deadline = now.Add(interval + extra)
}

// Deadline returns the earliest time the gate will be eligible again.
func (g *Gate) Deadline() time.Time { return g.deadline }
