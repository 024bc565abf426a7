// Package dispatch is the telemetry dispatch engine. It negotiates field
// interest when a vehicle configures its sinks and, on every telemetry
// batch, aggregates per sink and fans the due samples out concurrently.
//
// A sink failure only affects that sink: it is logged, counted and
// published as a TransmitEvent, and its throttle gate moves on. Rate limits
// push the gate further by Config.RateLimitPenalty.
package dispatch
