// Package telemetry holds the vehicle sample model and the per-lane state the
// dispatcher keeps between transmits: the field interest set, the
// aggregation window and the throttle gate.
package telemetry
