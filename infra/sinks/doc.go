// Package sinks implements the downstream services a vehicle can forward
// its telemetry to: ABRP, EVNotify, InfluxDB and an MQTT broker.
//
// Each sink is built per vehicle from the settings the client sent and
// keeps whatever last-known state its remote API needs.
package sinks
