// Package events defines the dispatch related events emitted on the event bus.
//
// Available event types:
//   - ConfigureEvent: a vehicle's sink set was installed or replaced
//   - TransmitEvent: outcome of one transmit attempt to one sink
package events
