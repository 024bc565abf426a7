package app

import (
	"context"

	"github.com/kilianp07/evproxy/core/events"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/vehiclestatus"
	"github.com/kilianp07/evproxy/infra/journal"
	"github.com/kilianp07/evproxy/internal/eventbus"
)

// tracker folds dispatch events into the vehicle status store and appends
// transmit outcomes to the journal.
type tracker struct {
	status  vehiclestatus.Store
	journal journal.Store
	log     logger.Logger
}

// run consumes sub until ctx is done or the bus closes it. done is closed on
// return.
func (t *tracker) run(ctx context.Context, bus *eventbus.TypedBus[events.Event], sub <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			// drain what was already published
			for {
				select {
				case ev, ok := <-sub:
					if !ok {
						return
					}
					t.handle(ev)
				default:
					return
				}
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			t.handle(ev)
		}
	}
}

func (t *tracker) handle(ev events.Event) {
	switch e := ev.(type) {
	case events.ConfigureEvent:
		if t.status != nil {
			t.status.RecordConfigure(e)
		}
	case events.TransmitEvent:
		if t.status != nil {
			t.status.RecordTransmit(e)
		}
		if t.journal != nil {
			if err := t.journal.Append(context.Background(), journal.FromEvent(e)); err != nil {
				t.log.Warnf("journal %s/%s: %v", e.Vehicle, e.Sink, err)
			}
		}
	}
}
