package metrics

import (
	"context"

	"github.com/kilianp07/evproxy/core/events"
	"github.com/kilianp07/evproxy/infra/logger"
	"github.com/kilianp07/evproxy/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and hands every event to
// rec. It stops when the context is canceled or the bus is closed.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], rec EventRecorder) {
	if bus == nil || rec == nil {
		return
	}
	log := logger.New("event-collector")
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				var err error
				switch e := ev.(type) {
				case events.ConfigureEvent:
					err = rec.RecordConfigureEvent(e)
				case events.TransmitEvent:
					err = rec.RecordTransmitEvent(e)
				}
				if err != nil {
					log.Warnf("record %T for %s: %v", ev, ev.VehicleID(), err)
				}
			}
		}
	}()
}
