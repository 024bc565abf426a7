package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/evproxy/core/telemetry"
)

// Kind identifies one downstream integration.
type Kind string

const (
	// KindABRP forwards live telemetry to the A Better Routeplanner aggregator.
	KindABRP Kind = "abrp"
	// KindEVNotify forwards state of charge and extended data to EVNotify.
	KindEVNotify Kind = "evnotify"
	// KindInfluxDB writes telemetry points to an InfluxDB bucket.
	KindInfluxDB Kind = "influxdb"
	// KindMQTT publishes the state of charge to an MQTT broker.
	KindMQTT Kind = "mqtt"
)

var kinds = map[Kind]struct{}{
	KindABRP:     {},
	KindEVNotify: {},
	KindInfluxDB: {},
	KindMQTT:     {},
}

// ParseKind returns the Kind for s or an error if s is not a known kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unknown sink kind %q", s)
	}
	return k, nil
}

// Kinds returns every known kind in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (k Kind) String() string { return string(k) }

// Sink is a live downstream integration bound to one vehicle.
type Sink interface {
	// Kind returns the integration implemented by the sink.
	Kind() Kind
	// Fields returns the telemetry fields the sink consumes.
	Fields() telemetry.FieldSet
	// Specs returns rounding and key mapping for the fields that need it.
	Specs() telemetry.Specs
	// Transmit forwards one reduced sample. Errors should be built with
	// Errorf so the dispatcher can classify them.
	Transmit(ctx context.Context, s telemetry.Sample) error
	// Shutdown releases connections. It must be idempotent.
	Shutdown(ctx context.Context) error
}

// Config is the raw configuration of one sink as sent by a client.
type Config struct {
	Kind     Kind
	Settings map[string]any
}
