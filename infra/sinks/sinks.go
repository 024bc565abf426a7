package sinks

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

// Options holds process-wide sink settings.
type Options struct {
	ABRPAPIKey  string
	ABRPURL     string
	EVNotifyURL string
	HTTPClient  *http.Client
}

func (o *Options) setDefaults() {
	if o.ABRPURL == "" {
		o.ABRPURL = DefaultABRPURL
	}
	if o.EVNotifyURL == "" {
		o.EVNotifyURL = DefaultEVNotifyURL
	}
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(10 * time.Second)
	}
}

// Register binds the built-in sink kinds and their lane defaults to b.
func Register(b *sink.Builder, opts Options) error {
	opts.setDefaults()
	regs := []struct {
		kind    sink.Kind
		def     sink.Defaults
		factory factory.Factory[sink.Sink]
	}{
		{sink.KindABRP, sink.Defaults{Interval: 5 * time.Second, Policy: telemetry.PolicyLast}, newABRP(opts)},
		{sink.KindEVNotify, sink.Defaults{Interval: 30 * time.Second, Policy: telemetry.PolicyLast}, newEVNotify(opts)},
		{sink.KindInfluxDB, sink.Defaults{Policy: telemetry.PolicyLast}, newInfluxDB(opts)},
		{sink.KindMQTT, sink.Defaults{Policy: telemetry.PolicyLast}, newMQTT},
	}
	for _, r := range regs {
		if err := b.Register(r.kind, r.def, r.factory); err != nil {
			return fmt.Errorf("register %s: %w", r.kind, err)
		}
	}
	return nil
}
