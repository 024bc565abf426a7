// Package sinktest provides an in-memory sink used by the registry,
// dispatcher and HTTP tests.
//
// Fakes are driven by their settings map, so tests configure them through the
// same path clients use:
//
//	"fields":      []any{"a", "b"} or "all" (default "all")
//	"fail":        "rate_limited", "transport", "protocol", "skip" or "panic"
//	"delay_ms":    time Transmit waits before returning
//	"build_error": true makes the factory fail
//	"shutdown_error": true makes Shutdown fail
package sinktest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

type fakeConf struct {
	Fields        any    `json:"fields"`
	Fail          string `json:"fail"`
	DelayMS       int    `json:"delay_ms"`
	BuildError    bool   `json:"build_error"`
	ShutdownError bool   `json:"shutdown_error"`
}

// Fake is a sink that records every call.
type Fake struct {
	ID      int
	Vehicle string

	kind   sink.Kind
	fields telemetry.FieldSet
	conf   fakeConf
	rec    *Recorder

	mu        sync.Mutex
	transmits []telemetry.Sample
	shutdowns int
}

func (f *Fake) Kind() sink.Kind            { return f.kind }
func (f *Fake) Fields() telemetry.FieldSet { return f.fields }
func (f *Fake) Specs() telemetry.Specs {
	return telemetry.Specs{"x": {Key: "x", Decimals: 0}}
}

// Transmit records the sample and fails according to the "fail" setting.
func (f *Fake) Transmit(ctx context.Context, s telemetry.Sample) error {
	f.rec.event(fmt.Sprintf("transmit %s#%d", f.kind, f.ID))
	f.mu.Lock()
	f.transmits = append(f.transmits, s.Clone())
	f.mu.Unlock()
	if hook := f.rec.OnTransmit; hook != nil {
		hook(f)
	}
	if f.conf.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(f.conf.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return sink.Errorf(f.kind, sink.ErrTransport, "wait: %w", ctx.Err())
		}
	}
	switch f.conf.Fail {
	case "rate_limited":
		return sink.Errorf(f.kind, sink.ErrRateLimited, "code(429)")
	case "transport":
		return sink.Errorf(f.kind, sink.ErrTransport, "connection failed")
	case "protocol":
		return sink.Errorf(f.kind, sink.ErrProtocol, "unexpected answer")
	case "skip":
		return sink.Errorf(f.kind, sink.ErrNothingToSend, "held back")
	case "panic":
		panic("fake sink exploded")
	}
	return nil
}

// Shutdown counts calls.
func (f *Fake) Shutdown(context.Context) error {
	f.rec.event(fmt.Sprintf("shutdown %s#%d", f.kind, f.ID))
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	if f.conf.ShutdownError {
		return errors.New("shutdown failed")
	}
	return nil
}

// Transmits returns a copy of the received samples.
func (f *Fake) Transmits() []telemetry.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telemetry.Sample(nil), f.transmits...)
}

// Shutdowns returns the number of Shutdown calls.
func (f *Fake) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

// Recorder builds fakes and keeps them, and an ordered event log, for
// assertions.
type Recorder struct {
	// OnTransmit, when set before sinks are built, runs inside every
	// Transmit call after the sample is recorded.
	OnTransmit func(*Fake)

	mu      sync.Mutex
	created []*Fake
	events  []string
}

// Builder returns a sink builder whose kinds all produce fakes. Lane
// defaults are zero: no interval and last-value aggregation.
func (r *Recorder) Builder() *sink.Builder {
	b := sink.NewBuilder()
	for _, k := range sink.Kinds() {
		kind := k
		_ = b.Register(kind, sink.Defaults{}, func(cfg factory.ModuleConfig) (sink.Sink, error) {
			return r.build(kind, cfg)
		})
	}
	return b
}

func (r *Recorder) build(kind sink.Kind, cfg factory.ModuleConfig) (sink.Sink, error) {
	var c fakeConf
	if err := factory.Decode(cfg.Conf, &c); err != nil {
		return nil, err
	}
	if c.BuildError {
		return nil, errors.New("build failed")
	}
	f := &Fake{Vehicle: cfg.Scope, kind: kind, conf: c, rec: r, fields: parseFields(c.Fields)}
	r.mu.Lock()
	f.ID = len(r.created) + 1
	r.created = append(r.created, f)
	r.mu.Unlock()
	return f, nil
}

func parseFields(v any) telemetry.FieldSet {
	list, ok := v.([]any)
	if !ok {
		return telemetry.AllFields()
	}
	names := make([]string, 0, len(list))
	for _, n := range list {
		if s, ok := n.(string); ok {
			names = append(names, s)
		}
	}
	return telemetry.NewFieldSet(names...)
}

func (r *Recorder) event(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Created returns the fakes built so far, in creation order.
func (r *Recorder) Created() []*Fake {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Fake(nil), r.created...)
}

// Last returns the most recently built fake of the given kind.
func (r *Recorder) Last(kind sink.Kind) *Fake {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.created) - 1; i >= 0; i-- {
		if r.created[i].kind == kind {
			return r.created[i]
		}
	}
	return nil
}

// Events returns the ordered log of transmit and shutdown calls.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock { return &Clock{now: start} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
