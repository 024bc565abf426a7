package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/evproxy/core/events"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/metrics"
	"github.com/kilianp07/evproxy/core/monitoring"
	"github.com/kilianp07/evproxy/core/session"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

// Ingest results reported to the metrics recorder.
const (
	IngestAccepted      = "accepted"
	IngestNotConfigured = "not_configured"
)

// Publisher receives dispatch events. *eventbus.TypedBus[events.Event]
// satisfies it.
type Publisher interface {
	Publish(events.Event)
}

// Dispatcher routes configuration and telemetry of vehicles to their sinks.
type Dispatcher struct {
	reg     *session.Registry
	cfg     Config
	log     logger.Logger
	metrics metrics.Recorder
	monitor monitoring.Monitor
	bus     Publisher
	clock   telemetry.Clock
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig sets timeouts and penalties. Zero values keep the defaults.
func WithConfig(c Config) Option {
	return func(d *Dispatcher) {
		c.SetDefaults()
		d.cfg = c
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.metrics = r
		}
	}
}

// WithMonitor sets the error monitor.
func WithMonitor(m monitoring.Monitor) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.monitor = m
		}
	}
}

// WithBus publishes configure and transmit events on p.
func WithBus(p Publisher) Option {
	return func(d *Dispatcher) { d.bus = p }
}

// WithClock overrides the time source driving the throttle gates.
func WithClock(c telemetry.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// New creates a dispatcher over reg.
func New(reg *session.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:     reg,
		log:     logger.Nop{},
		metrics: metrics.NopRecorder{},
		monitor: monitoring.NopMonitor{},
		clock:   time.Now,
	}
	d.cfg.SetDefaults()
	for _, o := range opts {
		o(d)
	}
	return d
}

// Registry returns the session registry the dispatcher works on.
func (d *Dispatcher) Registry() *session.Registry { return d.reg }

// Configured reports whether the vehicle has a live session.
func (d *Dispatcher) Configured(vehicleID string) bool {
	_, err := d.reg.Lookup(vehicleID)
	return err == nil
}

// Configure installs the sinks described by raw for the vehicle and returns
// the fields the client should send from now on.
func (d *Dispatcher) Configure(ctx context.Context, vehicleID string, raw map[string]map[string]any) (telemetry.FieldSet, error) {
	res, err := d.reg.Install(ctx, vehicleID, raw)
	if err != nil {
		return telemetry.FieldSet{}, fmt.Errorf("configure %s: %w", vehicleID, err)
	}
	fields, kinds := res.Fields, res.Kinds
	d.metrics.RecordConfigure(len(kinds))
	d.metrics.RecordSessions(d.reg.Len())
	d.publish(events.ConfigureEvent{
		Vehicle:   vehicleID,
		Sinks:     kinds,
		Fields:    fields.Names(),
		AllFields: fields.All(),
		Time:      d.clock(),
	})
	return fields, nil
}

// Ingest absorbs a batch into every lane of the vehicle and transmits to the
// lanes whose gate is open. Sink failures never fail the call; only an
// unknown vehicle does.
func (d *Dispatcher) Ingest(ctx context.Context, vehicleID string, batch telemetry.Batch) (telemetry.FieldSet, error) {
	sess, err := d.reg.Lookup(vehicleID)
	if err == nil {
		err = sess.Exclusive(func(lanes []*session.Lane) {
			d.fanOut(ctx, vehicleID, lanes, batch)
		})
	}
	if err != nil {
		d.metrics.RecordIngest(IngestNotConfigured, len(batch))
		return telemetry.FieldSet{}, err
	}
	d.metrics.RecordIngest(IngestAccepted, len(batch))
	return sess.Fields(), nil
}

type job struct {
	lane   *session.Lane
	sample telemetry.Sample
	err    error
	dur    time.Duration
}

// fanOut runs inside the vehicle's exclusive section.
func (d *Dispatcher) fanOut(ctx context.Context, vehicleID string, lanes []*session.Lane, batch telemetry.Batch) {
	now := d.clock()
	var due []*job
	for _, l := range lanes {
		l.Window.Absorb(batch)
		if !l.Gate.Eligible(now) {
			continue
		}
		s, ok := l.Window.Flush(l.Specs)
		if !ok {
			continue
		}
		due = append(due, &job{lane: l, sample: s})
	}
	if len(due) == 0 {
		return
	}

	// Transmits outlive a client that hangs up mid-request.
	base := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, j := range due {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			start := time.Now()
			j.err = d.transmit(base, j.lane.Sink, j.sample)
			j.dur = time.Since(start)
		}(j)
	}
	wg.Wait()

	for _, j := range due {
		d.settle(vehicleID, j, now)
	}
}

func (d *Dispatcher) transmit(ctx context.Context, s sink.Sink, sample telemetry.Sample) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.TransmitTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = sink.Errorf(s.Kind(), sink.ErrProtocol, "panic: %v", r)
		}
	}()
	return s.Transmit(ctx, sample)
}

// settle moves the lane's gate from now, the time the lane was found
// eligible, according to the transmit outcome and reports it.
func (d *Dispatcher) settle(vehicleID string, j *job, now time.Time) {
	kind := j.lane.Sink.Kind().String()
	outcome := sink.Classify(j.err)
	switch outcome {
	case sink.OutcomeSkipped:
		d.log.Debugf("vehicle %s: %s skipped: %v", vehicleID, kind, j.err)
		d.metrics.RecordTransmit(metrics.TransmitRecord{Sink: kind, Outcome: string(outcome), Duration: j.dur})
		return
	case sink.OutcomeRateLimited:
		j.lane.Gate.Penalize(now, j.lane.Interval, d.cfg.RateLimitPenalty)
		d.log.Warnf("vehicle %s: %s rate limited, next attempt at %s", vehicleID, kind, j.lane.Gate.Deadline().Format(time.RFC3339))
	case sink.OutcomeOK:
		j.lane.Gate.Advance(now, j.lane.Interval)
		d.log.Debugw("transmitted", map[string]any{
			"vehicle_id": vehicleID,
			"sink":       kind,
			"fields":     len(j.sample),
			"latency":    j.dur.String(),
		})
	default:
		j.lane.Gate.Advance(now, j.lane.Interval)
		d.log.Errorf("vehicle %s: %s %s: %v", vehicleID, kind, outcome, j.err)
		d.monitor.CaptureException(j.err, map[string]string{
			"vehicle_id": vehicleID,
			"sink":       kind,
			"outcome":    string(outcome),
		})
	}
	d.metrics.RecordTransmit(metrics.TransmitRecord{Sink: kind, Outcome: string(outcome), Duration: j.dur})
	d.publish(events.TransmitEvent{
		Vehicle:      vehicleID,
		Sink:         kind,
		Outcome:      string(outcome),
		Err:          j.err,
		Latency:      j.dur,
		Fields:       len(j.sample),
		NextEligible: j.lane.Gate.Deadline(),
		Time:         now,
	})
}

func (d *Dispatcher) publish(e events.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}

// Shutdown releases every vehicle's sinks. Configure fails afterwards.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	err := d.reg.ShutdownAll(ctx)
	d.metrics.RecordSessions(0)
	return err
}
