package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
)

var (
	// ErrNotConfigured is returned for vehicles that never sent their sink
	// settings. Clients must configure again before sending telemetry.
	ErrNotConfigured = errors.New("vehicle not configured")
	// ErrClosed is returned once ShutdownAll has been called.
	ErrClosed = errors.New("session registry closed")
)

// Registry maps vehicle identifiers to their sessions and owns the lifecycle
// of every sink it builds.
type Registry struct {
	builder  *sink.Builder
	log      logger.Logger
	clock    telemetry.Clock
	defaults map[string]map[string]any

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source used to stamp sessions.
func WithClock(c telemetry.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithDefaults sets sink settings applied to every vehicle whose
// configuration does not mention that sink kind.
func WithDefaults(d map[string]map[string]any) Option {
	return func(r *Registry) { r.defaults = d }
}

// NewRegistry creates an empty registry building sinks with b.
func NewRegistry(b *sink.Builder, opts ...Option) *Registry {
	r := &Registry{
		builder:  b,
		log:      logger.Nop{},
		clock:    time.Now,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Installed describes the sink set a configuration left in place.
type Installed struct {
	Fields telemetry.FieldSet
	Kinds  []string
}

// Configure builds the sinks requested by raw and installs them as the
// vehicle's sink set, shutting down the previous set first. Unknown,
// disabled and failing sinks are skipped. It returns the union of the
// installed sinks' interests.
func (r *Registry) Configure(ctx context.Context, vehicleID string, raw map[string]map[string]any) (telemetry.FieldSet, error) {
	res, err := r.Install(ctx, vehicleID, raw)
	return res.Fields, err
}

// Install is Configure returning the installed sink kinds too. Both are
// captured in the same exclusive section as the swap.
func (r *Registry) Install(ctx context.Context, vehicleID string, raw map[string]map[string]any) (Installed, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return Installed{}, ErrClosed
	}

	lanes, fields := r.build(vehicleID, r.withDefaults(raw))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.release(ctx, vehicleID, lanes)
		return Installed{}, ErrClosed
	}
	sess, ok := r.sessions[vehicleID]
	if !ok {
		sess = newSession(vehicleID)
		sess.mu.Lock()
		r.sessions[vehicleID] = sess
		r.mu.Unlock()
	} else {
		r.mu.Unlock()
		sess.mu.Lock()
	}
	defer sess.mu.Unlock()

	if sess.closed {
		r.release(ctx, vehicleID, lanes)
		return Installed{}, ErrClosed
	}
	r.release(ctx, vehicleID, sess.lanes)
	sess.install(lanes, fields, r.clock())
	kinds := make([]string, 0, len(lanes))
	for _, l := range lanes {
		kinds = append(kinds, l.Sink.Kind().String())
	}
	r.log.Infof("vehicle %s configured with %d sinks", vehicleID, len(lanes))
	return Installed{Fields: fields, Kinds: kinds}, nil
}

func (r *Registry) withDefaults(raw map[string]map[string]any) map[string]map[string]any {
	if len(r.defaults) == 0 {
		return raw
	}
	out := make(map[string]map[string]any, len(raw)+len(r.defaults))
	for k, v := range raw {
		out[k] = v
	}
	for k, v := range r.defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func (r *Registry) build(vehicleID string, raw map[string]map[string]any) ([]*Lane, telemetry.FieldSet) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := telemetry.NewFieldSet()
	lanes := make([]*Lane, 0, len(names))
	for _, name := range names {
		settings := raw[name]
		kind, err := sink.ParseKind(name)
		if err != nil {
			r.log.Warnf("vehicle %s: got unknown service %s", vehicleID, name)
			continue
		}
		common, err := sink.DecodeCommon(settings)
		if err != nil {
			r.log.Warnf("vehicle %s: bad settings for %s: %v", vehicleID, name, err)
			continue
		}
		if !common.IsEnabled() {
			continue
		}
		inst, err := r.builder.Build(vehicleID, sink.Config{Kind: kind, Settings: settings})
		if err != nil {
			r.log.Warnf("vehicle %s: got bad service %s: %v", vehicleID, name, err)
			continue
		}
		lanes = append(lanes, newLane(inst))
		fields = fields.Union(inst.Sink.Fields())
	}
	return lanes, fields
}

// release shuts down the sinks of lanes concurrently and waits for all of
// them.
func (r *Registry) release(ctx context.Context, vehicleID string, lanes []*Lane) error {
	if len(lanes) == 0 {
		return nil
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, l := range lanes {
		wg.Add(1)
		go func(s sink.Sink) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				r.log.Warnf("vehicle %s: shutdown %s: %v", vehicleID, s.Kind(), err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s/%s: %w", vehicleID, s.Kind(), err))
				mu.Unlock()
			}
		}(l.Sink)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Lookup returns the vehicle's session or ErrNotConfigured.
func (r *Registry) Lookup(vehicleID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[vehicleID]
	if !ok {
		return nil, ErrNotConfigured
	}
	return sess, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Vehicles returns the identifiers of all live sessions in sorted order.
func (r *Registry) Vehicles() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ShutdownAll releases every session's sinks and closes the registry.
// Sessions are drained concurrently; in-flight fan-outs finish first.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			lanes := s.close()
			if err := r.release(ctx, s.ID(), lanes); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(sess)
	}
	wg.Wait()
	r.log.Infof("released %d sessions", len(sessions))
	return errors.Join(errs...)
}

// Snapshot returns the view of every live session, sorted by vehicle.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}
