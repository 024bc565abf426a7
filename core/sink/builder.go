package sink

import (
	"fmt"
	"time"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/telemetry"
)

// Common holds the settings shared by every sink kind. The enable flags are
// kept raw: only a boolean true turns a sink on, never 1 or "1".
type Common struct {
	Enable    any      `json:"enable"`
	Enabled   any      `json:"enabled"`
	Interval  *float64 `json:"interval"`
	Aggregate string   `json:"aggregate"`
}

// IsEnabled reports whether either spelling of the flag is true.
func (c Common) IsEnabled() bool { return isTrue(c.Enable) || isTrue(c.Enabled) }

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// DecodeCommon extracts the shared settings from a raw sink configuration.
func DecodeCommon(settings map[string]any) (Common, error) {
	var c Common
	if err := factory.Decode(settings, &c); err != nil {
		return Common{}, err
	}
	return c, nil
}

// Defaults are the lane parameters applied when a client leaves them out.
type Defaults struct {
	Interval time.Duration
	Policy   telemetry.Policy
}

// Instance is a freshly built sink with its resolved lane parameters.
type Instance struct {
	Sink     Sink
	Interval time.Duration
	Policy   telemetry.Policy
}

// Builder resolves sink kinds to their factories.
type Builder struct {
	reg      *factory.Registry[Sink]
	defaults map[Kind]Defaults
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{reg: factory.NewRegistry[Sink](), defaults: make(map[Kind]Defaults)}
}

// Register binds a factory and its lane defaults to a kind.
func (b *Builder) Register(kind Kind, def Defaults, f factory.Factory[Sink]) error {
	if _, ok := kinds[kind]; !ok {
		return fmt.Errorf("register: unknown sink kind %q", kind)
	}
	if err := b.reg.Register(string(kind), f); err != nil {
		return err
	}
	b.defaults[kind] = def
	return nil
}

// Build creates the sink for one vehicle.
func (b *Builder) Build(vehicleID string, cfg Config) (Instance, error) {
	common, err := DecodeCommon(cfg.Settings)
	if err != nil {
		return Instance{}, fmt.Errorf("%s: decode settings: %w", cfg.Kind, err)
	}
	def := b.defaults[cfg.Kind]
	policy, err := telemetry.ParsePolicy(common.Aggregate, def.Policy)
	if err != nil {
		return Instance{}, fmt.Errorf("%s: %w", cfg.Kind, err)
	}
	interval := def.Interval
	if common.Interval != nil && *common.Interval >= 0 {
		interval = time.Duration(*common.Interval * float64(time.Second))
	}
	s, err := b.reg.Create(factory.ModuleConfig{Type: string(cfg.Kind), Scope: vehicleID, Conf: cfg.Settings})
	if err != nil {
		return Instance{}, err
	}
	return Instance{Sink: s, Interval: interval, Policy: policy}, nil
}
