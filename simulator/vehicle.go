package main

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/evproxy/api/proxy"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/telemetry"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Proxy is the part of the wire client a vehicle uses.
type Proxy interface {
	Configure(ctx context.Context, vehicleID string, settings map[string]map[string]any) ([]string, error)
	Transmit(ctx context.Context, vehicleID string, batch telemetry.Batch) error
}

// SimulatedVehicle drives or charges its battery and reports telemetry to
// the proxy.
type SimulatedVehicle struct {
	ID           string
	Segment      string
	Availability [24]float64
	Battery      *Battery
	Interval     time.Duration
	BatchSize    int
	Settings     map[string]map[string]any
	Proxy        Proxy
	Log          logger.Logger

	now      func() time.Time
	fields   []string
	lat, lon float64
	odo      float64
	heading  float64
	pending  telemetry.Batch
}

// Run configures the vehicle and reports a sample every Interval until ctx
// is done.
func (v *SimulatedVehicle) Run(ctx context.Context) error {
	v.init()
	if err := v.configure(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(v.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v.tick(ctx)
		}
	}
}

func (v *SimulatedVehicle) init() {
	if v.now == nil {
		v.now = time.Now
	}
	if v.Log == nil {
		v.Log = logger.Nop{}
	}
	if v.BatchSize <= 0 {
		v.BatchSize = 1
	}
	if v.lat == 0 && v.lon == 0 {
		v.lat = 48.85 + randFloat()/10
		v.lon = 2.35 + randFloat()/10
	}
}

func (v *SimulatedVehicle) configure(ctx context.Context) error {
	fields, err := v.Proxy.Configure(ctx, v.ID, v.Settings)
	if err != nil {
		return err
	}
	v.fields = fields
	v.Log.Debugf("%s configured, fields %v", v.ID, fields)
	return nil
}

// tick records one sample and flushes once BatchSize samples are pending.
func (v *SimulatedVehicle) tick(ctx context.Context) {
	v.pending = append(v.pending, v.filter(v.step(v.Interval)))
	if len(v.pending) < v.BatchSize {
		return
	}
	batch := v.pending
	v.pending = nil
	err := v.Proxy.Transmit(ctx, v.ID, batch)
	var se *proxy.StatusError
	if errors.As(err, &se) && se.NotConfigured() {
		if err = v.configure(ctx); err == nil {
			err = v.Proxy.Transmit(ctx, v.ID, batch)
		}
	}
	if err != nil {
		v.Log.Warnf("%s: transmit %d samples: %v", v.ID, len(batch), err)
	}
}

// step advances the simulation by dt and returns the resulting sample.
func (v *SimulatedVehicle) step(dt time.Duration) telemetry.Sample {
	now := v.now()
	driving := v.Segment == "commuter" && randFloat() < v.Availability[now.Hour()]
	s := telemetry.Sample{"timestamp": float64(now.UnixNano()) / 1e9}

	var speed, power float64
	charging := 0.0
	if driving {
		speed = 8 + randFloat()*20
		power = v.Battery.Drive(speed, dt)
		dist := speed * dt.Seconds()
		v.odo += dist / 1000
		v.heading = math.Mod(v.heading+(randFloat()-0.5)*30+360, 360)
		rad := v.heading * math.Pi / 180
		v.lat += dist * math.Cos(rad) / 111_320
		v.lon += dist * math.Sin(rad) / (111_320 * math.Cos(v.lat*math.Pi/180))
	} else if v.Battery.Percent() < 100 {
		power = v.Battery.Charge(dt)
		charging = 1
	}
	soc := v.Battery.Percent()
	s["SOC_DISPLAY"] = math.Round(soc*10) / 10
	s["SOC_BMS"] = math.Round((soc*0.96+2)*10) / 10
	s["speed"] = speed
	s["dcBatteryPower"] = power
	s["charging"] = charging
	s["normalChargePort"] = charging
	s["odo"] = v.odo
	s["heading"] = v.heading
	s["latitude"] = v.lat
	s["longitude"] = v.lon
	s["fix_mode"] = 3.0
	return s
}

// filter keeps the fields the proxy asked for. A nil interest keeps all.
func (v *SimulatedVehicle) filter(s telemetry.Sample) telemetry.Sample {
	if v.fields == nil {
		return s
	}
	out := make(telemetry.Sample, len(v.fields))
	for _, f := range v.fields {
		if val, ok := s[f]; ok {
			out[f] = val
		}
	}
	return out
}
