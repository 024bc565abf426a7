package main

import (
	"errors"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	URL            string
	Key            string
	FleetSize      int
	CommuterPct    float64
	Interval       time.Duration
	BatchSize      int
	Compression    string
	SettingsFile   string
	Availability   string
	BatteryProfile string
	CapacityKWh    float64
	ChargeRateKW   float64
	Verbose        bool
}

// Validate checks the parameters that have no usable default.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.FleetSize <= 0 {
		return errors.New("fleet-size must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	return nil
}

func applyBatteryProfile(cfg *Config) error {
	switch cfg.BatteryProfile {
	case "small":
		cfg.CapacityKWh = 20
		cfg.ChargeRateKW = 3.6
	case "medium":
		cfg.CapacityKWh = 40
		cfg.ChargeRateKW = 7
	case "large":
		cfg.CapacityKWh = 80
		cfg.ChargeRateKW = 11
	case "":
	default:
		return errors.New("unknown battery profile " + cfg.BatteryProfile)
	}
	return nil
}
