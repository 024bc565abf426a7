package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kilianp07/evproxy/api/proxy"
	"github.com/kilianp07/evproxy/infra/codec"
	"github.com/kilianp07/evproxy/infra/logger"
)

func main() {
	cfg := parseFlags()
	log := logger.New("simulator")
	if err := run(cfg, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg Config, log logger.Logger) error {
	if err := (&cfg).Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := applyBatteryProfile(&cfg); err != nil {
		return err
	}
	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	if err := logger.SetLevel(level); err != nil {
		return err
	}

	settings := map[string]map[string]any{"influxdb": {"enabled": true}}
	if cfg.SettingsFile != "" {
		data, err := os.ReadFile(cfg.SettingsFile)
		if err != nil {
			return fmt.Errorf("settings file: %w", err)
		}
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("settings file: %w", err)
		}
	}

	var prof [24]float64
	if cfg.Availability != "" {
		data, err := os.ReadFile(cfg.Availability)
		if err != nil {
			return fmt.Errorf("availability file: %w", err)
		}
		if prof, err = LoadAvailabilityProfile(data); err != nil {
			return fmt.Errorf("availability file: %w", err)
		}
	} else {
		for i := range prof {
			prof[i] = 0.5
		}
	}

	c, err := codec.New(codec.Options{Compression: codec.Compression(cfg.Compression)})
	if err != nil {
		return err
	}
	client := proxy.NewClient(cfg.URL, cfg.Key, c, &http.Client{Timeout: 10 * time.Second})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	vehicles := GenerateFleet(FleetConfig{Size: cfg.FleetSize, CommuterPct: cfg.CommuterPct, Availability: prof})
	runVehicles(ctx, vehicles, cfg, client, settings, log)
	return nil
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.URL, "url", "http://localhost:8080", "proxy base URL")
	flag.StringVar(&cfg.Key, "key", "", "Authorization header value")
	flag.IntVar(&cfg.FleetSize, "fleet-size", 1, "number of vehicles")
	flag.Float64Var(&cfg.CommuterPct, "commuter-pct", 0.5, "ratio of vehicles that drive")
	flag.DurationVar(&cfg.Interval, "interval", 5*time.Second, "sample interval")
	flag.IntVar(&cfg.BatchSize, "batch", 1, "samples per transmit")
	flag.StringVar(&cfg.Compression, "compression", "xz", "wire compression (xz, zstd)")
	flag.StringVar(&cfg.SettingsFile, "settings-file", "", "JSON sink settings sent by every vehicle")
	flag.StringVar(&cfg.Availability, "availability-file", "", "hourly driving probability JSON")
	flag.StringVar(&cfg.BatteryProfile, "battery-profile", "", "predefined battery profile (small,medium,large)")
	flag.Float64Var(&cfg.CapacityKWh, "capacity", 40, "battery capacity kWh")
	flag.Float64Var(&cfg.ChargeRateKW, "charge-rate", 7, "charge rate kW")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	return cfg
}

func runVehicles(ctx context.Context, vehicles []SimulatedVehicle, cfg Config, p Proxy, settings map[string]map[string]any, log logger.Logger) {
	var wg sync.WaitGroup
	for i := range vehicles {
		v := &vehicles[i]
		v.Battery = &Battery{CapacityKWh: cfg.CapacityKWh, Soc: 0.8, ChargeRateKW: cfg.ChargeRateKW}
		v.Interval = cfg.Interval
		v.BatchSize = cfg.BatchSize
		v.Settings = settings
		v.Proxy = p
		v.Log = log
		wg.Add(1)
		go func(v *SimulatedVehicle) {
			defer wg.Done()
			if err := v.Run(ctx); err != nil {
				log.Errorf("%s: %v", v.ID, err)
			}
		}(v)
	}
	wg.Wait()
}
