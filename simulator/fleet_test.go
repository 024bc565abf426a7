package main

import (
	"math/rand"
	"testing"
)

func TestGenerateFleetCount(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	vs := GenerateFleet(FleetConfig{Size: 5})
	if len(vs) != 5 {
		t.Fatalf("expected 5 vehicles, got %d", len(vs))
	}
	if vs[0].ID != "veh0001" || vs[4].ID != "veh0005" {
		t.Fatalf("unexpected ids %s %s", vs[0].ID, vs[4].ID)
	}
	if GenerateFleet(FleetConfig{}) != nil {
		t.Fatal("expected no vehicles")
	}
}

func TestDistribution(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	vs := GenerateFleet(FleetConfig{Size: 100, CommuterPct: 0.6})
	commuters := 0
	for i := range vs {
		if vs[i].Segment == "commuter" {
			commuters++
		}
	}
	if commuters < 40 || commuters > 80 {
		t.Fatalf("commuter ratio unexpected: %d", commuters)
	}
}

func TestLoadAvailability(t *testing.T) {
	prof, err := LoadAvailabilityProfile([]byte(`{"0":0.1,"1":0.2,"2":0.3,"x":1,"30":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if prof[2] != 0.3 {
		t.Fatalf("expected 0.3 got %f", prof[2])
	}
	if _, err := LoadAvailabilityProfile([]byte(`invalid`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyBatteryProfile(t *testing.T) {
	cfg := Config{BatteryProfile: "large"}
	if err := applyBatteryProfile(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.CapacityKWh != 80 || cfg.ChargeRateKW != 11 {
		t.Fatalf("unexpected profile %+v", cfg)
	}
	cfg.BatteryProfile = "huge"
	if err := applyBatteryProfile(&cfg); err == nil {
		t.Fatal("expected error")
	}
}
