package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

var fleetRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// FleetConfig holds parameters for bulk fleet generation.
type FleetConfig struct {
	Size        int
	CommuterPct float64
	// Availability is the probability per hour of day that a car is on
	// the road.
	Availability [24]float64
}

// GenerateFleet creates Size vehicles with IDs veh0001..vehNNNN. Commuters
// drive at the rate of the availability profile, the others stay parked
// and charge.
func GenerateFleet(cfg FleetConfig) []SimulatedVehicle {
	if cfg.Size <= 0 {
		return nil
	}
	vs := make([]SimulatedVehicle, cfg.Size)
	for i := range vs {
		seg := "parked"
		if cfg.CommuterPct > 0 && fleetRng.Float64() < cfg.CommuterPct {
			seg = "commuter"
		}
		vs[i] = SimulatedVehicle{
			ID:           fmt.Sprintf("veh%04d", i+1),
			Segment:      seg,
			Availability: cfg.Availability,
		}
	}
	return vs
}

// LoadAvailabilityProfile reads an hourly driving profile keyed by hour.
func LoadAvailabilityProfile(data []byte) ([24]float64, error) {
	var m map[string]float64
	var prof [24]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			prof[hour] = v
		}
	}
	return prof, nil
}
