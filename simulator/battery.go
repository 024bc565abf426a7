package main

import (
	"sync"
	"time"
)

// consumptionKWhPerKm is the energy used per driven kilometre.
const consumptionKWhPerKm = 0.17

// Battery models the traction battery of a simulated car.
type Battery struct {
	CapacityKWh  float64
	Soc          float64 // state of charge [0,1]
	ChargeRateKW float64
	mu           sync.Mutex
}

// Drive discharges the battery for dt at speed in m/s and returns the
// power drawn in kW.
func (b *Battery) Drive(speed float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	hours := dt.Hours()
	if hours <= 0 || speed <= 0 {
		return 0
	}
	km := speed * dt.Seconds() / 1000
	energy := km * consumptionKWhPerKm
	if avail := b.Soc * b.CapacityKWh; energy > avail {
		energy = avail
	}
	b.Soc -= energy / b.CapacityKWh
	b.clamp()
	return energy / hours
}

// Charge adds energy for dt at the charge rate and returns the power
// accepted in kW, negative as seen from the battery.
func (b *Battery) Charge(dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	hours := dt.Hours()
	if hours <= 0 {
		return 0
	}
	energy := b.ChargeRateKW * hours
	if room := (1 - b.Soc) * b.CapacityKWh; energy > room {
		energy = room
	}
	b.Soc += energy / b.CapacityKWh
	b.clamp()
	return -energy / hours
}

// Percent returns the state of charge in percent.
func (b *Battery) Percent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Soc * 100
}

func (b *Battery) clamp() {
	if b.Soc < 0 {
		b.Soc = 0
	}
	if b.Soc > 1 {
		b.Soc = 1
	}
}
