// Package scenarios replays YAML described vehicle timelines against an
// in-memory dispatcher and checks what the sinks received.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step is one client request at a point on the scenario clock. Exactly one
// of Configure and Samples is set.
type Step struct {
	AtSeconds float64                   `yaml:"at_seconds"`
	Vehicle   string                    `yaml:"vehicle"`
	Configure map[string]map[string]any `yaml:"configure,omitempty"`
	Samples   []map[string]any          `yaml:"samples,omitempty"`
	// ExpectError names the expected failure: "not_configured" or "closed".
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Expected lists what the sinks must have seen at the end of the run.
type Expected struct {
	// Transmits counts transmit attempts per vehicle and sink kind.
	Transmits map[string]map[string]int `yaml:"transmits"`
	// Last holds fields of the last sample per vehicle and sink kind.
	Last map[string]map[string]map[string]float64 `yaml:"last,omitempty"`
	// Outcomes counts transmit outcomes across all sinks.
	Outcomes map[string]int `yaml:"outcomes,omitempty"`
	// Shutdowns counts sink shutdowns per vehicle.
	Shutdowns map[string]int `yaml:"shutdowns,omitempty"`
}

type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Shutdown    bool     `yaml:"shutdown,omitempty"`
	Steps       []Step   `yaml:"steps"`
	Expected    Expected `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	last := 0.0
	for i, st := range sc.Steps {
		if st.Vehicle == "" {
			return fmt.Errorf("step %d: vehicle is required", i)
		}
		if (st.Configure == nil) == (st.Samples == nil) {
			return fmt.Errorf("step %d: set exactly one of configure and samples", i)
		}
		if st.AtSeconds < last {
			return fmt.Errorf("step %d: at_seconds goes back in time", i)
		}
		last = st.AtSeconds
	}
	return nil
}
