package config

import (
	"time"

	"github.com/kilianp07/evproxy/core/dispatch"
)

// DispatchConfig holds the fan-out timings in seconds.
type DispatchConfig struct {
	TransmitTimeoutSeconds  int `json:"transmit_timeout_seconds"`
	RateLimitPenaltySeconds int `json:"rate_limit_penalty_seconds"`
}

func (c *DispatchConfig) SetDefaults() {
	if c.TransmitTimeoutSeconds <= 0 {
		c.TransmitTimeoutSeconds = 5
	}
	if c.RateLimitPenaltySeconds <= 0 {
		c.RateLimitPenaltySeconds = 60
	}
}

func (c DispatchConfig) Validate() error { return nil }

// Engine converts the section to the dispatcher configuration.
func (c DispatchConfig) Engine() dispatch.Config {
	return dispatch.Config{
		TransmitTimeout:  time.Duration(c.TransmitTimeoutSeconds) * time.Second,
		RateLimitPenalty: time.Duration(c.RateLimitPenaltySeconds) * time.Second,
	}
}
