package dispatch

import "time"

// Config holds the fan-out timing parameters.
type Config struct {
	// TransmitTimeout bounds a single sink transmit.
	TransmitTimeout time.Duration
	// RateLimitPenalty is added to the interval of a rate limited sink.
	RateLimitPenalty time.Duration
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.TransmitTimeout <= 0 {
		c.TransmitTimeout = 5 * time.Second
	}
	if c.RateLimitPenalty <= 0 {
		c.RateLimitPenalty = 60 * time.Second
	}
}
