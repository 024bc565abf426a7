package config

import (
	"errors"
	"fmt"
	"time"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Listen is a TCP address. It is ignored when SocketPath is set.
	Listen string `json:"listen"`
	// SocketPath serves on a unix socket instead of TCP.
	SocketPath             string `json:"socket_path"`
	MaxBodyBytes           int64  `json:"max_body_bytes"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Listen == "" && c.SocketPath == "" {
		c.Listen = ":8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ReadTimeoutSeconds <= 0 {
		c.ReadTimeoutSeconds = 30
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 10
	}
}

func (c ServerConfig) Validate() error {
	if c.Listen == "" && c.SocketPath == "" {
		return errors.New("listen or socket_path is required")
	}
	return nil
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// AuthConfig lists the accepted Authorization header values.
type AuthConfig struct {
	Keys []string `json:"keys"`
}

func (c *AuthConfig) SetDefaults() {}

func (c AuthConfig) Validate() error {
	if len(c.Keys) == 0 {
		return errors.New("at least one key is required")
	}
	for i, k := range c.Keys {
		if k == "" {
			return fmt.Errorf("key %d is empty", i)
		}
	}
	return nil
}

// CodecConfig selects the wire compression.
type CodecConfig struct {
	// Compression is "xz" or "zstd".
	Compression     string `json:"compression"`
	MaxPayloadBytes int64  `json:"max_payload_bytes"`
}

func (c *CodecConfig) SetDefaults() {
	if c.Compression == "" {
		c.Compression = "xz"
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 16 << 20
	}
}

func (c CodecConfig) Validate() error {
	if c.Compression != "xz" && c.Compression != "zstd" {
		return fmt.Errorf("unknown compression %s", c.Compression)
	}
	return nil
}
