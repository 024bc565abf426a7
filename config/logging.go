package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LoggingConfig sets the global log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("unknown level %s", c.Level)
	}
	return nil
}

// JournalConfig defines settings for the delivery journal and its rotation.
type JournalConfig struct {
	// Path is the file location of the journal. Empty disables it.
	Path string `json:"path"`
	// Format selects the store type: "jsonl" or "sqlite". Empty picks by
	// extension.
	Format string `json:"format"`
	// MaxSizeMB triggers rotation when a JSONL file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

func (c *JournalConfig) SetDefaults() {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
}

func (c JournalConfig) Validate() error {
	if c.Format != "" && c.Format != "jsonl" && c.Format != "sqlite" {
		return fmt.Errorf("unknown format %s", c.Format)
	}
	return nil
}
