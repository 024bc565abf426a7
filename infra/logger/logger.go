package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/evproxy/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards everything.
type NopLogger = corelogger.Nop

// New returns a Logger for the given component. The output format is
// selected via the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// SetLevel sets the minimum level of every logger. An empty level keeps
// info.
func SetLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("logging level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
