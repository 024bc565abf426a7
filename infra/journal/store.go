// Package journal persists delivery outcomes of sink transmissions. Only
// outcome metadata is stored, never telemetry values.
package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilianp07/evproxy/core/events"
)

// DefaultLimit caps query results when the caller sets none.
const DefaultLimit = 100

// Record is one transmit attempt.
type Record struct {
	Time         time.Time `json:"time"`
	VehicleID    string    `json:"vehicle_id"`
	Sink         string    `json:"sink"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	LatencyMS    float64   `json:"latency_ms"`
	Fields       int       `json:"fields"`
	NextEligible time.Time `json:"next_eligible"`
}

// FromEvent converts a dispatch event into a Record.
func FromEvent(ev events.TransmitEvent) Record {
	r := Record{
		Time:         ev.Time,
		VehicleID:    ev.Vehicle,
		Sink:         ev.Sink,
		Outcome:      ev.Outcome,
		LatencyMS:    float64(ev.Latency.Microseconds()) / 1000,
		Fields:       ev.Fields,
		NextEligible: ev.NextEligible,
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	return r
}

// Query filters records. Zero values match everything.
type Query struct {
	VehicleID string
	Since     time.Time
	Limit     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q Query) match(r Record) bool {
	if q.VehicleID != "" && r.VehicleID != q.VehicleID {
		return false
	}
	return q.Since.IsZero() || !r.Time.Before(q.Since)
}

// Store persists Records and supports querying. Query returns the most
// recent records first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects the journal backend.
type Config struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Open returns the store described by cfg. Without a format, paths ending in
// .jsonl select the JSONL backend and anything else SQLite.
func Open(cfg Config) (Store, error) {
	format := cfg.Format
	if format == "" {
		format = "sqlite"
		if strings.EqualFold(filepath.Ext(cfg.Path), ".jsonl") {
			format = "jsonl"
		}
	}
	switch format {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	default:
		return nil, fmt.Errorf("journal: unknown format %q", format)
	}
}
