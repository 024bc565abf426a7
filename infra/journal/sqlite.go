package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS deliveries (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        vehicle_id TEXT NOT NULL,
        sink TEXT NOT NULL,
        outcome TEXT NOT NULL,
        error TEXT,
        latency_ms REAL,
        fields INTEGER,
        next_eligible INTEGER
    );`
	index := `CREATE INDEX IF NOT EXISTS deliveries_vehicle_ts ON deliveries(vehicle_id, ts);`
	for _, stmt := range []string{schema, index} {
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (ts, vehicle_id, sink, outcome, error, latency_ms, fields, next_eligible)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		unixNano(rec.Time), rec.VehicleID, rec.Sink, rec.Outcome, rec.Error,
		rec.LatencyMS, rec.Fields, unixNano(rec.NextEligible))
	return err
}

// Query returns records matching q, newest first.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, vehicle_id, sink, outcome, error, latency_ms, fields, next_eligible
        FROM deliveries WHERE 1=1`
	if q.VehicleID != "" {
		query += ` AND vehicle_id = ?`
		args = append(args, q.VehicleID)
	}
	if !q.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, unixNano(q.Since))
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, q.limit())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r          Record
			ts, next   int64
			errStr     sql.NullString
			latencyMS  sql.NullFloat64
			fieldCount sql.NullInt64
		)
		if err := rows.Scan(&ts, &r.VehicleID, &r.Sink, &r.Outcome, &errStr, &latencyMS, &fieldCount, &next); err != nil {
			return nil, err
		}
		r.Time = fromUnixNano(ts)
		r.NextEligible = fromUnixNano(next)
		r.Error = errStr.String
		r.LatencyMS = latencyMS.Float64
		r.Fields = int(fieldCount.Int64)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// unixNano maps the zero time to 0 so it survives a round trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
