package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/fleettrack/internal/resource"
	"github.com/banshee-data/fleettrack/internal/telemetry"
)

// InsertTelemetry stores r. Re-sending a record with a known id is a no-op.
func (db *DB) InsertTelemetry(ctx context.Context, r telemetry.Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO telemetry_records (
			record_id, session_id, vehicle_id, lat, lng, heading, speed_kmh,
			accuracy, quality, sample_ts_ms, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.VehicleID, r.Lat, r.Lng, r.HeadingDeg, r.SpeedKmh,
		r.Accuracy, r.Quality, r.Timestamp, r.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry record %s: %w", r.ID, err)
	}
	return nil
}

// TelemetryRecords returns up to limit records, oldest first. An empty
// sessionID returns records from every session; limit <= 0 means no limit.
func (db *DB) TelemetryRecords(ctx context.Context, sessionID string, limit int) ([]telemetry.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT record_id, session_id, vehicle_id, lat, lng, heading, speed_kmh,
		       accuracy, quality, sample_ts_ms, recorded_unix_nanos
		FROM telemetry_records
		WHERE (? = '' OR session_id = ?)
		ORDER BY recorded_unix_nanos, record_id
		LIMIT ?`,
		sessionID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query telemetry records: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		var (
			r     telemetry.Record
			nanos int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.VehicleID, &r.Lat, &r.Lng, &r.HeadingDeg,
			&r.SpeedKmh, &r.Accuracy, &r.Quality, &r.Timestamp, &nanos); err != nil {
			return nil, fmt.Errorf("scan telemetry record: %w", err)
		}
		r.RecordedAt = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// TelemetryStore is a telemetry.Sink persisting records to the database
// behind a resource handle.
type TelemetryStore struct {
	h *resource.Handle
}

// NewTelemetryStore returns a store writing through h.
func NewTelemetryStore(h *resource.Handle) *TelemetryStore {
	return &TelemetryStore{h: h}
}

func (s *TelemetryStore) Send(ctx context.Context, r telemetry.Record) error {
	db, err := resource.Value[*DB](ctx, s.h)
	if err != nil {
		return err
	}
	return db.InsertTelemetry(ctx, r)
}

// Records lists stored records for sessionID, or for all sessions when it
// is empty.
func (s *TelemetryStore) Records(ctx context.Context, sessionID string, limit int) ([]telemetry.Record, error) {
	db, err := resource.Value[*DB](ctx, s.h)
	if err != nil {
		return nil, err
	}
	return db.TelemetryRecords(ctx, sessionID, limit)
}
