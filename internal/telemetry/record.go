// Package telemetry throttles fused position updates into telemetry records
// and hands them to a best-effort sink.
package telemetry

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/google/uuid"
)

// Record is one persisted telemetry point.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	VehicleID  string    `json:"vehicle_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	HeadingDeg float64   `json:"heading"`
	SpeedKmh   float64   `json:"speed"`
	Accuracy   float64   `json:"accuracy"`
	Quality    string    `json:"quality"`
	Timestamp  int64     `json:"timestamp"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewRecord builds a record for s with a fresh id.
func NewRecord(sessionID, vehicleID string, s position.FusedSample, at time.Time) Record {
	return Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		VehicleID:  vehicleID,
		Lat:        s.Lat,
		Lng:        s.Lng,
		HeadingDeg: s.HeadingDeg,
		SpeedKmh:   s.SpeedKmh,
		Accuracy:   s.Accuracy,
		Quality:    string(s.Quality),
		Timestamp:  s.Timestamp,
		RecordedAt: at.UTC(),
	}
}

// Sink accepts telemetry records. Implementations must honour ctx.
type Sink interface {
	Send(ctx context.Context, r Record) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, r Record) error

func (f SinkFunc) Send(ctx context.Context, r Record) error { return f(ctx, r) }

// Discard is a Sink that accepts and forgets every record.
var Discard Sink = SinkFunc(func(context.Context, Record) error { return nil })

// MultiSink sends each record to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var csvHeader = []string{
	"id", "session_id", "vehicle_id", "lat", "lng", "heading", "speed",
	"accuracy", "quality", "timestamp", "recorded_at",
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range records {
		row := []string{
			r.ID, r.SessionID, r.VehicleID, f(r.Lat), f(r.Lng), f(r.HeadingDeg),
			f(r.SpeedKmh), f(r.Accuracy), r.Quality,
			strconv.FormatInt(r.Timestamp, 10), r.RecordedAt.Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as a JSON array.
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
