package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/resource"
	"github.com/paulmach/orb"
)

// ErrLocationNotFound is returned when no location has the requested id.
var ErrLocationNotFound = errors.New("location not found")

const locationColumns = `location_id, name, address, location_type, lat, lng, contact_name, contact_phone, phase`

// UpsertLocation inserts l or replaces the location with the same id.
func (db *DB) UpsertLocation(ctx context.Context, l proximity.KnownLocation) error {
	return upsertLocation(ctx, db, l)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertLocation(ctx context.Context, ex execer, l proximity.KnownLocation) error {
	if l.ID == "" {
		return errors.New("location id is required")
	}
	if !geo.ValidCoordinates(l.Lat, l.Lng) {
		return fmt.Errorf("location %s: invalid coordinates %v,%v", l.ID, l.Lat, l.Lng)
	}
	typ := l.Type
	if typ == "" {
		typ = "other"
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO known_locations (`+locationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			  name = excluded.name
			, address = excluded.address
			, location_type = excluded.location_type
			, lat = excluded.lat
			, lng = excluded.lng
			, contact_name = excluded.contact_name
			, contact_phone = excluded.contact_phone
			, phase = excluded.phase
			, updated_at = unixepoch()`,
		l.ID, l.Name, l.Address, typ, l.Lat, l.Lng,
		nullString(l.ContactName), nullString(l.ContactPhone), nullString(l.Phase),
	)
	if err != nil {
		return fmt.Errorf("upsert location %s: %w", l.ID, err)
	}
	return nil
}

// DeleteLocation removes the location with id.
func (db *DB) DeleteLocation(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM known_locations WHERE location_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete location %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	return nil
}

// GetLocation returns the location with id.
func (db *DB) GetLocation(ctx context.Context, id string) (proximity.KnownLocation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM known_locations WHERE location_id = ?`, id)
	l, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	return l, err
}

// ListLocations returns every location ordered by name.
func (db *DB) ListLocations(ctx context.Context) ([]proximity.KnownLocation, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+locationColumns+` FROM known_locations ORDER BY name, location_id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return collectLocations(rows)
}

// LocationsInBound returns the locations inside b serving phase. An empty
// phase matches every location.
func (db *DB) LocationsInBound(ctx context.Context, b orb.Bound, phase string) ([]proximity.KnownLocation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+locationColumns+`
		FROM known_locations
		WHERE lat BETWEEN ? AND ?
		  AND lng BETWEEN ? AND ?
		  AND (? = '' OR phase IS NULL OR phase = '' OR phase = ?)`,
		b.Min.Lat(), b.Max.Lat(), b.Min.Lon(), b.Max.Lon(), phase, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("query locations in bound: %w", err)
	}
	return collectLocations(rows)
}

// ImportLocations upserts a JSON array of locations read from r and
// returns how many were stored.
func (db *DB) ImportLocations(ctx context.Context, r io.Reader) (int, error) {
	var locs []proximity.KnownLocation
	if err := json.NewDecoder(r).Decode(&locs); err != nil {
		return 0, fmt.Errorf("decode locations: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, l := range locs {
		if err := upsertLocation(ctx, tx, l); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit locations: %w", err)
	}
	return len(locs), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (proximity.KnownLocation, error) {
	var (
		l                            proximity.KnownLocation
		contactName, contactPhone, p sql.NullString
	)
	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.Type, &l.Lat, &l.Lng, &contactName, &contactPhone, &p)
	l.ContactName = contactName.String
	l.ContactPhone = contactPhone.String
	l.Phase = p.String
	return l, err
}

func collectLocations(rows *sql.Rows) ([]proximity.KnownLocation, error) {
	defer rows.Close()
	var out []proximity.KnownLocation
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// LocationDirectory answers nearby queries from the store. The database is
// opened through a resource handle on first use.
type LocationDirectory struct {
	h *resource.Handle
}

// NewLocationDirectory returns a directory reading the database behind h.
func NewLocationDirectory(h *resource.Handle) *LocationDirectory {
	return &LocationDirectory{h: h}
}

// QueryNearby prefilters with a bounding box and ranks the candidates by
// great-circle distance.
func (d *LocationDirectory) QueryNearby(ctx context.Context, q proximity.NearbyQuery) ([]proximity.Match, error) {
	db, err := resource.Value[*DB](ctx, d.h)
	if err != nil {
		return nil, err
	}
	candidates, err := db.LocationsInBound(ctx, geo.BoundAround(q.Point(), q.RadiusM), q.Phase)
	if err != nil {
		return nil, err
	}
	return proximity.Rank(q, candidates), nil
}
