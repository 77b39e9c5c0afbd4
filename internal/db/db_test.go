package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/resource"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(), "re-running up is a no-op")

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	_, err = db.Exec("SELECT count(*) FROM telemetry_records")
	assert.Error(t, err)

	require.NoError(t, db.MigrateTo(2))
	_, err = db.Exec("SELECT count(*) FROM telemetry_records")
	assert.NoError(t, err)
}

func TestOpenDBLeavesSchemaAlone(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2 (latest 2, dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"to", "x"}, path, &out))

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Usage: fleettrack migrate")
}

const degPerMeter = 180 / (geo.EarthRadiusKm * 1000 * math.Pi)

func seedLocations(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	for _, l := range []proximity.KnownLocation{
		{ID: "depot", Name: "Depot", Type: "warehouse", Lat: 35 + 40*degPerMeter, Lng: 135, ContactName: "Kenji", ContactPhone: "+81-3-0000"},
		{ID: "shop", Name: "Corner Shop", Type: "customer", Lat: 35 + 100*degPerMeter, Lng: 135, Phase: "delivery"},
		{ID: "pickup", Name: "Supplier", Type: "supplier", Lat: 35 + 20*degPerMeter, Lng: 135, Phase: "pickup"},
		{ID: "far", Name: "Far Away", Lat: 35.1, Lng: 135},
	} {
		require.NoError(t, db.UpsertLocation(ctx, l))
	}
}

func TestLocationsCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedLocations(t, db)

	got, err := db.GetLocation(ctx, "depot")
	require.NoError(t, err)
	assert.Equal(t, "Kenji", got.ContactName)
	assert.Empty(t, got.Phase)

	got.Name = "Main Depot"
	require.NoError(t, db.UpsertLocation(ctx, got))
	all, err := db.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Corner Shop", all[0].Name)
	assert.Equal(t, "Main Depot", all[2].Name)

	far, err := db.GetLocation(ctx, "far")
	require.NoError(t, err)
	assert.Equal(t, "other", far.Type)

	require.NoError(t, db.DeleteLocation(ctx, "far"))
	assert.ErrorIs(t, db.DeleteLocation(ctx, "far"), ErrLocationNotFound)
	_, err = db.GetLocation(ctx, "far")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	assert.Error(t, db.UpsertLocation(ctx, proximity.KnownLocation{Name: "no id"}))
	assert.Error(t, db.UpsertLocation(ctx, proximity.KnownLocation{ID: "bad", Lat: 91}))
}

func TestImportLocations(t *testing.T) {
	db := newTestDB(t)
	n, err := db.ImportLocations(context.Background(), strings.NewReader(`[
		{"id": "a", "name": "A", "type": "customer", "lat": 1, "lng": 2},
		{"id": "b", "name": "B", "type": "customer", "lat": 3, "lng": 4, "phase": "pickup"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.ImportLocations(context.Background(), strings.NewReader(`[{"id": "c", "lat": 95, "lng": 0}]`))
	assert.Error(t, err)
	all, err := db.ListLocations(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2, "a failed import stores nothing")
}

func registryFor(t *testing.T, db *DB) *resource.Handle {
	t.Helper()
	r := resource.NewRegistry()
	require.NoError(t, r.Register("db", func(context.Context) (any, error) { return db, nil }, nil))
	h, err := r.Acquire("db")
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	return h
}

func TestLocationDirectory(t *testing.T) {
	db := newTestDB(t)
	seedLocations(t, db)
	dir := NewLocationDirectory(registryFor(t, db))

	got, err := dir.QueryNearby(context.Background(), proximity.NearbyQuery{Lat: 35, Lng: 135, RadiusM: 150, Phase: "delivery"})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.Location.ID
	}
	if diff := cmp.Diff([]string{"depot", "shop"}, ids); diff != "" {
		t.Errorf("nearby ids mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 40, got[0].DistanceM, 0.01)
	assert.InDelta(t, 0, got[0].BearingDeg, 0.01)

	got, err = dir.QueryNearby(context.Background(), proximity.NearbyQuery{Lat: 35, Lng: 135, RadiusM: 150, Phase: "pickup"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pickup", got[0].Location.ID)

	got, err = dir.QueryNearby(context.Background(), proximity.NearbyQuery{Lat: 35, Lng: 135, RadiusM: 30})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestTelemetryStore(t *testing.T) {
	db := newTestDB(t)
	store := NewTelemetryStore(registryFor(t, db))
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	var sink telemetry.Sink = store
	want := []telemetry.Record{
		{ID: "r1", SessionID: "s1", VehicleID: "van", Lat: 1, Lng: 2, HeadingDeg: 10, SpeedKmh: 20, Accuracy: 5, Quality: "high", Timestamp: 100, RecordedAt: base},
		{ID: "r2", SessionID: "s1", VehicleID: "van", Lat: 1.1, Lng: 2, HeadingDeg: 11, SpeedKmh: 21, Accuracy: 12, Quality: "medium", Timestamp: 200, RecordedAt: base.Add(5 * time.Second)},
		{ID: "r3", SessionID: "s2", Lat: 9, Lng: 9, Quality: "poor", Timestamp: 300, RecordedAt: base.Add(10 * time.Second)},
	}
	for _, r := range want {
		require.NoError(t, sink.Send(ctx, r))
	}
	require.NoError(t, sink.Send(ctx, want[0]), "duplicate ids are ignored")

	got, err := store.Records(ctx, "s1", 0)
	require.NoError(t, err)
	if diff := cmp.Diff(want[:2], got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	got, err = store.Records(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := db.TelemetryRecords(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	seedLocations(t, db)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".db.gz")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")))
}
