package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/fleettrack/internal/db"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/resource"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/banshee-data/fleettrack/internal/testutil"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	src     *source.Fake
	clock   *timeutil.MockClock
	tracker *tracking.Tracker
	emitter *telemetry.Emitter
	metrics *monitoring.Metrics
	server  *Server
	mux     *http.ServeMux
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		src:     source.NewFake(),
		clock:   timeutil.NewMockClock(t0),
		metrics: monitoring.NewMetrics(),
	}
	f.emitter = telemetry.NewEmitter(telemetry.Config{Enabled: true, Interval: time.Second, VehicleID: "van-1"}, nil, f.clock, f.metrics)
	f.tracker = tracking.NewTracker(f.src, f.clock, tracking.DefaultConfig(),
		tracking.WithEmitter(f.emitter),
		tracking.WithMetrics(f.metrics),
	)
	opts = append([]Option{WithEmitter(f.emitter), WithMetrics(f.metrics), WithClock(f.clock)}, opts...)
	f.server = NewServer(f.tracker, opts...)
	f.mux = f.server.ServeMux()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.src.SetCurrent(testutil.North(0, 1000))
	w := f.do(t, http.MethodPost, "/api/tracking/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// drive moves the vehicle north 10 m per second for n seconds.
func (f *fixture) drive(n int) {
	for i := 1; i <= n; i++ {
		f.clock.Advance(time.Second)
		f.src.Emit(testutil.North(float64(10*i), int64(1000+1000*i)))
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type snapshotBody struct {
	State     string `json:"state"`
	SessionID string `json:"session_id"`
	PathLen   int    `json:"path_points"`
	LastError string `json:"last_error"`
}

func TestTrackingCommands(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode[snapshotBody](t, w).State)

	f.start(t)
	snap := decode[snapshotBody](t, f.do(t, http.MethodGet, "/api/state", ""))
	assert.Equal(t, "tracking", snap.State)
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, 1, snap.PathLen)

	tests := []struct {
		cmd       string
		wantCode  int
		wantState string
	}{
		{"start", http.StatusConflict, ""},
		{"resume", http.StatusConflict, ""},
		{"pause", http.StatusOK, "paused"},
		{"pause", http.StatusConflict, ""},
		{"resume", http.StatusOK, "tracking"},
		{"stop", http.StatusOK, "stopped"},
		{"clear", http.StatusOK, "stopped"},
		{"launch", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		w := f.do(t, http.MethodPost, "/api/tracking/"+tt.cmd, "")
		require.Equal(t, tt.wantCode, w.Code, "%s: %s", tt.cmd, w.Body.String())
		if tt.wantState != "" {
			assert.Equal(t, tt.wantState, decode[snapshotBody](t, w).State, tt.cmd)
		}
	}

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/tracking/start", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/api/state", "").Code)
}

func TestTrackingStartErrors(t *testing.T) {
	tests := []struct {
		kind source.ErrorKind
		want int
	}{
		{source.PermissionDenied, http.StatusForbidden},
		{source.Unavailable, http.StatusServiceUnavailable},
		{source.Timeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.src.FailWith(&source.PositionError{Kind: tt.kind})

			w := f.do(t, http.MethodPost, "/api/tracking/start", "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			snap := decode[snapshotBody](t, f.do(t, http.MethodGet, "/api/state", ""))
			assert.Equal(t, "idle", snap.State)
			assert.NotEmpty(t, snap.LastError)
		})
	}
}

func TestTrackingStartCanceledByClient(t *testing.T) {
	f := newFixture(t)
	f.src.Block()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/tracking/start", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	snap := decode[snapshotBody](t, f.do(t, http.MethodGet, "/api/state", ""))
	assert.Equal(t, "idle", snap.State)
	assert.Empty(t, snap.LastError)
}

func TestStatsAndPath(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/path", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	f.start(t)
	f.drive(5)

	stats := decode[map[string]float64](t, f.do(t, http.MethodGet, "/api/stats", ""))
	assert.InDelta(t, 0.05, stats["total_distance_km"], 1e-3)
	assert.InDelta(t, 36, stats["max_speed_kmh"], 0.5)
	assert.InDelta(t, 5, stats["duration_s"], 1e-9)

	path := decode[[]tracking.PathPoint](t, f.do(t, http.MethodGet, "/api/path", ""))
	require.Len(t, path, 6)
	assert.Equal(t, int64(6000), path[5].Timestamp)
}

func TestTelemetryExport(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.drive(4)

	w := f.do(t, http.MethodGet, "/api/telemetry", "")
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[[]telemetry.Record](t, w)
	require.NotEmpty(t, records)
	assert.Equal(t, "van-1", records[0].VehicleID)
	assert.Equal(t, f.tracker.SessionID(), records[0].SessionID)

	w = f.do(t, http.MethodGet, "/api/telemetry?format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="telemetry-`+f.tracker.SessionID()+`.csv"`, w.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, len(records)+1, "header plus one row per record")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/telemetry?format=xml", "").Code)
}

func TestTelemetryExportWithoutEmitter(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.tracker)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type capturedSink struct {
	mu      sync.Mutex
	records []telemetry.Record
	err     error
}

func (s *capturedSink) Send(_ context.Context, r telemetry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

func TestTelemetryIngest(t *testing.T) {
	sink := &capturedSink{}
	f := newFixture(t, WithIngest(sink))

	w := f.do(t, http.MethodPost, "/api/telemetry/ingest", `{"session_id": "s-1", "lat": 35, "lng": 135, "speed": 12}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[map[string]string](t, w)["id"]
	assert.NotEmpty(t, id)

	require.Len(t, sink.records, 1)
	assert.Equal(t, id, sink.records[0].ID)
	assert.Equal(t, t0, sink.records[0].RecordedAt)
	assert.Equal(t, 12.0, sink.records[0].SpeedKmh)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"unknown field", `{"session_id": "s-1", "altitude": 3}`},
		{"missing session", `{"lat": 35}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/telemetry/ingest", tt.body).Code)
		})
	}

	sink.err = fmt.Errorf("disk full")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodPost, "/api/telemetry/ingest", `{"session_id": "s-1"}`).Code)
}

// TestHTTPSinkIntoStore posts records with the real HTTP sink and reads them
// back from the SQLite store behind the ingest endpoint.
func TestHTTPSinkIntoStore(t *testing.T) {
	d := cloneAPITestDB(t)
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register("db", func(context.Context) (any, error) { return d, nil }, nil))
	h, err := reg.Acquire("db")
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	store := db.NewTelemetryStore(h)

	f := newFixture(t, WithIngest(store))
	ts := httptest.NewServer(f.mux)
	defer ts.Close()

	sink := telemetry.NewHTTPSink(ts.URL+"/api/telemetry/ingest", nil)
	rec := telemetry.NewRecord("s-9", "van-9", position.FusedSample{Lat: 35, Lng: 135, SpeedKmh: 20, Quality: position.QualityHigh}, t0)
	require.NoError(t, sink.Send(context.Background(), rec))

	got, err := store.Records(context.Background(), "s-9", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, "van-9", got[0].VehicleID)
	assert.Equal(t, 20.0, got[0].SpeedKmh)
}

type proximityBody struct {
	Enabled bool   `json:"enabled"`
	Phase   string `json:"phase"`
	Active  *struct {
		Match   proximity.Match `json:"match"`
		Visible bool            `json:"visible"`
	} `json:"active"`
}

func TestProximityEndpoints(t *testing.T) {
	depot := proximity.KnownLocation{ID: "depot", Name: "North Depot", Lat: 35 + 40/testutil.MetersPerDegree, Lng: 135}
	dir := proximity.DirectoryFunc(func(ctx context.Context, q proximity.NearbyQuery) ([]proximity.Match, error) {
		return proximity.Rank(q, []proximity.KnownLocation{depot}), nil
	})

	f := newFixture(t)
	scanner := proximity.NewScanner(dir, f.tracker, f.clock, proximity.Config{}, f.metrics)
	f.server = NewServer(f.tracker, WithScanner(scanner))
	f.mux = f.server.ServeMux()

	scanner.Enable()
	f.start(t)

	w := f.do(t, http.MethodPost, "/api/proximity/phase", `{"phase": "delivery"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "delivery", decode[proximityBody](t, w).Phase)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/proximity/phase", `{"stage": 1}`).Code)

	require.NoError(t, scanner.Poll(context.Background()))

	body := decode[proximityBody](t, f.do(t, http.MethodGet, "/api/proximity", ""))
	assert.True(t, body.Enabled)
	require.NotNil(t, body.Active)
	assert.True(t, body.Active.Visible)
	assert.Equal(t, "depot", body.Active.Match.Location.ID)
	assert.InDelta(t, 40, body.Active.Match.DistanceM, 0.5)

	body = decode[proximityBody](t, f.do(t, http.MethodPost, "/api/proximity/dismiss", ""))
	require.NotNil(t, body.Active)
	assert.False(t, body.Active.Visible)

	f.clock.Advance(proximity.DefaultFadeDelay)
	body = decode[proximityBody](t, f.do(t, http.MethodGet, "/api/proximity", ""))
	assert.Nil(t, body.Active)
}

func TestProximityWithoutScanner(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/api/proximity"} {
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, target, "").Code)
	}
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/proximity/dismiss", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/locations/nearby?lat=35&lng=135", "").Code)
}

func TestNearbyLocations(t *testing.T) {
	d := cloneAPITestDB(t)
	ctx := context.Background()
	for _, l := range []proximity.KnownLocation{
		{ID: "near", Name: "Near", Lat: 35 + 50/testutil.MetersPerDegree, Lng: 135, Phase: "pickup"},
		{ID: "nearer", Name: "Nearer", Lat: 35 + 20/testutil.MetersPerDegree, Lng: 135},
		{ID: "far", Name: "Far", Lat: 35.1, Lng: 135},
	} {
		require.NoError(t, d.UpsertLocation(ctx, l))
	}
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register("db", func(context.Context) (any, error) { return d, nil }, nil))
	h, err := reg.Acquire("db")
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })

	f := newFixture(t, WithDirectory(db.NewLocationDirectory(h)))

	w := f.do(t, http.MethodGet, "/api/locations/nearby?lat=35&lng=135&radius=100", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[proximity.NearbyResponse](t, w)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "nearer", resp.Matches[0].Location.ID)
	assert.Equal(t, "near", resp.Matches[1].Location.ID)

	w = f.do(t, http.MethodGet, "/api/locations/nearby?lat=35&lng=135&radius=100&phase=delivery", "")
	resp = decode[proximity.NearbyResponse](t, w)
	require.Len(t, resp.Matches, 1, "pickup-only location is filtered out")
	assert.Equal(t, "nearer", resp.Matches[0].Location.ID)

	w = f.do(t, http.MethodGet, "/api/locations/nearby?lat=0&lng=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"matches": []}`, w.Body.String())

	for _, q := range []string{"lat=95&lng=0", "lat=x&lng=0", "lng=0", "lat=35&lng=135&radius=-1", "lat=35&lng=135&radius=20000"} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/locations/nearby?"+q, "").Code, q)
	}
}

func TestHTTPDirectoryAgainstServer(t *testing.T) {
	depot := proximity.KnownLocation{ID: "depot", Name: "Depot", Lat: 35, Lng: 135 + 0.0005}
	f := newFixture(t, WithDirectory(proximity.DirectoryFunc(func(ctx context.Context, q proximity.NearbyQuery) ([]proximity.Match, error) {
		return proximity.Rank(q, []proximity.KnownLocation{depot}), nil
	})))
	ts := httptest.NewServer(f.mux)
	defer ts.Close()

	remote := proximity.NewHTTPDirectory(ts.URL+"/", nil)
	matches, err := remote.QueryNearby(context.Background(), proximity.NearbyQuery{Lat: 35, Lng: 135, RadiusM: 150, Phase: "delivery"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "depot", matches[0].Location.ID)
	assert.InDelta(t, 90, matches[0].BearingDeg, 0.1)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fleettrack_samples_accepted_total 1")
}

func TestSpeedChart(t *testing.T) {
	f := newFixture(t)
	f.server.AttachDebugRoutes(f.mux)

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/speed-chart", nil))
		return w
	}

	assert.Equal(t, http.StatusNotFound, get().Code)

	f.start(t)
	f.drive(3)
	w := get()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Session speed and heading")
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	f := newFixture(t)
	h := LoggingMiddleware(f.mux)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tracking/warp", nil))

	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.Contains(t, last, "/api/tracking/warp")
	assert.Contains(t, last, colorBoldRed+"404"+colorReset)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "101", statusCodeColor(101))
}
