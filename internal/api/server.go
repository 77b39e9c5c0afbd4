// Package api serves the tracker, proximity and telemetry state over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/serialmux"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/banshee-data/fleettrack/internal/tracking"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes one tracker and its optional collaborators. Every
// collaborator except the tracker may be nil; the endpoints that need a
// missing one answer 404.
type Server struct {
	tracker *tracking.Tracker
	scanner *proximity.Scanner
	emitter *telemetry.Emitter
	dir     proximity.Directory
	ingest  telemetry.Sink
	metrics *monitoring.Metrics
	m       serialmux.SerialMuxInterface
	clock   timeutil.Clock
}

// Option configures a Server.
type Option func(*Server)

// WithScanner enables the /api/proximity endpoints.
func WithScanner(s *proximity.Scanner) Option { return func(srv *Server) { srv.scanner = s } }

// WithEmitter enables /api/telemetry export.
func WithEmitter(e *telemetry.Emitter) Option { return func(srv *Server) { srv.emitter = e } }

// WithDirectory serves /api/locations/nearby from d.
func WithDirectory(d proximity.Directory) Option { return func(srv *Server) { srv.dir = d } }

// WithIngest stores records posted to /api/telemetry/ingest in sink.
func WithIngest(sink telemetry.Sink) Option { return func(srv *Server) { srv.ingest = sink } }

// WithMetrics serves /metrics from m.
func WithMetrics(m *monitoring.Metrics) Option { return func(srv *Server) { srv.metrics = m } }

// WithSerialMux mounts the receiver's admin routes under /debug/.
func WithSerialMux(m serialmux.SerialMuxInterface) Option { return func(srv *Server) { srv.m = m } }

// WithClock replaces the wall clock used for ingest timestamps.
func WithClock(c timeutil.Clock) Option { return func(srv *Server) { srv.clock = c } }

func NewServer(tracker *tracking.Tracker, opts ...Option) *Server {
	s := &Server{tracker: tracker, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. Debug routes are added separately with
// AttachDebugRoutes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/path", s.showPath)
	mux.HandleFunc("/api/tracking/", s.trackingCommand)

	mux.HandleFunc("/api/telemetry", s.exportTelemetry)
	mux.HandleFunc("/api/telemetry/ingest", s.ingestTelemetry)

	mux.HandleFunc("/api/proximity", s.showProximity)
	mux.HandleFunc("/api/proximity/dismiss", s.dismissProximity)
	mux.HandleFunc("/api/proximity/phase", s.setProximityPhase)
	mux.HandleFunc("/api/locations/nearby", s.nearbyLocations)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}
