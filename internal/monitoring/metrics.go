package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the process counters. A nil *Metrics is valid and records
// nothing, so components can be constructed without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	SamplesAccepted   prometheus.Counter
	SamplesRejected   prometheus.Counter
	SamplesDiscarded  prometheus.Counter
	AcquisitionErrors *prometheus.CounterVec
	TelemetryEmitted  prometheus.Counter
	TelemetryFailed   prometheus.Counter
	TelemetryDropped  prometheus.Counter
	ProximityScans    prometheus.Counter
	ProximityShown    prometheus.Counter
	DirectoryErrors   prometheus.Counter
	TotalDistanceKm   prometheus.Gauge
	CurrentSpeedKmh   prometheus.Gauge
	CurrentAccuracyM  prometheus.Gauge
}

// NewMetrics creates the counters and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_samples_accepted_total",
			Help: "Position samples that passed validation and updated the session.",
		}),
		SamplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_samples_rejected_total",
			Help: "Position samples dropped for invalid coordinates.",
		}),
		SamplesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_samples_discarded_total",
			Help: "Position samples ignored because the session was paused or stale.",
		}),
		AcquisitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleettrack_acquisition_errors_total",
			Help: "Position source errors by kind.",
		}, []string{"kind"}),
		TelemetryEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_telemetry_emitted_total",
			Help: "Telemetry records handed to the sink.",
		}),
		TelemetryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_telemetry_send_failures_total",
			Help: "Telemetry records the sink failed to accept.",
		}),
		TelemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_telemetry_dropped_total",
			Help: "Telemetry records dropped because the send queue was full.",
		}),
		ProximityScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_proximity_scans_total",
			Help: "Proximity directory queries issued.",
		}),
		ProximityShown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_proximity_shown_total",
			Help: "Proximity events raised.",
		}),
		DirectoryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleettrack_directory_errors_total",
			Help: "Failed proximity directory queries.",
		}),
		TotalDistanceKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleettrack_total_distance_km",
			Help: "Distance accumulated by the current session.",
		}),
		CurrentSpeedKmh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleettrack_speed_kmh",
			Help: "Latest smoothed speed.",
		}),
		CurrentAccuracyM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleettrack_accuracy_meters",
			Help: "Latest reported horizontal accuracy.",
		}),
	}
	m.registry.MustRegister(
		m.SamplesAccepted, m.SamplesRejected, m.SamplesDiscarded,
		m.AcquisitionErrors,
		m.TelemetryEmitted, m.TelemetryFailed, m.TelemetryDropped,
		m.ProximityScans, m.ProximityShown, m.DirectoryErrors,
		m.TotalDistanceKm, m.CurrentSpeedKmh, m.CurrentAccuracyM,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Count increments the counter selected by pick. It is a no-op on a nil
// receiver.
func (m *Metrics) Count(pick func(*Metrics) prometheus.Counter) {
	if m == nil {
		return
	}
	pick(m).Inc()
}

func SamplesAccepted(m *Metrics) prometheus.Counter  { return m.SamplesAccepted }
func SamplesRejected(m *Metrics) prometheus.Counter  { return m.SamplesRejected }
func SamplesDiscarded(m *Metrics) prometheus.Counter { return m.SamplesDiscarded }
func TelemetryEmitted(m *Metrics) prometheus.Counter { return m.TelemetryEmitted }
func TelemetryFailed(m *Metrics) prometheus.Counter  { return m.TelemetryFailed }
func TelemetryDropped(m *Metrics) prometheus.Counter { return m.TelemetryDropped }
func ProximityScans(m *Metrics) prometheus.Counter   { return m.ProximityScans }
func ProximityShown(m *Metrics) prometheus.Counter   { return m.ProximityShown }
func DirectoryErrors(m *Metrics) prometheus.Counter  { return m.DirectoryErrors }

// IncAcquisitionError counts a position source error of the given kind.
func (m *Metrics) IncAcquisitionError(kind string) {
	if m == nil {
		return
	}
	m.AcquisitionErrors.WithLabelValues(kind).Inc()
}

// ObserveSession updates the session gauges.
func (m *Metrics) ObserveSession(totalKm, speedKmh, accuracyM float64) {
	if m == nil {
		return
	}
	m.TotalDistanceKm.Set(totalKm)
	m.CurrentSpeedKmh.Set(speedKmh)
	m.CurrentAccuracyM.Set(accuracyM)
}
