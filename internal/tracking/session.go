// Package tracking owns a tracking session: the pure per-sample update in
// Step and the Tracker state machine that drives it from a position source.
package tracking

import (
	"time"

	"github.com/banshee-data/fleettrack/internal/fusion"
	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/position"
)

// SpeedHistoryWindow is the number of gated speeds kept for the average and
// max statistics.
const SpeedHistoryWindow = 50

// DefaultPathGateM is the displacement from the last retained path point
// that a sample must exceed to count towards distance and the path.
const DefaultPathGateM = 5.0

// Statistics are the session aggregates.
type Statistics struct {
	TotalDistanceKm float64       `json:"total_distance_km"`
	AverageSpeedKmh float64       `json:"average_speed_kmh"`
	MaxSpeedKmh     float64       `json:"max_speed_kmh"`
	Duration        time.Duration `json:"-"`
}

// PathPoint is a retained point of the session path.
type PathPoint struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Timestamp  int64   `json:"timestamp"`
	Accuracy   float64 `json:"accuracy"`
	SpeedKmh   float64 `json:"speed"`
	HeadingDeg float64 `json:"heading"`
}

func (p PathPoint) point() geo.Point {
	return geo.Point{Lat: p.Lat, Lng: p.Lng}
}

// Slot is one processed sample together with what was published for it.
type Slot struct {
	Raw       position.RawSample
	Fused     position.FusedSample
	ArrivedAt time.Time
}

// SessionState is everything one session accumulates. It is a value:
// Step returns a new state and never mutates the one it was given.
type SessionState struct {
	ID        string
	StartedAt time.Time
	Stats     Statistics
	Buffers   fusion.Buffers
	// SpeedHistory feeds AverageSpeedKmh and MaxSpeedKmh.
	SpeedHistory fusion.Window[float64]
	// Previous and Current are the last two processed samples, nil until
	// seen.
	Previous *Slot
	Current  *Slot
	// HasHeading is set once any heading has been adopted.
	HasHeading bool
	Path       []PathPoint
}

// NewSession returns an empty session started at start.
func NewSession(id string, start time.Time) SessionState {
	return SessionState{
		ID:           id,
		StartedAt:    start,
		Buffers:      fusion.NewBuffers(),
		SpeedHistory: fusion.NewWindow[float64](SpeedHistoryWindow),
	}
}

// Cleared returns s with its path, statistics and buffers emptied. The
// Previous/Current slots survive so the next sample still has a reference
// point, and the duration restarts at now.
func (s SessionState) Cleared(now time.Time) SessionState {
	next := NewSession(s.ID, now)
	next.Previous = s.Previous
	next.Current = s.Current
	return next
}

// PathCopy returns a copy of the retained path.
func (s SessionState) PathCopy() []PathPoint {
	out := make([]PathPoint, len(s.Path))
	copy(out, s.Path)
	return out
}

// StepEnv carries the inputs of Step that do not come from the sample.
type StepEnv struct {
	// Now is the arrival time of the sample. Elapsed time for the derived
	// speed is measured between arrivals.
	Now       time.Time
	Policy    fusion.Policy
	PathGateM float64
}

// Step folds one raw sample into s. It returns the new state and the
// published sample, or s unchanged and nil when raw is invalid.
func Step(s SessionState, raw position.RawSample, env StepEnv) (SessionState, *position.FusedSample) {
	if !position.IsValid(raw) {
		return s, nil
	}
	gate := env.PathGateM
	if gate <= 0 {
		gate = DefaultPathGateM
	}

	next := s
	var (
		decision fusion.Decision
		speedKmh float64
	)
	if s.Current == nil {
		decision = env.Policy.Initial(raw.Heading)
		speedKmh = position.InitialSpeedKmh(raw)
	} else {
		k := position.Estimate(s.Current.Raw, raw, env.Now.Sub(s.Current.ArrivedAt))
		decision = env.Policy.Decide(fusion.Input{
			DisplacementM:   k.DistanceM(),
			SpeedKmh:        k.SpeedKmh,
			BearingDeg:      k.BearingDeg,
			SensorHeading:   raw.Heading,
			PreviousHeading: s.Current.Fused.HeadingDeg,
			HasHeading:      s.HasHeading,
		})
		speedKmh = k.SpeedKmh
	}
	if !decision.Source.Frozen() {
		next.HasHeading = true
	}

	var smoothed fusion.Smoothed
	next.Buffers, smoothed = s.Buffers.Apply(decision, speedKmh, raw.Accuracy)

	fused := position.FusedSample{
		Lat:        raw.Lat,
		Lng:        raw.Lng,
		Accuracy:   raw.Accuracy,
		HeadingDeg: geo.NormalizeDegrees(smoothed.HeadingDeg),
		SpeedKmh:   max(0, smoothed.SpeedKmh),
		Source:     decision.Source,
		Quality:    position.ClassifyAccuracy(raw.Accuracy),
		Timestamp:  raw.Timestamp,
	}

	point := PathPoint{
		Lat:        raw.Lat,
		Lng:        raw.Lng,
		Timestamp:  raw.Timestamp,
		Accuracy:   raw.Accuracy,
		SpeedKmh:   fused.SpeedKmh,
		HeadingDeg: fused.HeadingDeg,
	}
	if n := len(s.Path); n == 0 {
		next.Path = append(s.Path[:0:0], point)
	} else if last := s.Path[n-1]; raw.Timestamp > last.Timestamp {
		if d := geo.HaversineMeters(last.point(), raw.Point()); d > gate {
			next.Path = append(s.Path[:n:n], point)
			next.SpeedHistory = s.SpeedHistory.Push(fused.SpeedKmh)
			history := next.SpeedHistory.Items()
			next.Stats.TotalDistanceKm = s.Stats.TotalDistanceKm + d/1000
			next.Stats.AverageSpeedKmh = fusion.Mean(history)
			next.Stats.MaxSpeedKmh = fusion.Max(history)
		}
	}
	next.Stats.Duration = env.Now.Sub(s.StartedAt)

	next.Previous = s.Current
	next.Current = &Slot{Raw: raw, Fused: fused, ArrivedAt: env.Now}
	return next, &fused
}
