// Package fusion decides the published heading for each position update and
// smooths heading, speed and accuracy over short windows.
package fusion

import (
	"math"

	"github.com/banshee-data/fleettrack/internal/geo"
)

// Source tags how a fused heading was chosen.
type Source string

const (
	SourceSensorOnly            Source = "sensor-only"
	SourceComputedOnly          Source = "computed-only"
	SourceComputedPriority      Source = "computed-priority"
	SourceComputedLargeDiff     Source = "computed-large-diff"
	SourceAveraged              Source = "averaged"
	SourceGPSChanged            Source = "gps-changed"
	SourceMaintainedSmallChange Source = "maintained-small-change"
	SourceMaintained            Source = "maintained"
)

// Frozen reports whether the heading was carried over from the previous
// update rather than observed.
func (s Source) Frozen() bool {
	return s == SourceMaintained || s == SourceMaintainedSmallChange
}

// Thresholds are the gates used by Policy.
type Thresholds struct {
	// MinHeadingDistanceM is the displacement above which the geometric
	// bearing is considered meaningful.
	MinHeadingDistanceM float64
	// MinHeadingSpeedKmh is the speed above which the geometric bearing is
	// considered meaningful.
	MinHeadingSpeedKmh float64
	// HighSpeedKmh and LongDistanceM make the geometric bearing win
	// outright over the sensor heading.
	HighSpeedKmh  float64
	LongDistanceM float64
	// LargeDiffDeg is the sensor/geometric disagreement beyond which the
	// sensor heading is treated as stale.
	LargeDiffDeg float64
	// MinHeadingChangeDeg is the smallest sensor heading change accepted
	// while stationary.
	MinHeadingChangeDeg float64
}

// DefaultThresholds returns the stock gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHeadingDistanceM: 2,
		MinHeadingSpeedKmh:  0.3,
		HighSpeedKmh:        5,
		LongDistanceM:       10,
		LargeDiffDeg:        30,
		MinHeadingChangeDeg: 5,
	}
}

// Input describes one update with a known previous sample.
type Input struct {
	DisplacementM   float64
	SpeedKmh        float64
	BearingDeg      float64
	SensorHeading   *float64
	PreviousHeading float64
	HasHeading      bool
}

// Decision is the heading chosen for an update and why.
type Decision struct {
	HeadingDeg float64
	Source     Source
	// Diff is the sensor/geometric disagreement in degrees when both were
	// available and movement was sufficient, otherwise 0.
	Diff float64
}

// Policy chooses between the sensor heading and the geometric bearing.
type Policy struct {
	T Thresholds
}

// NewPolicy returns a Policy using t.
func NewPolicy(t Thresholds) Policy {
	return Policy{T: t}
}

// Initial returns the decision for the first sample of a session, where no
// bearing can be computed.
func (p Policy) Initial(sensorHeading *float64) Decision {
	if sensorHeading != nil {
		return Decision{HeadingDeg: geo.NormalizeDegrees(*sensorHeading), Source: SourceSensorOnly}
	}
	return Decision{HeadingDeg: 0, Source: SourceMaintained}
}

// Decide applies the fusion rules to in.
func (p Policy) Decide(in Input) Decision {
	moving := in.DisplacementM >= p.T.MinHeadingDistanceM || in.SpeedKmh >= p.T.MinHeadingSpeedKmh
	bearing := geo.NormalizeDegrees(in.BearingDeg)

	switch {
	case moving && in.SensorHeading != nil:
		sensor := geo.NormalizeDegrees(*in.SensorHeading)
		diff := geo.AngleDiff(sensor, bearing)
		switch {
		case in.SpeedKmh > p.T.HighSpeedKmh || in.DisplacementM > p.T.LongDistanceM:
			return Decision{HeadingDeg: bearing, Source: SourceComputedPriority, Diff: diff}
		case diff > p.T.LargeDiffDeg:
			return Decision{HeadingDeg: bearing, Source: SourceComputedLargeDiff, Diff: diff}
		default:
			return Decision{HeadingDeg: averageWrapped(sensor, bearing), Source: SourceAveraged, Diff: diff}
		}

	case moving:
		return Decision{HeadingDeg: bearing, Source: SourceComputedOnly}

	case in.SensorHeading != nil:
		sensor := geo.NormalizeDegrees(*in.SensorHeading)
		if !in.HasHeading || geo.AngleDiff(sensor, in.PreviousHeading) >= p.T.MinHeadingChangeDeg {
			return Decision{HeadingDeg: sensor, Source: SourceGPSChanged}
		}
		return Decision{HeadingDeg: geo.NormalizeDegrees(in.PreviousHeading), Source: SourceMaintainedSmallChange}

	default:
		return Decision{HeadingDeg: geo.NormalizeDegrees(in.PreviousHeading), Source: SourceMaintained}
	}
}

// averageWrapped averages two headings in [0, 360). When they straddle
// north the smaller one is lifted by a full turn first.
func averageWrapped(a, b float64) float64 {
	if math.Abs(a-b) > 90 {
		if a < b {
			a += 360
		} else {
			b += 360
		}
	}
	return geo.NormalizeDegrees((a + b) / 2)
}
