// Package position defines the raw and fused position samples that flow
// through the tracker, along with validation, kinematics and the accuracy
// quality classifier.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/fleettrack/internal/fusion"
	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/units"
)

// ErrInvalidCoordinates is returned by Validate for out-of-range or
// non-finite coordinates.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// RawSample is a single fix as reported by a position source.
type RawSample struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy float64  `json:"accuracy"`
	Altitude *float64 `json:"altitude,omitempty"`
	// Speed is the sensor-reported speed over ground in m/s.
	Speed *float64 `json:"speed,omitempty"`
	// Heading is the sensor-reported course in degrees.
	Heading *float64 `json:"heading,omitempty"`
	// Timestamp is the device clock in milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Point returns the sample coordinates.
func (s RawSample) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lng: s.Lng}
}

// Time converts the device timestamp to a time.Time.
func (s RawSample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Validate rejects samples whose coordinates are out of range or not finite.
func Validate(s RawSample) error {
	if !geo.ValidCoordinates(s.Lat, s.Lng) {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinates, s.Lat, s.Lng)
	}
	return nil
}

// IsValid is the boolean form of Validate.
func IsValid(s RawSample) bool {
	return Validate(s) == nil
}

// FusedSample is the tracker's published estimate for one accepted sample.
// HeadingDeg is in [0, 360) and SpeedKmh is never negative.
type FusedSample struct {
	Lat        float64       `json:"lat"`
	Lng        float64       `json:"lng"`
	Accuracy   float64       `json:"accuracy"`
	HeadingDeg float64       `json:"heading"`
	SpeedKmh   float64       `json:"speed"`
	Source     fusion.Source `json:"source"`
	Quality    Quality       `json:"quality"`
	Timestamp  int64         `json:"timestamp"`
}

// Point returns the sample coordinates.
func (f FusedSample) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lng: f.Lng}
}

// Kinematics is the movement between two consecutive processed samples.
type Kinematics struct {
	DistanceKm float64
	BearingDeg float64
	SpeedKmh   float64
	Elapsed    time.Duration
}

// DistanceM returns the displacement in metres.
func (k Kinematics) DistanceM() float64 {
	return k.DistanceKm * 1000
}

// Estimate computes distance, bearing and speed from prev to curr. elapsed is
// the time between the arrivals of the two samples. A non-negative sensor
// speed on curr takes precedence over the derived speed.
func Estimate(prev, curr RawSample, elapsed time.Duration) Kinematics {
	k := Kinematics{
		DistanceKm: geo.HaversineKm(prev.Point(), curr.Point()),
		BearingDeg: geo.Bearing(prev.Point(), curr.Point()),
		Elapsed:    elapsed,
	}
	switch {
	case curr.Speed != nil && *curr.Speed >= 0:
		k.SpeedKmh = units.MPSToKMPH(*curr.Speed)
	case elapsed > 0:
		k.SpeedKmh = k.DistanceKm / elapsed.Hours()
	}
	return k
}

// InitialSpeedKmh is the speed reported for the first sample of a session.
func InitialSpeedKmh(s RawSample) float64 {
	if s.Speed != nil && *s.Speed >= 0 {
		return units.MPSToKMPH(*s.Speed)
	}
	return 0
}
