package fusion

import (
	"math"

	"github.com/banshee-data/fleettrack/internal/geo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CircularMean returns the mean direction of a set of headings in degrees,
// normalised to [0, 360). It returns 0 for an empty input.
func CircularMean(degrees []float64) float64 {
	if len(degrees) == 0 {
		return 0
	}
	rad := make([]float64, len(degrees))
	for i, d := range degrees {
		rad[i] = d * math.Pi / 180
	}
	return geo.NormalizeDegrees(stat.CircularMean(rad, nil) * 180 / math.Pi)
}

// Mean is the arithmetic mean, or 0 for an empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Max is the largest value, or 0 for an empty input.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Max(values)
}

// Buffers holds the short smoothing windows owned by a tracking session.
type Buffers struct {
	Heading  Window[float64]
	Speed    Window[float64]
	Accuracy Window[float64]
}

// Default window capacities.
const (
	HeadingWindow  = 5
	SpeedWindow    = 3
	AccuracyWindow = 10
)

// NewBuffers returns empty buffers with the default capacities.
func NewBuffers() Buffers {
	return Buffers{
		Heading:  NewWindow[float64](HeadingWindow),
		Speed:    NewWindow[float64](SpeedWindow),
		Accuracy: NewWindow[float64](AccuracyWindow),
	}
}

// Smoothed is the output of Buffers.Apply.
type Smoothed struct {
	HeadingDeg   float64
	SpeedKmh     float64
	MeanAccuracy float64
}

// Apply folds one fused decision into the buffers and returns the updated
// buffers together with the smoothed values. Frozen headings are not added
// to the heading window.
func (b Buffers) Apply(d Decision, speedKmh, accuracy float64) (Buffers, Smoothed) {
	next := b
	next.Speed = b.Speed.Push(speedKmh)
	next.Accuracy = b.Accuracy.Push(accuracy)
	if !d.Source.Frozen() {
		next.Heading = b.Heading.Push(d.HeadingDeg)
	}

	out := Smoothed{
		SpeedKmh:     Mean(next.Speed.Items()),
		MeanAccuracy: Mean(next.Accuracy.Items()),
	}
	if next.Heading.Len() < 2 {
		out.HeadingDeg = geo.NormalizeDegrees(d.HeadingDeg)
	} else {
		out.HeadingDeg = CircularMean(next.Heading.Items())
	}
	return next, out
}
