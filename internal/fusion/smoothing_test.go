package fusion

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	w := NewWindow[int](3)
	for i := 1; i <= 5; i++ {
		w = w.Push(i)
	}
	if diff := cmp.Diff([]int{3, 4, 5}, w.Items()); diff != "" {
		t.Errorf("Items() mismatch (-want +got):\n%s", diff)
	}
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
	assert.Equal(t, 3, w.Cap())

	empty := w.Reset()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 3, empty.Cap())
	_, ok = empty.Last()
	assert.False(t, ok)
}

func TestWindowPushDoesNotAlias(t *testing.T) {
	base := NewWindow[float64](2).Push(1)
	a := base.Push(2)
	b := base.Push(3)

	assert.Equal(t, []float64{1}, base.Items())
	assert.Equal(t, []float64{1, 2}, a.Items())
	assert.Equal(t, []float64{1, 3}, b.Items())
}

func TestCircularMean(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"wraps through north", []float64{350, 10}, 0},
		{"plain", []float64{80, 100}, 90},
		{"single", []float64{123}, 123},
		{"three across north", []float64{355, 0, 5}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CircularMean(tt.in)
			d := got - tt.want
			if d > 180 {
				d -= 360
			}
			assert.InDelta(t, 0, d, 1e-6, "got %v", got)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, 360.0)
		})
	}
}

func TestMeanMax(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, Max(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
	assert.Equal(t, 7.0, Max([]float64{1, 7, 3}))
}

func TestBuffersApply(t *testing.T) {
	b := NewBuffers()

	// First observed heading: fewer than two entries, raw heading wins.
	b, s := b.Apply(Decision{HeadingDeg: 350, Source: SourceComputedOnly}, 10, 5)
	assert.InDelta(t, 350, s.HeadingDeg, 1e-9)
	assert.InDelta(t, 10, s.SpeedKmh, 1e-9)
	assert.InDelta(t, 5, s.MeanAccuracy, 1e-9)

	b, s = b.Apply(Decision{HeadingDeg: 10, Source: SourceComputedOnly}, 20, 15)
	assert.InDelta(t, 0, s.HeadingDeg, 1e-6)
	assert.InDelta(t, 15, s.SpeedKmh, 1e-9)
	assert.InDelta(t, 10, s.MeanAccuracy, 1e-9)

	// Frozen headings do not enter the heading window, speeds always do.
	b, s = b.Apply(Decision{HeadingDeg: 10, Source: SourceMaintained}, 30, 10)
	assert.Equal(t, 2, b.Heading.Len())
	assert.Equal(t, 3, b.Speed.Len())
	assert.InDelta(t, 20, s.SpeedKmh, 1e-9)

	b, s = b.Apply(Decision{HeadingDeg: 10, Source: SourceMaintainedSmallChange}, 40, 10)
	assert.Equal(t, 2, b.Heading.Len())
	assert.Equal(t, 3, b.Speed.Len())
	assert.InDelta(t, 30, s.SpeedKmh, 1e-9)
}

func TestBuffersFrozenSingleEntryUsesRawHeading(t *testing.T) {
	b := NewBuffers()
	_, s := b.Apply(Decision{HeadingDeg: 42, Source: SourceMaintained}, 0, 8)
	assert.Equal(t, 42.0, s.HeadingDeg)
}
