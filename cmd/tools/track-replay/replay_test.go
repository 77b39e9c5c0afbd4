package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/banshee-data/fleettrack/internal/fusion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rmc builds a valid RMC sentence i seconds after 09:00:00 at the given
// latitude in arc minutes north of 35°N, heading due north at 20 knots.
func rmc(i int, latMin float64) string {
	body := fmt.Sprintf("GPRMC,0900%02d.00,A,35%07.4f,N,13500.0000,E,20.0,0.0,010625,,,A", i, latMin)
	var c byte
	for j := 0; j < len(body); j++ {
		c ^= body[j]
	}
	return fmt.Sprintf("$%s*%02X", body, c)
}

// northLog moves north by 10 m per second for n seconds.
func northLog(n int) string {
	var b strings.Builder
	for i := 0; i <= n; i++ {
		fmt.Fprintln(&b, rmc(i, float64(i)*10/1853.25))
	}
	return b.String()
}

func TestReplay(t *testing.T) {
	input := "garbage line\n" +
		"$GPRMC,090000.00,V,,,,,,,010625,,,N\n" +
		"$GPVTG,0.0,T,,M,0.0,N,0.0,K,A\n" +
		"$GPRMC,090000.00,A,3500.0000,N,13500.0000,E,0,0,010625,,,A*00\n" +
		northLog(4)

	res, err := Replay(strings.NewReader(input), Options{Thresholds: fusion.DefaultThresholds()})
	require.NoError(t, err)

	assert.Equal(t, 9, res.Lines)
	assert.Equal(t, 1, res.ParseErrors, "bad checksum")
	assert.Equal(t, 1, res.NoFix)
	assert.Equal(t, 5, res.Samples)
	assert.Len(t, res.Published, 5)
	require.Len(t, res.Path, 5)
	assert.InDelta(t, 0.04, res.Stats.TotalDistanceKm, 5e-4)
	assert.InDelta(t, 4, res.DurationS, 1e-9)
	for _, s := range res.Published[1:] {
		assert.InDelta(t, 0, s.HeadingDeg, 1)
	}
}

func TestReplayEmpty(t *testing.T) {
	res, err := Replay(strings.NewReader(""), Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Samples)
	assert.Empty(t, res.Path)
}

func TestWritePlots(t *testing.T) {
	res, err := Replay(strings.NewReader(northLog(6)), Options{Thresholds: fusion.DefaultThresholds()})
	require.NoError(t, err)

	dir := t.TempDir()
	files, err := WritePlots(dir, res)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, path := range files {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), path)
	}

	_, err = WritePlots(dir, Result{})
	assert.Error(t, err)
}
