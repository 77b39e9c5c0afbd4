package main

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/banshee-data/fleettrack/internal/position"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	speedColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	headingColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// WritePlots saves speed.png, heading.png and track.png into dir and
// returns the written paths.
func WritePlots(dir string, res Result) ([]string, error) {
	if len(res.Published) == 0 {
		return nil, fmt.Errorf("no samples to plot")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	start := res.Published[0].Timestamp
	series := func(value func(position.FusedSample) float64) plotter.XYs {
		pts := make(plotter.XYs, 0, len(res.Published))
		for _, s := range res.Published {
			pts = append(pts, plotter.XY{X: float64(s.Timestamp-start) / 1000, Y: value(s)})
		}
		return pts
	}

	var written []string
	save := func(p *plot.Plot, name string) error {
		path := filepath.Join(dir, name)
		if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	pSpeed := plot.New()
	pSpeed.Title.Text = "Fused speed"
	pSpeed.X.Label.Text = "t (s)"
	pSpeed.Y.Label.Text = "km/h"
	speedLine, err := plotter.NewLine(series(func(s position.FusedSample) float64 { return s.SpeedKmh }))
	if err != nil {
		return nil, err
	}
	speedLine.Color = speedColor
	speedLine.Width = vg.Points(1)
	pSpeed.Add(speedLine, plotter.NewGrid())
	if err := save(pSpeed, "speed.png"); err != nil {
		return nil, err
	}

	pHeading := plot.New()
	pHeading.Title.Text = "Fused heading"
	pHeading.X.Label.Text = "t (s)"
	pHeading.Y.Label.Text = "deg"
	pHeading.Y.Min, pHeading.Y.Max = 0, 360
	headingPts, err := plotter.NewScatter(series(func(s position.FusedSample) float64 { return s.HeadingDeg }))
	if err != nil {
		return nil, err
	}
	headingPts.Color = headingColor
	headingPts.Radius = vg.Points(1.5)
	pHeading.Add(headingPts, plotter.NewGrid())
	if err := save(pHeading, "heading.png"); err != nil {
		return nil, err
	}

	if len(res.Path) > 1 {
		track := make(plotter.XYs, 0, len(res.Path))
		for _, p := range res.Path {
			track = append(track, plotter.XY{X: p.Lng, Y: p.Lat})
		}
		pTrack := plot.New()
		pTrack.Title.Text = "Retained path"
		pTrack.X.Label.Text = "lng"
		pTrack.Y.Label.Text = "lat"
		trackLine, err := plotter.NewLine(track)
		if err != nil {
			return nil, err
		}
		trackLine.Width = vg.Points(1)
		pTrack.Add(trackLine)
		if err := save(pTrack, "track.png"); err != nil {
			return nil, err
		}
	}
	return written, nil
}
