// Command track-replay runs a recorded NMEA log through the tracking
// pipeline offline, prints summary statistics and writes PNG plots of the
// fused speed, heading and path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/fleettrack/internal/config"
	"github.com/banshee-data/fleettrack/internal/security"
)

func main() {
	in := flag.String("in", "", "NMEA log file to replay")
	out := flag.String("out", "replay-plots", "Directory for PNG plots (empty disables plots)")
	configPath := flag.String("config", "", "Tracking config for fusion gates and UERE")
	asJSON := flag.Bool("json", false, "Print the summary as JSON")
	flag.Parse()

	if *in == "" {
		log.Fatal("-in is required")
	}

	cfg := config.DefaultTrackingConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadTrackingConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()

	res, err := Replay(f, Options{
		UERE:       cfg.GetUERE(),
		PathGateM:  cfg.GetPathGateM(),
		Thresholds: cfg.GetThresholds(),
	})
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("failed to encode summary: %v", err)
		}
	} else {
		fmt.Printf("lines:        %d (parse errors %d, no fix %d)\n", res.Lines, res.ParseErrors, res.NoFix)
		fmt.Printf("samples:      %d (rejected %d)\n", res.Samples, res.Rejected)
		fmt.Printf("path points:  %d\n", len(res.Path))
		fmt.Printf("distance:     %.3f km\n", res.Stats.TotalDistanceKm)
		fmt.Printf("avg speed:    %.1f km/h\n", res.Stats.AverageSpeedKmh)
		fmt.Printf("max speed:    %.1f km/h\n", res.Stats.MaxSpeedKmh)
		fmt.Printf("duration:     %.0f s\n", res.DurationS)
	}

	if *out == "" || res.Samples == 0 {
		return
	}
	if err := security.ValidateOutputPath(*out); err != nil {
		log.Fatalf("invalid -out: %v", err)
	}
	files, err := WritePlots(*out, res)
	if err != nil {
		log.Fatalf("failed to write plots: %v", err)
	}
	for _, path := range files {
		log.Printf("wrote %s", path)
	}
}
