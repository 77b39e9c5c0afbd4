package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/fleettrack/internal/fusion"
	"github.com/banshee-data/fleettrack/internal/nmea"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/tracking"
)

// Options tunes an offline replay.
type Options struct {
	UERE       float64
	PathGateM  float64
	Thresholds fusion.Thresholds
}

// Result summarises one replayed log.
type Result struct {
	Lines       int                    `json:"lines"`
	ParseErrors int                    `json:"parse_errors"`
	NoFix       int                    `json:"no_fix"`
	Samples     int                    `json:"samples"`
	Rejected    int                    `json:"rejected"`
	Stats       tracking.Statistics    `json:"stats"`
	DurationS   float64                `json:"duration_s"`
	Published   []position.FusedSample `json:"-"`
	Path        []tracking.PathPoint   `json:"-"`
}

// Replay runs every fix in r through the fusion pipeline. Arrival time is
// taken from the receiver timestamps, so the run is deterministic.
func Replay(r io.Reader, opts Options) (Result, error) {
	var (
		res     Result
		asm     = nmea.Assembler{UERE: opts.UERE}
		policy  = fusion.NewPolicy(opts.Thresholds)
		session tracking.SessionState
		started bool
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		res.Lines++
		sentence, err := nmea.Parse(sc.Text())
		if err != nil {
			if !errors.Is(err, nmea.ErrUnsupported) && !errors.Is(err, nmea.ErrNotNMEA) {
				res.ParseErrors++
			}
			continue
		}
		raw, ok, noFix := asm.Feed(sentence)
		if noFix {
			res.NoFix++
		}
		if !ok {
			continue
		}

		now := time.UnixMilli(raw.Timestamp).UTC()
		if !started {
			session = tracking.NewSession("replay", now)
			started = true
		}
		var fused *position.FusedSample
		session, fused = tracking.Step(session, raw, tracking.StepEnv{
			Now:       now,
			Policy:    policy,
			PathGateM: opts.PathGateM,
		})
		if fused == nil {
			res.Rejected++
			continue
		}
		res.Samples++
		res.Published = append(res.Published, *fused)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read log: %w", err)
	}

	res.Stats = session.Stats
	res.DurationS = session.Stats.Duration.Seconds()
	res.Path = session.PathCopy()
	return res, nil
}
