package nmea

import (
	"time"

	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/units"
)

const (
	// DefaultUERE is the user equivalent range error used to turn HDOP into
	// an accuracy estimate when the receiver does not send GST.
	DefaultUERE = 5.0
	// DefaultAccuracyM is reported when neither GST nor GGA is available.
	DefaultAccuracyM = 25.0
)

// Assembler combines the sentences of one receiver epoch into a single
// position sample. Receivers emit GGA and GST before RMC, so a sample is
// produced when an RMC arrives and enriched with any GGA/GST that carry the
// same time of day.
type Assembler struct {
	UERE float64

	gga *GGA
	gst *GST
}

// Feed consumes a sentence. It returns a sample and true when an RMC with
// a valid fix completes an epoch. An RMC without a fix returns noFix=true.
func (a *Assembler) Feed(s Sentence) (sample position.RawSample, ok bool, noFix bool) {
	switch v := s.(type) {
	case GGA:
		a.gga = &v
	case GST:
		a.gst = &v
	case RMC:
		if !v.Valid {
			return position.RawSample{}, false, true
		}
		return a.assemble(v), true, false
	}
	return position.RawSample{}, false, false
}

// Satellites returns the satellite count from the latest GGA, or 0.
func (a *Assembler) Satellites() int {
	if a.gga == nil {
		return 0
	}
	return a.gga.Satellites
}

func (a *Assembler) assemble(r RMC) position.RawSample {
	tod := timeOfDay(r.Time)
	out := position.RawSample{
		Lat:       r.Lat,
		Lng:       r.Lng,
		Accuracy:  DefaultAccuracyM,
		Timestamp: r.Time.UnixMilli(),
	}
	if r.SpeedKnot != nil {
		mps := units.KnotsToMPS(*r.SpeedKnot)
		out.Speed = &mps
	}
	if r.CourseDeg != nil {
		course := *r.CourseDeg
		out.Heading = &course
	}

	uere := a.UERE
	if uere <= 0 {
		uere = DefaultUERE
	}
	if g := a.gga; g != nil && g.TimeOfDay == tod && g.FixQuality > 0 {
		if g.HDOP != nil {
			out.Accuracy = *g.HDOP * uere
		}
		if g.AltitudeM != nil {
			alt := *g.AltitudeM
			out.Altitude = &alt
		}
	}
	if st := a.gst; st != nil && st.TimeOfDay == tod {
		if sigma, ok := st.HorizontalSigma(); ok {
			out.Accuracy = sigma
		}
	}
	return out
}

func timeOfDay(t time.Time) time.Duration {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight)
}
