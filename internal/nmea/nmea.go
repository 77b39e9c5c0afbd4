// Package nmea decodes the NMEA 0183 sentences emitted by GNSS receivers
// (RMC, GGA and GST) and assembles them into position samples.
package nmea

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotNMEA       = errors.New("not an NMEA sentence")
	ErrChecksum      = errors.New("nmea checksum mismatch")
	ErrUnsupported   = errors.New("unsupported NMEA sentence")
	ErrShortSentence = errors.New("nmea sentence has too few fields")
)

// Sentence is a decoded NMEA sentence.
type Sentence interface {
	// Type is the sentence formatter without the talker, e.g. "RMC".
	Type() string
}

// RMC is the recommended minimum navigation sentence.
type RMC struct {
	Time time.Time
	// Valid is false when the receiver reports status V (no fix).
	Valid     bool
	Lat       float64
	Lng       float64
	SpeedKnot *float64
	CourseDeg *float64
}

func (RMC) Type() string { return "RMC" }

// GGA is the fix data sentence.
type GGA struct {
	// TimeOfDay is the UTC time since midnight.
	TimeOfDay  time.Duration
	Lat        float64
	Lng        float64
	FixQuality int
	Satellites int
	HDOP       *float64
	AltitudeM  *float64
}

func (GGA) Type() string { return "GGA" }

// GST is the pseudorange noise statistics sentence.
type GST struct {
	TimeOfDay time.Duration
	LatSigmaM *float64
	LngSigmaM *float64
}

func (GST) Type() string { return "GST" }

// HorizontalSigma combines the latitude and longitude standard deviations.
func (g GST) HorizontalSigma() (float64, bool) {
	if g.LatSigmaM == nil || g.LngSigmaM == nil {
		return 0, false
	}
	return math.Hypot(*g.LatSigmaM, *g.LngSigmaM), true
}

// Parse decodes a single sentence. A checksum, when present, must match.
func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil, ErrNotNMEA
	}
	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		want, err := strconv.ParseUint(body[i+1:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad checksum field %q", ErrChecksum, body[i+1:])
		}
		body = body[:i]
		if got := checksum(body); got != byte(want) {
			return nil, fmt.Errorf("%w: got %02X want %02X", ErrChecksum, got, want)
		}
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) < 5 {
		return nil, ErrNotNMEA
	}
	formatter := fields[0][len(fields[0])-3:]
	switch formatter {
	case "RMC":
		return parseRMC(fields)
	case "GGA":
		return parseGGA(fields)
	case "GST":
		return parseGST(fields)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, fields[0])
	}
}

func checksum(body string) byte {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return c
}

// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a
func parseRMC(f []string) (Sentence, error) {
	if len(f) < 10 {
		return nil, ErrShortSentence
	}
	r := RMC{Valid: f[2] == "A"}
	if !r.Valid {
		return r, nil
	}
	var err error
	if r.Lat, err = parseCoordinate(f[3], f[4]); err != nil {
		return nil, fmt.Errorf("rmc latitude: %w", err)
	}
	if r.Lng, err = parseCoordinate(f[5], f[6]); err != nil {
		return nil, fmt.Errorf("rmc longitude: %w", err)
	}
	r.SpeedKnot = optionalFloat(f[7])
	r.CourseDeg = optionalFloat(f[8])

	tod, err := parseTimeOfDay(f[1])
	if err != nil {
		return nil, fmt.Errorf("rmc time: %w", err)
	}
	date, err := time.Parse("020106", f[9])
	if err != nil {
		return nil, fmt.Errorf("rmc date: %w", err)
	}
	r.Time = date.Add(tod)
	return r, nil
}

// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx
func parseGGA(f []string) (Sentence, error) {
	if len(f) < 10 {
		return nil, ErrShortSentence
	}
	g := GGA{}
	var err error
	if g.TimeOfDay, err = parseTimeOfDay(f[1]); err != nil {
		return nil, fmt.Errorf("gga time: %w", err)
	}
	if g.FixQuality, err = strconv.Atoi(f[6]); err != nil {
		return nil, fmt.Errorf("gga fix quality: %w", err)
	}
	if g.FixQuality == 0 {
		return g, nil
	}
	if g.Lat, err = parseCoordinate(f[2], f[3]); err != nil {
		return nil, fmt.Errorf("gga latitude: %w", err)
	}
	if g.Lng, err = parseCoordinate(f[4], f[5]); err != nil {
		return nil, fmt.Errorf("gga longitude: %w", err)
	}
	if n, err := strconv.Atoi(f[7]); err == nil {
		g.Satellites = n
	}
	g.HDOP = optionalFloat(f[8])
	g.AltitudeM = optionalFloat(f[9])
	return g, nil
}

// $GPGST,hhmmss.ss,x.x,x.x,x.x,x.x,x.x,x.x,x.x
func parseGST(f []string) (Sentence, error) {
	if len(f) < 8 {
		return nil, ErrShortSentence
	}
	tod, err := parseTimeOfDay(f[1])
	if err != nil {
		return nil, fmt.Errorf("gst time: %w", err)
	}
	return GST{
		TimeOfDay: tod,
		LatSigmaM: optionalFloat(f[6]),
		LngSigmaM: optionalFloat(f[7]),
	}, nil
}

// parseCoordinate converts ddmm.mmmm / dddmm.mmmm with a hemisphere letter
// to signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	if value == "" {
		return 0, errors.New("empty coordinate")
	}
	raw, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	degrees := math.Floor(raw / 100)
	decimal := degrees + (raw-degrees*100)/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		decimal = -decimal
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemisphere)
	}
	return decimal, nil
}

// parseTimeOfDay parses hhmmss[.sss].
func parseTimeOfDay(s string) (time.Duration, error) {
	if len(s) < 6 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err1 := strconv.Atoi(s[0:2])
	m, err2 := strconv.Atoi(s[2:4])
	sec, err3 := strconv.ParseFloat(s[4:], 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(math.Round(sec*1000))*time.Millisecond, nil
}

func optionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
