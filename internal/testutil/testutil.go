// Package testutil provides shared test utilities and fixtures.
//
// The position helpers place samples on a local flat grid around an origin,
// which keeps expected distances easy to read in tests.
package testutil

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/position"
)

// MetersPerDegree is the length of one degree of latitude on the sphere
// used by geo.
const MetersPerDegree = geo.EarthRadiusKm * 1000 * math.Pi / 180

// Origin is the default test origin.
var Origin = geo.Point{Lat: 35, Lng: 135}

// Offset returns the point northM metres north and eastM metres east of
// origin. It is exact for northM and close for small eastM.
func Offset(origin geo.Point, northM, eastM float64) geo.Point {
	return geo.Point{
		Lat: origin.Lat + northM/MetersPerDegree,
		Lng: origin.Lng + eastM/(MetersPerDegree*math.Cos(origin.Lat*math.Pi/180)),
	}
}

// Sample returns a raw sample at p with the given accuracy and device
// timestamp in milliseconds.
func Sample(p geo.Point, accuracy float64, ms int64) position.RawSample {
	return position.RawSample{Lat: p.Lat, Lng: p.Lng, Accuracy: accuracy, Timestamp: ms}
}

// North returns a 5 m accuracy sample northM metres north of Origin.
func North(northM float64, ms int64) position.RawSample {
	return Sample(Offset(Origin, northM, 0), 5, ms)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// LocalRequest creates a test request from the loopback address, which
// tsweb requires for /debug/ routes.
func LocalRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}
