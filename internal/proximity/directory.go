// Package proximity matches the moving vehicle against known locations and
// drives the popup state for the nearest one.
package proximity

import (
	"context"
	"sort"

	"github.com/banshee-data/fleettrack/internal/geo"
)

// KnownLocation is a place the directory knows about.
type KnownLocation struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Address      string  `json:"address,omitempty"`
	Type         string  `json:"type"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	ContactName  string  `json:"contact_name,omitempty"`
	ContactPhone string  `json:"contact_phone,omitempty"`
	// Phase restricts the location to one operational phase. Empty means
	// any phase.
	Phase string `json:"phase,omitempty"`
}

// Point returns the location coordinates.
func (l KnownLocation) Point() geo.Point {
	return geo.Point{Lat: l.Lat, Lng: l.Lng}
}

// Serves reports whether l is relevant during phase.
func (l KnownLocation) Serves(phase string) bool {
	return l.Phase == "" || phase == "" || l.Phase == phase
}

// Match is a location near a query point.
type Match struct {
	Location   KnownLocation `json:"location"`
	DistanceM  float64       `json:"distance_m"`
	BearingDeg float64       `json:"bearing"`
}

// NearbyQuery asks for locations within RadiusM of a point.
type NearbyQuery struct {
	Lat     float64
	Lng     float64
	RadiusM float64
	Phase   string
}

// Point returns the query centre.
func (q NearbyQuery) Point() geo.Point {
	return geo.Point{Lat: q.Lat, Lng: q.Lng}
}

// Directory finds known locations near a point, nearest first.
type Directory interface {
	QueryNearby(ctx context.Context, q NearbyQuery) ([]Match, error)
}

// DirectoryFunc adapts a function to a Directory.
type DirectoryFunc func(ctx context.Context, q NearbyQuery) ([]Match, error)

func (f DirectoryFunc) QueryNearby(ctx context.Context, q NearbyQuery) ([]Match, error) {
	return f(ctx, q)
}

// NearbyResponse is the JSON body of the nearby-locations endpoint.
type NearbyResponse struct {
	Matches []Match `json:"matches"`
}

// Rank keeps the candidates that serve q.Phase and lie within q.RadiusM,
// ordered by distance then id.
func Rank(q NearbyQuery, candidates []KnownLocation) []Match {
	center := q.Point()
	out := make([]Match, 0, len(candidates))
	for _, loc := range candidates {
		if !loc.Serves(q.Phase) {
			continue
		}
		d := geo.HaversineMeters(center, loc.Point())
		if d > q.RadiusM {
			continue
		}
		m := Match{Location: loc, DistanceM: d}
		if d > 0 {
			m.BearingDeg = geo.Bearing(center, loc.Point())
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceM != out[j].DistanceM {
			return out[i].DistanceM < out[j].DistanceM
		}
		return out[i].Location.ID < out[j].Location.ID
	})
	return out
}
