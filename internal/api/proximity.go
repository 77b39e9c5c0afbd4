package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/proximity"
)

// maxNearbyRadiusM bounds radius on /api/locations/nearby.
const maxNearbyRadiusM = 10000

type proximityResponse struct {
	Enabled bool             `json:"enabled"`
	Phase   string           `json:"phase"`
	Active  *proximity.Event `json:"active"`
}

type phaseRequest struct {
	Phase string `json:"phase"`
}

func (s *Server) requireScanner(w http.ResponseWriter) bool {
	if s.scanner == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "proximity scanning is not configured")
		return false
	}
	return true
}

func (s *Server) proximityState() proximityResponse {
	resp := proximityResponse{Enabled: s.scanner.Enabled(), Phase: s.scanner.Phase()}
	if ev, ok := s.scanner.Active(); ok {
		resp.Active = &ev
	}
	return resp
}

func (s *Server) showProximity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireScanner(w) {
		return
	}
	httputil.WriteJSONOK(w, s.proximityState())
}

func (s *Server) dismissProximity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireScanner(w) {
		return
	}
	s.scanner.Dismiss()
	httputil.WriteJSONOK(w, s.proximityState())
}

func (s *Server) setProximityPhase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireScanner(w) {
		return
	}
	var req phaseRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.scanner.SetPhase(req.Phase)
	httputil.WriteJSONOK(w, s.proximityState())
}

// nearbyLocations serves the directory to remote proximity.HTTPDirectory
// clients.
func (s *Server) nearbyLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.dir == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "location directory is not configured")
		return
	}

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil || !geo.ValidCoordinates(lat, lng) {
		httputil.BadRequest(w, "lat and lng must be valid coordinates")
		return
	}
	radius := proximity.DefaultRadiusM
	if v := q.Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 || parsed > maxNearbyRadiusM {
			httputil.BadRequest(w, "invalid 'radius' parameter")
			return
		}
		radius = parsed
	}

	matches, err := s.dir.QueryNearby(r.Context(), proximity.NearbyQuery{
		Lat:     lat,
		Lng:     lng,
		RadiusM: radius,
		Phase:   q.Get("phase"),
	})
	if err != nil {
		monitoring.Logf("nearby query failed: %v", err)
		httputil.InternalServerError(w, "failed to query locations")
		return
	}
	if matches == nil {
		matches = []proximity.Match{}
	}
	httputil.WriteJSONOK(w, proximity.NearbyResponse{Matches: matches})
}
