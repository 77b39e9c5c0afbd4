package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/tracking"
)

type statsResponse struct {
	tracking.Statistics
	DurationS float64 `json:"duration_s"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.tracker.Snapshot())
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	stats := s.tracker.Statistics()
	httputil.WriteJSONOK(w, statsResponse{Statistics: stats, DurationS: stats.Duration.Seconds()})
}

func (s *Server) showPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	path := s.tracker.Path()
	if path == nil {
		path = []tracking.PathPoint{}
	}
	httputil.WriteJSONOK(w, path)
}

// trackingCommand handles POST /api/tracking/{start,pause,resume,stop,clear}
// and answers with the resulting snapshot.
func (s *Server) trackingCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var err error
	switch cmd := strings.TrimPrefix(r.URL.Path, "/api/tracking/"); cmd {
	case "start":
		err = s.tracker.Start(r.Context())
	case "pause":
		err = s.tracker.Pause()
	case "resume":
		err = s.tracker.Resume()
	case "stop":
		s.tracker.Stop()
	case "clear":
		s.tracker.Clear()
	default:
		httputil.WriteJSONError(w, http.StatusNotFound, "unknown tracking command "+cmd)
		return
	}
	if err != nil {
		writeTrackingError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.tracker.Snapshot())
}

func writeTrackingError(w http.ResponseWriter, err error) {
	var perr *source.PositionError
	switch {
	case errors.Is(err, tracking.ErrAlreadyActive), errors.Is(err, tracking.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, context.Canceled):
		// A stop or a client disconnect ended the start.
		httputil.Conflict(w, err.Error())
	case errors.As(err, &perr) && perr.Kind == source.PermissionDenied:
		httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &perr) && perr.Kind == source.Timeout:
		httputil.WriteJSONError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &perr):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		monitoring.Logf("tracking command failed: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}
