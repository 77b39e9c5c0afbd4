package api

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/security"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/google/uuid"
)

// exportTelemetry writes the emitter's in-memory log. format=csv selects CSV,
// anything else JSON.
func (s *Server) exportTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.emitter == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "telemetry is not configured")
		return
	}

	records := s.emitter.Records()
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		if err := telemetry.WriteJSON(w, records); err != nil {
			monitoring.Logf("failed to write telemetry json: %v", err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		name := "telemetry-" + security.SanitizeFilename(s.tracker.SessionID()) + ".csv"
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if err := telemetry.WriteCSV(w, records); err != nil {
			monitoring.Logf("failed to write telemetry csv: %v", err)
		}
	default:
		httputil.BadRequest(w, "unsupported format "+format)
	}
}

// ingestTelemetry is the receiving end of telemetry.HTTPSink.
func (s *Server) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.ingest == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "telemetry ingest is not configured")
		return
	}

	var rec telemetry.Record
	if err := httputil.ReadJSON(r, &rec); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if rec.SessionID == "" {
		httputil.BadRequest(w, "session_id is required")
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.clock.Now().UTC()
	}

	if err := s.ingest.Send(r.Context(), rec); err != nil {
		monitoring.Logf("telemetry ingest failed: %v", err)
		httputil.InternalServerError(w, "failed to store record")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}
