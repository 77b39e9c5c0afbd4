package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/fleettrack/internal/httputil"
)

// HTTPSink POSTs each record as JSON to an ingest endpoint.
type HTTPSink struct {
	Endpoint string
	Client   httputil.HTTPClient
}

// NewHTTPSink returns a sink posting to endpoint with client. A nil client
// uses http.DefaultClient.
func NewHTTPSink(endpoint string, client httputil.HTTPClient) *HTTPSink {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPSink{Endpoint: endpoint, Client: client}
}

func (s *HTTPSink) Send(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post telemetry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post telemetry: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
