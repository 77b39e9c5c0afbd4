package proximity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/fleettrack/internal/httputil"
)

// HTTPDirectory queries a remote fleettrack server's nearby-locations
// endpoint.
type HTTPDirectory struct {
	BaseURL string
	Client  httputil.HTTPClient
}

// NewHTTPDirectory returns a directory rooted at baseURL.
func NewHTTPDirectory(baseURL string, client httputil.HTTPClient) *HTTPDirectory {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPDirectory{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: client}
}

func (d *HTTPDirectory) QueryNearby(ctx context.Context, q NearbyQuery) ([]Match, error) {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	v.Set("lng", strconv.FormatFloat(q.Lng, 'f', -1, 64))
	v.Set("radius", strconv.FormatFloat(q.RadiusM, 'f', -1, 64))
	if q.Phase != "" {
		v.Set("phase", q.Phase)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/api/locations/nearby?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build nearby request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query nearby locations: %w", err)
	}
	var body NearbyResponse
	if err := httputil.DecodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("query nearby locations: %w", err)
	}
	return body.Matches, nil
}
