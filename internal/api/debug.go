package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

// AttachDebugRoutes mounts the speed chart, and the receiver routes when a
// serial mux is configured, on the tsweb debug page of mux.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("speed-chart", "Speed and heading along the current session path", s.handleSpeedChart)
	if s.m != nil {
		s.m.AttachAdminRoutes(mux)
	}
}

// handleSpeedChart renders the retained path as an HTML line chart. The x
// axis is seconds since the first retained point.
func (s *Server) handleSpeedChart(w http.ResponseWriter, r *http.Request) {
	path := s.tracker.Path()
	if len(path) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no path points recorded")
		return
	}

	start := path[0].Timestamp
	x := make([]string, 0, len(path))
	speed := make([]opts.LineData, 0, len(path))
	heading := make([]opts.LineData, 0, len(path))
	for _, p := range path {
		x = append(x, strconv.FormatFloat(float64(p.Timestamp-start)/1000, 'f', 1, 64))
		speed = append(speed, opts.LineData{Value: p.SpeedKmh})
		heading = append(heading, opts.LineData{Value: p.HeadingDeg})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session speed", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Session speed and heading", Subtitle: fmt.Sprintf("session=%s points=%d", s.tracker.SessionID(), len(path))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km/h"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "deg", Min: 0, Max: 360})
	line.SetXAxis(x).
		AddSeries("speed", speed).
		AddSeries("heading", heading, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
