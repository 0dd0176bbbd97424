package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/deviation.report/internal/httputil"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/deviation"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleDeviationChart renders a line chart of a metric channel's persisted
// mean/min/max over time.
// Query params:
//
//	metric (optional, default lateral_deviation)
//	limit (optional, default 200)
func (ws *WebServer) handleDeviationChart(w http.ResponseWriter, r *http.Request) {
	if ws.metrics == nil {
		httputil.ServiceUnavailable(w, "no metric store configured")
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = deviation.KindLateral
	}
	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 2000 {
			limit = v
		}
	}

	rows, err := ws.metrics.ListMetric(r.Context(), metric, 0, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("query metric history: %v", err))
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no persisted data for metric %q", metric))
		return
	}

	// Rows come back newest first; plot oldest to newest.
	x := make([]string, 0, len(rows))
	meanData := make([]opts.LineData, 0, len(rows))
	minData := make([]opts.LineData, 0, len(rows))
	maxData := make([]opts.LineData, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		x = append(x, time.Unix(0, row.RecordedAtNs).Format("15:04:05"))
		meanData = append(meanData, opts.LineData{Value: row.Mean})
		minData = append(minData, opts.LineData{Value: row.Min})
		maxData = append(maxData, opts.LineData{Value: row.Max})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Deviation Metrics", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: metric, Subtitle: fmt.Sprintf("last %d evaluation passes", len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("mean", meanData).
		AddSeries("min", minData).
		AddSeries("max", maxData)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTracksChart renders an XY scatter of every tracked object's smoothed
// path. A debugging view to eyeball what the deviation metrics compare
// against.
func (ws *WebServer) handleTracksChart(w http.ResponseWriter, r *http.Request) {
	type trackSeries struct {
		id    string
		class string
		data  []opts.ScatterData
	}

	var series []trackSeries
	maxAbs := 0.0
	ws.runtime.WithEngine(func(e *deviation.Engine) {
		for _, id := range e.History().ObjectIDs() {
			path := e.SmoothedPathOf(id)
			if len(path) == 0 {
				continue
			}
			ts := trackSeries{id: id}
			if latest, ok := e.History().Latest(id); ok {
				ts.class = latest.Object.Class
			}
			for _, p := range path {
				if abs(p.X) > maxAbs {
					maxAbs = abs(p.X)
				}
				if abs(p.Y) > maxAbs {
					maxAbs = abs(p.Y)
				}
				ts.data = append(ts.data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
			}
			series = append(series, ts)
		}
	})
	if len(series) == 0 {
		httputil.NotFound(w, "no tracked objects with smoothed paths")
		return
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Smoothed Tracks", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Smoothed Track Paths", Subtitle: fmt.Sprintf("%d objects", len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	for _, ts := range series {
		label := ts.id
		if ts.class != "" && ts.class != perception.ClassUnknown {
			label = fmt.Sprintf("%s (%s)", ts.id, ts.class)
		}
		scatter.AddSeries(label, ts.data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
