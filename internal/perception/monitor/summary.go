package monitor

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/deviation.report/internal/httputil"
)

// metricSummary aggregates the persisted per-tick means of one channel over
// a trailing window.
type metricSummary struct {
	Metric string  `json:"metric"`
	Window string  `json:"window"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
}

// handleMetricsSummary serves /api/metrics/summary?metric=&window=. The
// window defaults to 15m and is anchored at the wall clock, not the batch
// clock, since persistence stamps rows at write time.
func (ws *WebServer) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.metrics == nil {
		httputil.ServiceUnavailable(w, "no metric store configured")
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		httputil.BadRequest(w, "missing 'metric' parameter")
		return
	}

	window := 15 * time.Minute
	if param := r.URL.Query().Get("window"); param != "" {
		d, err := time.ParseDuration(param)
		if err != nil || d <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'window' parameter: %q", param))
			return
		}
		window = d
	}

	sinceNs := time.Now().Add(-window).UnixNano()
	means, err := ws.metrics.MeansSince(r.Context(), metric, sinceNs)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("query metric means: %v", err))
		return
	}

	summary := metricSummary{Metric: metric, Window: window.String(), Count: len(means)}
	if len(means) > 0 {
		summary.Mean = stat.Mean(means, nil)
		if len(means) > 1 {
			summary.StdDev = stat.StdDev(means, nil)
		}

		sorted := append([]float64(nil), means...)
		sort.Float64s(sorted)
		summary.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
		summary.P90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
		summary.P99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	}
	httputil.WriteJSONOK(w, summary)
}
