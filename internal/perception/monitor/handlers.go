package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/deviation.report/internal/httputil"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/deviation"
	sqlitestore "github.com/banshee-data/deviation.report/internal/perception/storage/sqlite"
	"github.com/banshee-data/deviation.report/internal/units"
	"github.com/banshee-data/deviation.report/internal/version"
)

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "deviation-evaluator",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats := ws.runtime.Stats()
	snap, hasSnap := ws.runtime.LatestSnapshot()

	lastEval := "none (warming up)"
	if hasSnap {
		lastEval = fmt.Sprintf("%s (%d channels)", snap.Stamp.Format(time.RFC3339), len(snap.Metrics))
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head><title>Deviation Evaluator</title></head>
<body>
	<h1>Deviation Evaluator</h1>
	<p>Version %s, up since %s</p>
	<p>Batches ingested: %d (evaluated %d, dropped %d, rejected %d)</p>
	<p>Last evaluation: %s</p>
	<ul>
		<li><a href="/health">Health check</a></li>
		<li><a href="/api/objects">Tracked objects</a></li>
		<li><a href="/api/metrics/latest">Latest metrics</a></li>
		<li><a href="/api/params">Engine parameters</a></li>
		<li><a href="/charts/deviation?metric=lateral_deviation">Lateral deviation chart</a></li>
		<li><a href="/charts/tracks">Track scatter</a></li>
	</ul>
</body>
</html>`, version.Version, ws.started.Format(time.RFC3339),
		stats.Ingested, stats.Evaluated, stats.Dropped, stats.Rejected, lastEval)
}

// handleObjects accepts tracker batches (POST) and lists current per-object
// rollups (GET).
func (ws *WebServer) handleObjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		ws.handleIngest(w, r)
	case http.MethodGet:
		httputil.WriteJSONOK(w, ws.runtime.TrackSummaries())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var batch perception.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid batch payload: %v", err))
		return
	}
	if err := batch.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !ws.runtime.Enqueue(batch) {
		httputil.ServiceUnavailable(w, "ingest queue full")
		return
	}
	httputil.Accepted(w, map[string]interface{}{
		"queued":  true,
		"objects": len(batch.Objects),
	})
}

// handleObjectPath serves /api/objects/{id}/path: the raw observed path next
// to the smoothed path the deviation metrics are computed against.
func (ws *WebServer) handleObjectPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/objects/")
	id, suffix, found := strings.Cut(rest, "/")
	if !found || suffix != "path" || id == "" {
		httputil.NotFound(w, "expected /api/objects/{id}/path")
		return
	}

	var raw, smoothed []perception.Pose
	ws.runtime.WithEngine(func(e *deviation.Engine) {
		raw = e.History().PathOf(id)
		smoothed = e.SmoothedPathOf(id)
	})
	if len(raw) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no history for object %s", id))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"object_id": id,
		"raw":       raw,
		"smoothed":  smoothed,
	})
}

// metricReport is the stat shape served by the metrics endpoints.
type metricReport struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// reportStat converts a stat into the requested display units. Yaw channels
// are angles; everything else is a distance in meters.
func (ws *WebServer) reportStat(r *http.Request, metric string, stat deviation.Stat) metricReport {
	convert := units.ConvertDistance
	target := r.URL.Query().Get("units")
	if target == "" || !units.IsValidDistance(target) {
		target = ws.distanceUnits
	}
	if strings.HasPrefix(metric, deviation.KindYaw) {
		convert = units.ConvertAngle
		target = r.URL.Query().Get("angle")
		if target == "" || !units.IsValidAngle(target) {
			target = ws.angleUnits
		}
	}
	return metricReport{
		Count: stat.Count,
		Mean:  convert(stat.Mean, target),
		Min:   convert(stat.Min, target),
		Max:   convert(stat.Max, target),
	}
}

func (ws *WebServer) handleMetricsLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap, ok := ws.runtime.LatestSnapshot()
	if !ok {
		httputil.NotFound(w, "no evaluation yet: engine is warming up")
		return
	}

	metrics := make(map[string]metricReport, len(snap.Metrics))
	for name, stat := range snap.Metrics {
		metrics[name] = ws.reportStat(r, name, stat)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"stamp":        snap.Stamp,
		"target_stamp": snap.TargetStamp,
		"metrics":      metrics,
	})
}

func (ws *WebServer) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
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

	var sinceNs int64
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'since' parameter: %v", err))
			return
		}
		sinceNs = t.UnixNano()
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = v
	}

	tz := r.URL.Query().Get("tz")
	if tz != "" && !units.IsTimezoneValid(tz) {
		httputil.BadRequest(w, fmt.Sprintf("invalid 'tz' parameter: %s", tz))
		return
	}

	rows, err := ws.metrics.ListMetric(r.Context(), metric, sinceNs, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("query metric history: %v", err))
		return
	}
	if tz == "" {
		httputil.WriteJSONOK(w, rows)
		return
	}

	// Stamps are stored as UTC nanoseconds; render them in the requested
	// zone alongside the raw rows.
	type localizedRow struct {
		sqlitestore.MetricRow
		RecordedAt string `json:"recorded_at"`
	}
	localized := make([]localizedRow, len(rows))
	for i, row := range rows {
		local, err := units.ConvertTime(time.Unix(0, row.RecordedAtNs).UTC(), tz)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		localized[i] = localizedRow{MetricRow: row, RecordedAt: local.Format(time.RFC3339)}
	}
	httputil.WriteJSONOK(w, localized)
}

func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var params deviation.Params
	var names []string
	ws.runtime.WithEngine(func(e *deviation.Engine) {
		params = e.Params()
		names = e.MetricNames()
	})
	httputil.WriteJSONOK(w, map[string]interface{}{
		"smoothing_window_size":    params.SmoothingWindowSize,
		"prediction_time_horizons": params.PredictionHorizons,
		"retention_multiplier":     params.RetentionMultiplier,
		"metric_names":             names,
	})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, ws.runtime.Stats())
}

// handleDebugTargets exposes the forecast-vs-history pose pairs behind the
// latest predicted-path evaluation.
func (ws *WebServer) handleDebugTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var targets map[string]deviation.DebugTarget
	ws.runtime.WithEngine(func(e *deviation.Engine) {
		targets = e.DebugTargets()
	})
	httputil.WriteJSONOK(w, targets)
}
