package monitor

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/deviation.report/internal/httputil"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/deviation"
	"github.com/banshee-data/deviation.report/internal/security"
)

// handleTrackPlot renders a PNG of one object's raw vs smoothed trajectory.
// Query params:
//
//	object (required)
//	save (optional; "1" also writes the PNG under the configured plot dir)
func (ws *WebServer) handleTrackPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id := r.URL.Query().Get("object")
	if id == "" {
		httputil.BadRequest(w, "missing 'object' parameter")
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

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track %s", id)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	rawLine, err := plotter.NewLine(posesToXYs(raw))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("build raw line: %v", err))
		return
	}
	rawLine.LineStyle.Width = vg.Points(1)
	rawLine.LineStyle.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	p.Add(rawLine)
	p.Legend.Add("raw", rawLine)

	if len(smoothed) > 0 {
		smoothLine, err := plotter.NewLine(posesToXYs(smoothed))
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("build smoothed line: %v", err))
			return
		}
		smoothLine.LineStyle.Width = vg.Points(2)
		p.Add(smoothLine)
		p.Legend.Add("smoothed", smoothLine)
	}

	writer, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render plot: %v", err))
		return
	}

	if r.URL.Query().Get("save") == "1" {
		if err := ws.savePlot(id, p); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("save plot: %v", err))
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := writer.WriteTo(w); err != nil {
		// Headers are already out; nothing more to report to the client.
		return
	}
}

// savePlot writes the plot as a PNG under the configured plot directory. The
// object id comes from the request, so the filename is sanitised and the
// final path validated against traversal before writing.
func (ws *WebServer) savePlot(id string, p *plot.Plot) error {
	if ws.plotDir == "" {
		return fmt.Errorf("no plot directory configured")
	}
	if err := os.MkdirAll(ws.plotDir, 0o755); err != nil {
		return fmt.Errorf("create plot directory: %w", err)
	}

	filename := security.SanitizeFilename(fmt.Sprintf("track_%s.png", id))
	outPath := filepath.Join(ws.plotDir, filename)
	if err := security.ValidatePathWithinDirectory(outPath, ws.plotDir); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, outPath)
}

func posesToXYs(poses []perception.Pose) plotter.XYs {
	xys := make(plotter.XYs, len(poses))
	for i, pose := range poses {
		xys[i].X = pose.X
		xys[i].Y = pose.Y
	}
	return xys
}
