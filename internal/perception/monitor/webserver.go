// Package monitor serves the evaluator's HTTP surface: ingest and query
// APIs, ECharts dashboards, trajectory plots and the admin/debug mux.
package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/banshee-data/deviation.report/internal/db"
	"github.com/banshee-data/deviation.report/internal/monitoring"
	"github.com/banshee-data/deviation.report/internal/perception/pipeline"
	sqlitestore "github.com/banshee-data/deviation.report/internal/perception/storage/sqlite"
	"github.com/banshee-data/deviation.report/internal/units"
)

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Runtime *pipeline.Runtime

	// Metrics and Tracks serve the persisted-history endpoints; both may be
	// nil, which disables those endpoints.
	Metrics *sqlitestore.MetricStore
	Tracks  *sqlitestore.TrackStore

	// DB enables the admin/debug routes when set.
	DB            *db.DB
	EnableTailsql bool

	// DistanceUnits and AngleUnits select the default reporting units.
	// Individual requests can override them with ?units= and ?angle=.
	DistanceUnits string
	AngleUnits    string

	// PlotDir is where /plots/track?save=1 writes PNG files. Empty disables
	// saving.
	PlotDir string
}

// WebServer handles the HTTP interface for the deviation evaluator.
type WebServer struct {
	address       string
	runtime       *pipeline.Runtime
	metrics       *sqlitestore.MetricStore
	tracks        *sqlitestore.TrackStore
	db            *db.DB
	distanceUnits string
	angleUnits    string
	plotDir       string
	server        *http.Server
	started       time.Time
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:       config.Address,
		runtime:       config.Runtime,
		metrics:       config.Metrics,
		tracks:        config.Tracks,
		db:            config.DB,
		distanceUnits: config.DistanceUnits,
		angleUnits:    config.AngleUnits,
		plotDir:       config.PlotDir,
		started:       time.Now(),
	}
	if ws.distanceUnits == "" {
		ws.distanceUnits = units.Meters
	}
	if ws.angleUnits == "" {
		ws.angleUnits = units.Radians
	}

	mux := ws.setupRoutes(config.EnableTailsql)
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: LoggingMiddleware(mux),
	}
	return ws
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes(enableTailsql bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)

	mux.HandleFunc("/api/objects", ws.handleObjects)
	mux.HandleFunc("/api/objects/", ws.handleObjectPath)
	mux.HandleFunc("/api/metrics/latest", ws.handleMetricsLatest)
	mux.HandleFunc("/api/metrics/history", ws.handleMetricsHistory)
	mux.HandleFunc("/api/metrics/summary", ws.handleMetricsSummary)
	mux.HandleFunc("/api/params", ws.handleParams)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/debug/targets", ws.handleDebugTargets)

	mux.HandleFunc("/charts/deviation", ws.handleDeviationChart)
	mux.HandleFunc("/charts/tracks", ws.handleTracksChart)
	mux.HandleFunc("/plots/track", ws.handleTrackPlot)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux, enableTailsql); err != nil {
			monitoring.Logf("failed to attach admin routes: %v", err)
		}
	}
	return mux
}

// Handler returns the server's root handler, for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start begins the HTTP server and blocks until ctx is cancelled, then shuts
// it down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server stopped")
	return nil
}
