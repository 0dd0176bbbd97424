// Command evaluator runs the deviation evaluation service: it ingests
// tracker snapshot batches over HTTP (or from a replayed log, or a built-in
// synthetic generator), evaluates deviation metrics on every tick, persists
// results to SQLite and serves the monitoring API.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/deviation.report/internal/config"
	"github.com/banshee-data/deviation.report/internal/db"
	"github.com/banshee-data/deviation.report/internal/fsutil"
	"github.com/banshee-data/deviation.report/internal/monitoring"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/deviation"
	"github.com/banshee-data/deviation.report/internal/perception/evlog"
	"github.com/banshee-data/deviation.report/internal/perception/monitor"
	"github.com/banshee-data/deviation.report/internal/perception/pipeline"
	"github.com/banshee-data/deviation.report/internal/perception/sim"
	sqlitestore "github.com/banshee-data/deviation.report/internal/perception/storage/sqlite"
	"github.com/banshee-data/deviation.report/internal/units"
	"github.com/banshee-data/deviation.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	dbFile        = flag.String("db", "deviation_data.db", "Path to the SQLite database file")
	configPath    = flag.String("config", "", "Path to a tuning config JSON file (defaults apply when empty)")
	synthetic     = flag.Bool("synthetic", false, "Feed the engine from the built-in synthetic generator")
	replayPath    = flag.String("replay", "", "Replay a recorded .dvlog directory into the engine")
	replayRate    = flag.Float64("replay-rate", 1.0, "Replay speed multiplier (2 = twice as fast)")
	recordPath    = flag.String("record", "", "Record every ingested batch to this .dvlog directory")
	enableTailsql = flag.Bool("tailsql", false, "Enable the tailsql live SQL browser on the debug mux")
	distanceUnits = flag.String("units", units.Meters, "Default distance units for reports (m, cm, ft)")
	angleUnits    = flag.String("angle", units.Radians, "Default angle units for reports (rad, mrad, deg)")
	plotDir       = flag.String("plot-dir", "plots", "Directory for saved trajectory plots")
	verbose       = flag.Bool("verbose", false, "Enable per-batch trace logging")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		log.Printf("deviation-evaluator %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	if !units.IsValidDistance(*distanceUnits) {
		log.Fatalf("invalid -units %q (valid: %s)", *distanceUnits, units.GetValidDistanceUnitsString())
	}
	if !units.IsValidAngle(*angleUnits) {
		log.Fatalf("invalid -angle %q (valid: %s)", *angleUnits, units.GetValidAngleUnitsString())
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
		log.Printf("loaded tuning config from %s", *configPath)
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	engine, err := deviation.NewEngine(deviation.Params{
		SmoothingWindowSize: cfg.GetSmoothingWindowSize(),
		PredictionHorizons:  cfg.GetPredictionTimeHorizons(),
		RetentionMultiplier: cfg.GetRetentionMultiplier(),
	})
	if err != nil {
		log.Fatalf("failed to create deviation engine: %v", err)
	}

	var recorder *evlog.Recorder
	if *recordPath != "" {
		recorder, err = evlog.NewRecorder(fsutil.OSFileSystem{}, *recordPath, "evaluator")
		if err != nil {
			log.Fatalf("failed to create batch recorder: %v", err)
		}
		log.Printf("recording batches to %s", recorder.Path())
	}

	// Trace logging is per batch and noisy; keep it opt-in.
	var traceWriter io.Writer
	if *verbose {
		traceWriter = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, os.Stderr, traceWriter)

	// DEVIATION_DEBUG_LOG redirects all three pipeline streams, trace
	// included, to a single file.
	if debugLog := os.Getenv("DEVIATION_DEBUG_LOG"); debugLog != "" {
		f, err := os.OpenFile(debugLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("failed to open DEVIATION_DEBUG_LOG file %s: %v", debugLog, err)
		}
		defer f.Close()
		pipeline.SetLegacyLogger(f)
		log.Printf("pipeline debug logging redirected to %s", debugLog)
	}

	flushInterval := time.Duration(0)
	if cfg.GetBackgroundFlush() {
		flushInterval = cfg.GetFlushInterval()
	}

	sink := sqlitestore.NewSink(database.DB)
	runtime, err := pipeline.NewRuntime(pipeline.Config{
		Engine:        engine,
		Filter:        perception.NewObjectFilter(cfg.GetTargetClasses(), cfg.GetStoppedVelocityThreshold()),
		Recorder:      recorder,
		Sink:          sink,
		QueueSize:     cfg.GetIngestQueueSize(),
		FlushInterval: flushInterval,
	})
	if err != nil {
		log.Fatalf("failed to create pipeline runtime: %v", err)
	}
	runtime.Start()

	webserver := monitor.NewWebServer(monitor.WebServerConfig{
		Address:       *listen,
		Runtime:       runtime,
		Metrics:       sink.Metrics,
		Tracks:        sink.Tracks,
		DB:            database,
		EnableTailsql: *enableTailsql,
		DistanceUnits: *distanceUnits,
		AngleUnits:    *angleUnits,
		PlotDir:       *plotDir,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webserver.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
		log.Print("HTTP server routine terminated")
	}()

	if *synthetic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSynthetic(ctx, runtime)
			log.Print("synthetic generator routine terminated")
		}()
	}

	if *replayPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runReplay(ctx, runtime, *replayPath, *replayRate); err != nil {
				log.Printf("replay error: %v", err)
			}
			log.Print("replay routine terminated")
		}()
	}

	log.Printf("deviation-evaluator %s ready (horizons=%v window=%d)",
		version.Version, cfg.GetPredictionTimeHorizons(), cfg.GetSmoothingWindowSize())

	<-ctx.Done()
	log.Print("shutting down...")
	wg.Wait()

	if err := runtime.Close(); err != nil {
		log.Printf("runtime close error: %v", err)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Printf("recorder close error: %v", err)
		}
	}
	log.Print("shutdown complete")
}

// runSynthetic feeds the runtime from the built-in circular-track generator
// until ctx is cancelled.
func runSynthetic(ctx context.Context, runtime *pipeline.Runtime) {
	gen := sim.NewGenerator("synthetic")
	interval := time.Duration(float64(time.Second) / gen.FrameRate)

	log.Printf("synthetic generator: %d objects at %.1f Hz", gen.ObjectCount, gen.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.Enqueue(gen.NextBatch())
		}
	}
}

// runReplay feeds the runtime from a recorded log, pacing batches by their
// recorded inter-batch gaps scaled by rate.
func runReplay(ctx context.Context, runtime *pipeline.Runtime, path string, rate float64) error {
	if rate <= 0 {
		rate = 1.0
	}

	replayer, err := evlog.NewReplayer(fsutil.OSFileSystem{}, path)
	if err != nil {
		return err
	}
	log.Printf("replaying %d batches from %s at %.1fx", replayer.TotalBatches(), path, rate)

	var prevStamp time.Time
	for {
		batch, err := replayer.ReadBatch()
		if err == io.EOF {
			monitoring.Logf("replay finished: %d batches", replayer.CurrentBatch())
			return nil
		}
		if err != nil {
			return err
		}

		if !prevStamp.IsZero() {
			gap := time.Duration(float64(batch.Stamp.Sub(prevStamp)) / rate)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(gap):
				}
			}
		}
		prevStamp = batch.Stamp

		select {
		case <-ctx.Done():
			return nil
		default:
			runtime.Enqueue(batch)
		}
	}
}
