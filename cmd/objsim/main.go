// Command objsim generates synthetic tracker batches for exercising the
// deviation evaluator. It can post batches to a running evaluator, record
// them to a .dvlog directory for later replay, or both. It can also replay
// an existing log against a live evaluator with realistic pacing.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/deviation.report/internal/fsutil"
	"github.com/banshee-data/deviation.report/internal/httputil"
	"github.com/banshee-data/deviation.report/internal/perception"
	"github.com/banshee-data/deviation.report/internal/perception/evlog"
	"github.com/banshee-data/deviation.report/internal/perception/sim"
)

var (
	scenarioName = flag.String("scenario", "straight", "Trajectory scenario (straight, deviated, oscillate, rotate)")
	objectCount  = flag.Int("objects", 1, "Number of simulated objects")
	velocity     = flag.Float64("velocity", 2.0, "Object speed in m/s")
	deviationM   = flag.Float64("deviation", 1.0, "Lateral offset / weave amplitude in metres")
	rotation     = flag.Float64("rotation", math.Pi/4, "Heading twist in radians (rotate scenario)")
	period       = flag.Float64("period", 8.0, "Weave period in seconds (oscillate scenario)")
	frameRate    = flag.Float64("rate", 2.0, "Batches per second")
	duration     = flag.Duration("duration", 30*time.Second, "Total simulated time to generate")
	postURL      = flag.String("post", "", "Evaluator ingest URL, e.g. http://localhost:8080/api/objects")
	outPath      = flag.String("out", "", "Record generated batches to this .dvlog directory")
	replayPath   = flag.String("replay", "", "Replay an existing .dvlog directory instead of generating")
	replayRate   = flag.Float64("replay-rate", 1.0, "Replay speed multiplier")
	realtime     = flag.Bool("realtime", false, "Pace generated batches at the frame rate instead of emitting immediately")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replayPath != "" {
		if *postURL == "" {
			log.Fatal("-replay requires -post: a replayed log needs a live evaluator to receive it")
		}
		if err := replayLog(ctx, *replayPath, *postURL, *replayRate); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	if *postURL == "" && *outPath == "" {
		log.Fatal("nothing to do: set -post and/or -out (or -replay)")
	}
	if err := generate(ctx); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

func generate(ctx context.Context) error {
	kind, err := sim.ParseScenarioKind(*scenarioName)
	if err != nil {
		return err
	}

	scenario := sim.NewScenario(kind)
	scenario.ObjectCount = *objectCount
	scenario.VelocityMPS = *velocity
	scenario.Deviation = *deviationM
	scenario.RotationRad = *rotation
	scenario.OscillatePeriod = *period
	scenario.FrameRate = *frameRate

	var recorder *evlog.Recorder
	if *outPath != "" {
		recorder, err = evlog.NewRecorder(fsutil.OSFileSystem{}, *outPath, "objsim-"+string(kind))
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Printf("recorder close error: %v", err)
			}
		}()
	}

	client := httputil.NewStandardClient(nil)
	interval := time.Duration(float64(time.Second) / scenario.FrameRate)
	total := int(duration.Seconds() * scenario.FrameRate)

	log.Printf("generating %d batches: scenario=%s objects=%d rate=%.1f Hz", total, kind, *objectCount, *frameRate)

	var ticker *time.Ticker
	if *realtime {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	sent := 0
	for i := 0; i < total; i++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				log.Printf("interrupted after %d batches", sent)
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			log.Printf("interrupted after %d batches", sent)
			return nil
		}

		batch := scenario.NextBatch()
		if recorder != nil {
			if err := recorder.Record(batch); err != nil {
				return fmt.Errorf("failed to record batch %d: %w", i, err)
			}
		}
		if *postURL != "" {
			if err := postBatch(client, *postURL, batch); err != nil {
				return fmt.Errorf("failed to post batch %d: %w", i, err)
			}
		}
		sent++
	}

	log.Printf("done: %d batches", sent)
	if recorder != nil {
		log.Printf("recorded to %s", recorder.Path())
	}
	return nil
}

// replayLog posts a recorded log to an evaluator, pacing batches by their
// recorded inter-batch gaps scaled by rate.
func replayLog(ctx context.Context, path, url string, rate float64) error {
	if rate <= 0 {
		rate = 1.0
	}

	replayer, err := evlog.NewReplayer(fsutil.OSFileSystem{}, path)
	if err != nil {
		return err
	}
	log.Printf("replaying %d batches from %s to %s at %.1fx", replayer.TotalBatches(), path, url, rate)

	client := httputil.NewStandardClient(nil)
	var prevStamp time.Time
	for {
		batch, err := replayer.ReadBatch()
		if err == io.EOF {
			log.Printf("replay finished: %d batches", replayer.CurrentBatch())
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
					log.Print("interrupted")
					return nil
				case <-time.After(gap):
				}
			}
		}
		prevStamp = batch.Stamp

		if err := postBatch(client, url, batch); err != nil {
			return err
		}
	}
}

func postBatch(client httputil.HTTPClient, url string, batch perception.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("evaluator returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
