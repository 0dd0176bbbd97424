package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/evaluator.defaults.json"

// TuningConfig represents the root configuration for evaluator tuning
// parameters. The schema matches the /api/params endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Deviation engine params
	SmoothingWindowSize    *int       `json:"smoothing_window_size,omitempty"`
	PredictionTimeHorizons *[]float64 `json:"prediction_time_horizons,omitempty"`
	RetentionMultiplier    *float64   `json:"retention_multiplier,omitempty"`

	// Object filter params
	TargetClasses            *[]string `json:"target_classes,omitempty"`
	StoppedVelocityThreshold *float64  `json:"stopped_velocity_threshold,omitempty"`

	// Ingest params
	IngestQueueSize *int `json:"ingest_queue_size,omitempty"`

	// Flush params
	FlushInterval   *string `json:"flush_interval,omitempty"` // duration string like "60s"
	BackgroundFlush *bool   `json:"background_flush,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/perception/history/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SmoothingWindowSize != nil {
		// Centered window: odd sizes only.
		if *c.SmoothingWindowSize < 1 || *c.SmoothingWindowSize%2 == 0 {
			return fmt.Errorf("smoothing_window_size must be an odd positive integer, got %d", *c.SmoothingWindowSize)
		}
	}

	if c.PredictionTimeHorizons != nil {
		if len(*c.PredictionTimeHorizons) == 0 {
			return fmt.Errorf("prediction_time_horizons must not be empty")
		}
		for _, h := range *c.PredictionTimeHorizons {
			if h <= 0 {
				return fmt.Errorf("prediction_time_horizons must be positive, got %f", h)
			}
		}
	}

	if c.RetentionMultiplier != nil {
		if *c.RetentionMultiplier < 1 {
			return fmt.Errorf("retention_multiplier must be at least 1, got %f", *c.RetentionMultiplier)
		}
	}

	if c.StoppedVelocityThreshold != nil {
		if *c.StoppedVelocityThreshold < 0 {
			return fmt.Errorf("stopped_velocity_threshold must be non-negative, got %f", *c.StoppedVelocityThreshold)
		}
	}

	if c.IngestQueueSize != nil {
		if *c.IngestQueueSize < 1 {
			return fmt.Errorf("ingest_queue_size must be at least 1, got %d", *c.IngestQueueSize)
		}
	}

	// Validate FlushInterval can be parsed if set
	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	return nil
}

// GetSmoothingWindowSize returns the smoothing_window_size value or the default.
func (c *TuningConfig) GetSmoothingWindowSize() int {
	if c.SmoothingWindowSize == nil {
		return 11 // default
	}
	return *c.SmoothingWindowSize
}

// GetPredictionTimeHorizons returns the prediction_time_horizons value or the default.
func (c *TuningConfig) GetPredictionTimeHorizons() []float64 {
	if c.PredictionTimeHorizons == nil || len(*c.PredictionTimeHorizons) == 0 {
		return []float64{1.0, 2.0, 3.0, 5.0} // default
	}
	return *c.PredictionTimeHorizons
}

// GetRetentionMultiplier returns the retention_multiplier value or the default.
func (c *TuningConfig) GetRetentionMultiplier() float64 {
	if c.RetentionMultiplier == nil {
		return 2.0 // default: retain twice the evaluation delay
	}
	return *c.RetentionMultiplier
}

// GetTargetClasses returns the target_classes value or the default.
func (c *TuningConfig) GetTargetClasses() []string {
	if c.TargetClasses == nil {
		return []string{"unknown", "car", "truck", "bus", "trailer", "motorcycle", "bicycle", "pedestrian"}
	}
	return *c.TargetClasses
}

// GetStoppedVelocityThreshold returns the stopped_velocity_threshold value or the default.
func (c *TuningConfig) GetStoppedVelocityThreshold() float64 {
	if c.StoppedVelocityThreshold == nil {
		return 1.0 // m/s
	}
	return *c.StoppedVelocityThreshold
}

// GetIngestQueueSize returns the ingest_queue_size value or the default.
func (c *TuningConfig) GetIngestQueueSize() int {
	if c.IngestQueueSize == nil {
		return 256
	}
	return *c.IngestQueueSize
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetBackgroundFlush returns the background_flush value or the default.
func (c *TuningConfig) GetBackgroundFlush() bool {
	if c.BackgroundFlush == nil {
		return false // default: flushing disabled
	}
	return *c.BackgroundFlush
}
