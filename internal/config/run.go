package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigPath is the conventional location of the run configuration.
const DefaultConfigPath = "config/run.defaults.json"

// Partial-batch policies for ticks where some agents did not report in time.
const (
	// PartialSkip publishes the partial fused frame but does not persist the tick.
	PartialSkip = "skip"
	// PartialFuse persists the tick with missing agent slots zero-filled.
	PartialFuse = "fuse"
)

// Dataset storage formats.
const (
	FormatBinary = "binary"
	FormatSQLite = "sqlite"
)

// RunConfig is the root configuration for one dataset-generation run.
// JSON supplies the base values; LIDARFUSION_* environment variables
// override individual fields after the file is read.
type RunConfig struct {
	Simulation SimulationConfig `json:"simulation"`
	Sensor     SensorConfig     `json:"sensor"`
	Collector  CollectorConfig  `json:"collector"`
	Dataset    DatasetConfig    `json:"dataset"`
	Monitor    MonitorConfig    `json:"monitor"`
	Visualiser VisualiserConfig `json:"visualiser"`
}

// SimulationConfig describes the simulated world and its fleet.
type SimulationConfig struct {
	Map           string  `json:"map" env:"LIDARFUSION_MAP"`
	FPS           float64 `json:"fps" env:"LIDARFUSION_FPS"`
	Vehicles      int     `json:"vehicles" env:"LIDARFUSION_VEHICLES"`
	Seed          int64   `json:"seed" env:"LIDARFUSION_SEED"`
	Autopilot     bool    `json:"autopilot" env:"LIDARFUSION_AUTOPILOT"`
	SpawnAttempts int     `json:"spawn_attempts" env:"LIDARFUSION_SPAWN_ATTEMPTS"`
	SpawnRadius   float64 `json:"spawn_radius" env:"LIDARFUSION_SPAWN_RADIUS"`
	// DropRate is the probability that the synthetic simulator withholds a
	// measurement, used to exercise the missing-data path.
	DropRate float64 `json:"drop_rate" env:"LIDARFUSION_DROP_RATE"`
}

// CollectorConfig controls per-tick synchronisation.
type CollectorConfig struct {
	Timeout       string `json:"timeout" env:"LIDARFUSION_COLLECT_TIMEOUT"` // duration string like "5s"
	PartialPolicy string `json:"partial_policy" env:"LIDARFUSION_PARTIAL_POLICY"`
	BacklogWarn   int    `json:"backlog_warn" env:"LIDARFUSION_BACKLOG_WARN"`
}

// DatasetConfig controls persistence of fused ticks.
type DatasetConfig struct {
	Path          string `json:"path" env:"LIDARFUSION_DATASET_PATH"`
	Format        string `json:"format" env:"LIDARFUSION_DATASET_FORMAT"`
	PointCapacity int    `json:"point_capacity" env:"LIDARFUSION_POINT_CAPACITY"`
	BurnIn        int    `json:"burn_in" env:"LIDARFUSION_BURN_IN"`
	Frames        int    `json:"frames" env:"LIDARFUSION_FRAMES"`
}

// MonitorConfig controls the HTTP monitor.
type MonitorConfig struct {
	Listen string `json:"listen" env:"LIDARFUSION_MONITOR_LISTEN"`
}

// VisualiserConfig controls the gRPC frame stream.
type VisualiserConfig struct {
	Listen string `json:"listen" env:"LIDARFUSION_VISUALISER_LISTEN"`
}

// DefaultRunConfig returns the defaults used by the dataset generator.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Simulation: SimulationConfig{
			Map:           "Town03",
			FPS:           10,
			Vehicles:      4,
			Seed:          1,
			Autopilot:     true,
			SpawnAttempts: 100,
			SpawnRadius:   50,
		},
		Sensor: DefaultSensorConfig(),
		Collector: CollectorConfig{
			Timeout:       "5s",
			PartialPolicy: PartialSkip,
			BacklogWarn:   256,
		},
		Dataset: DatasetConfig{
			Path:          "data/snippet",
			Format:        FormatBinary,
			PointCapacity: 50000,
			BurnIn:        30,
			Frames:        125,
		},
		Monitor:    MonitorConfig{Listen: ":8081"},
		Visualiser: VisualiserConfig{Listen: "localhost:50051"},
	}
}

// LoadRunConfig loads a RunConfig from a JSON file on top of the defaults,
// applies environment overrides and validates the result.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := DefaultRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from LIDARFUSION_* environment variables.
// Unset variables leave the current value untouched.
func (c *RunConfig) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (c *RunConfig) Validate() error {
	if c.Simulation.FPS <= 0 || c.Simulation.FPS > 1000 {
		return fmt.Errorf("fps must be in (0, 1000], got %f", c.Simulation.FPS)
	}
	if c.Simulation.Vehicles < 0 {
		return fmt.Errorf("vehicles must be non-negative, got %d", c.Simulation.Vehicles)
	}
	if c.Simulation.SpawnAttempts < c.Simulation.Vehicles {
		return fmt.Errorf("spawn_attempts (%d) must be at least vehicles (%d)", c.Simulation.SpawnAttempts, c.Simulation.Vehicles)
	}
	if c.Simulation.DropRate < 0 || c.Simulation.DropRate > 1 {
		return fmt.Errorf("drop_rate must be between 0 and 1, got %f", c.Simulation.DropRate)
	}

	if err := c.Sensor.Validate(); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}

	if _, err := time.ParseDuration(c.Collector.Timeout); err != nil {
		return fmt.Errorf("invalid collector timeout '%s': %w", c.Collector.Timeout, err)
	}
	switch c.Collector.PartialPolicy {
	case PartialSkip, PartialFuse:
	default:
		return fmt.Errorf("partial_policy must be %q or %q, got %q", PartialSkip, PartialFuse, c.Collector.PartialPolicy)
	}

	switch c.Dataset.Format {
	case FormatBinary, FormatSQLite:
	default:
		return fmt.Errorf("dataset format must be %q or %q, got %q", FormatBinary, FormatSQLite, c.Dataset.Format)
	}
	if c.Dataset.PointCapacity <= 0 {
		return fmt.Errorf("point_capacity must be positive, got %d", c.Dataset.PointCapacity)
	}
	if c.Dataset.BurnIn < 0 {
		return fmt.Errorf("burn_in must be non-negative, got %d", c.Dataset.BurnIn)
	}
	if c.Dataset.Frames < 0 {
		return fmt.Errorf("frames must be non-negative, got %d", c.Dataset.Frames)
	}

	return nil
}

// GetCollectTimeout parses and returns the collector timeout.
func (c *RunConfig) GetCollectTimeout() time.Duration {
	d, err := time.ParseDuration(c.Collector.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second // default
	}
	return d
}

// GetTickInterval returns the fixed simulation step, 1/fps.
func (c *RunConfig) GetTickInterval() time.Duration {
	if c.Simulation.FPS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.Simulation.FPS)
}
