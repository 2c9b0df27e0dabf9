package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultRunConfigIsValid(t *testing.T) {
	cfg := DefaultRunConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.GetCollectTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetTickInterval())
	assert.Equal(t, PartialSkip, cfg.Collector.PartialPolicy)
}

func TestLoadRunConfig_PartialOverride(t *testing.T) {
	path := writeConfig(t, `{
  "simulation": {"fps": 5, "vehicles": 3},
  "collector": {"timeout": "250ms", "partial_policy": "fuse"},
  "dataset": {"format": "sqlite", "point_capacity": 1024}
}`)

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Simulation.FPS)
	assert.Equal(t, 3, cfg.Simulation.Vehicles)
	assert.Equal(t, 250*time.Millisecond, cfg.GetCollectTimeout())
	assert.Equal(t, PartialFuse, cfg.Collector.PartialPolicy)
	assert.Equal(t, FormatSQLite, cfg.Dataset.Format)
	assert.Equal(t, 1024, cfg.Dataset.PointCapacity)

	// Fields omitted from the file keep their defaults.
	assert.Equal(t, "Town03", cfg.Simulation.Map)
	assert.Equal(t, 64, cfg.Sensor.Channels)
	assert.Equal(t, 30, cfg.Dataset.BurnIn)
}

func TestLoadRunConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"simulation": {"vehicles": 2}}`)

	t.Setenv("LIDARFUSION_VEHICLES", "7")
	t.Setenv("LIDARFUSION_COLLECT_TIMEOUT", "2s")
	t.Setenv("LIDARFUSION_SENSOR_CHANNELS", "32")

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Simulation.Vehicles)
	assert.Equal(t, 2*time.Second, cfg.GetCollectTimeout())
	assert.Equal(t, 32, cfg.Sensor.Channels)
}

func TestLoadRunConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{name: "wrong extension", file: "run.yaml", body: `{}`, wantErr: ".json extension"},
		{name: "bad json", file: "run.json", body: `{`, wantErr: "failed to parse config JSON"},
		{name: "bad timeout", file: "run.json", body: `{"collector": {"timeout": "soon"}}`, wantErr: "invalid collector timeout"},
		{name: "bad policy", file: "run.json", body: `{"collector": {"partial_policy": "maybe"}}`, wantErr: "partial_policy"},
		{name: "bad format", file: "run.json", body: `{"dataset": {"format": "hdf5"}}`, wantErr: "dataset format"},
		{name: "zero capacity", file: "run.json", body: `{"dataset": {"point_capacity": 0}}`, wantErr: "point_capacity"},
		{name: "bad channels", file: "run.json", body: `{"sensor": {"channels": 0}}`, wantErr: "channels"},
		{name: "positive lower fov", file: "run.json", body: `{"sensor": {"lower_fov": 5}}`, wantErr: "lower_fov"},
		{name: "drop rate", file: "run.json", body: `{"simulation": {"drop_rate": 2}}`, wantErr: "drop_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0644))

			_, err := LoadRunConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRunConfig_TooLarge(t *testing.T) {
	path := writeConfig(t, `{"simulation": {"map": "`+strings.Repeat("x", 1<<20)+`"}}`)
	_, err := LoadRunConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestSensorConfig_Derived(t *testing.T) {
	s := DefaultSensorConfig()

	assert.Equal(t, 10.0, s.RotationHz(10))
	s.RotationFrequency = 20
	assert.Equal(t, 20.0, s.RotationHz(10))

	assert.Equal(t, 250000, s.PointsPerSecond(5))

	// 2*halfZ plus max(halfX, halfY) * tan(25deg)
	h := s.MountHeight(2.0, 1.0, 0.75)
	assert.InDelta(t, 1.5+2.0*math.Tan(25*math.Pi/180), h, 1e-12)
}

func TestDefaultConfigFileMatchesDefaults(t *testing.T) {
	cfg, err := LoadRunConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, DefaultRunConfig(), cfg)
}
