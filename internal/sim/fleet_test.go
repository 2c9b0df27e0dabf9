package sim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
	"github.com/banshee-data/lidarfusion/internal/sim"
	"github.com/banshee-data/lidarfusion/internal/sim/simtest"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	goleak.VerifyTestMain(m)
}

const defaultWait = 5 * time.Second

func newFleet(t *testing.T, seed int64) (*sim.Fleet, *simtest.Recorder, *collector.Collector) {
	t.Helper()
	synth := sim.NewSynthetic(sim.SyntheticConfig{Seed: seed})
	t.Cleanup(func() { synth.Close() })
	rec := simtest.NewRecorder(synth)
	col := collector.New(collector.Config{})

	sc := config.DefaultSensorConfig()
	sc.Channels = 8
	sc.PointsPerTick = 64
	return sim.NewFleet(sim.FleetConfig{Simulator: rec, Collector: col, Sensor: sc, Autopilot: true}), rec, col
}

func TestFleet_SpawnUntilRetriesRejections(t *testing.T) {
	f, rec, col := newFleet(t, 11)
	rec.SpawnErrs = []error{sim.ErrAgentSpawnRejected, sim.ErrAgentSpawnRejected}

	require.NoError(t, f.SpawnUntil(context.Background(), 3, 50))
	assert.Equal(t, 3, f.Registry().Count())
	assert.GreaterOrEqual(t, f.Rejected(), 2)

	tick, err := rec.Tick(context.Background())
	require.NoError(t, err)
	b := col.CollectFor(context.Background(), tick, 3, defaultWait)
	assert.True(t, b.Complete())

	require.NoError(t, f.TeardownAll(context.Background()))
}

func TestFleet_SpawnUntilGivesUp(t *testing.T) {
	f, rec, _ := newFleet(t, 11)
	rec.SpawnErrs = []error{sim.ErrAgentSpawnRejected, sim.ErrAgentSpawnRejected, sim.ErrAgentSpawnRejected}

	err := f.SpawnUntil(context.Background(), 1, 3)
	assert.True(t, errors.Is(err, sim.ErrAgentSpawnRejected))
	assert.Equal(t, 0, f.Registry().Count())
	assert.Equal(t, 3, f.Rejected())
}

func TestFleet_SpawnUntilFatalError(t *testing.T) {
	f, rec, _ := newFleet(t, 11)
	rec.SpawnErrs = []error{nil, sim.ErrSimulatorConnection}

	err := f.SpawnUntil(context.Background(), 3, 50)
	assert.True(t, errors.Is(err, sim.ErrSimulatorConnection))
	assert.Equal(t, 1, f.Registry().Count())

	require.NoError(t, f.TeardownAll(context.Background()))
	for id, n := range rec.Destroys() {
		assert.Equal(t, 1, n, "agent %d", id)
	}
}

func TestFleet_TeardownExactlyOnce(t *testing.T) {
	f, rec, _ := newFleet(t, 13)
	require.NoError(t, f.SpawnUntil(context.Background(), 4, 100))
	ids := f.Registry().IDs()

	require.NoError(t, f.TeardownAll(context.Background()))
	require.NoError(t, f.TeardownAll(context.Background()))

	destroys := rec.Destroys()
	require.Len(t, destroys, 4)
	for _, id := range ids {
		assert.Equal(t, 1, destroys[id], "agent %d", id)
	}
	assert.Equal(t, 0, f.Registry().Count())
}

func TestFleet_TeardownAggregatesFailures(t *testing.T) {
	f, rec, _ := newFleet(t, 17)
	require.NoError(t, f.SpawnUntil(context.Background(), 2, 100))
	rec.DestroyErr = errors.New("actor already gone")

	err := f.TeardownAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actor already gone")
	assert.Len(t, rec.Destroys(), 2)

	// Failed teardowns are not retried.
	rec.DestroyErr = nil
	require.NoError(t, f.TeardownAll(context.Background()))
	for _, n := range rec.Destroys() {
		assert.Equal(t, 1, n)
	}
}
