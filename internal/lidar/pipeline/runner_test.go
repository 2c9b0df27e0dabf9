package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/fsutil"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset"
	"github.com/banshee-data/lidarfusion/internal/lidar/visualiser"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
	"github.com/banshee-data/lidarfusion/internal/sim"
	"github.com/banshee-data/lidarfusion/internal/sim/simtest"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	goleak.VerifyTestMain(m)
}

type harness struct {
	rec    *simtest.Recorder
	frames *visualiser.FrameStore
	store  *dataset.FileStore
	fs     *fsutil.MemoryFileSystem
	cfg    Config
}

func newHarness(t *testing.T, dropRate float64) *harness {
	t.Helper()
	synth := sim.NewSynthetic(sim.SyntheticConfig{Seed: 21, DropRate: dropRate})
	t.Cleanup(func() { synth.Close() })

	sensor := config.DefaultSensorConfig()
	sensor.Channels = 8
	sensor.PointsPerTick = 64

	h := &harness{
		rec:    simtest.NewRecorder(synth),
		frames: visualiser.NewFrameStore(),
		fs:     fsutil.NewMemoryFileSystem(),
	}
	col := collector.New(collector.Config{})
	h.cfg = Config{
		Simulator: h.rec,
		Fleet:     sim.NewFleet(sim.FleetConfig{Simulator: h.rec, Collector: col, Sensor: sensor, Autopilot: true}),
		Collector: col,
		OpenStore: func(hdr dataset.Header) (dataset.Store, error) {
			s, err := dataset.CreateFileStore(h.fs, "run", hdr)
			h.store = s
			return s, err
		},
		Header:         dataset.NewHeader(nil, 128),
		Publisher:      h.frames,
		Vehicles:       3,
		SpawnAttempts:  100,
		CollectTimeout: 2 * time.Second,
	}
	return h
}

func (h *harness) assertTornDownOnce(t *testing.T, agents int) {
	t.Helper()
	destroys := h.rec.Destroys()
	assert.Len(t, destroys, agents)
	for id, n := range destroys {
		assert.Equal(t, 1, n, "agent %d destroyed %d times", id, n)
	}
	assert.Equal(t, 0, h.cfg.Fleet.Registry().Count())
}

func TestRun_TickPacing(t *testing.T) {
	h := newHarness(t, 0)
	h.cfg.Frames = 3
	h.cfg.TickInterval = 30 * time.Millisecond

	start := time.Now()
	require.NoError(t, NewRunner(h.cfg).Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 3*h.cfg.TickInterval)
	assert.Equal(t, []uint64{1, 2, 3}, h.store.Ticks())
	h.assertTornDownOnce(t, 3)
}

func TestRun_BurnInAndFrames(t *testing.T) {
	h := newHarness(t, 0)
	h.cfg.BurnIn = 2
	h.cfg.Frames = 4

	r := NewRunner(h.cfg)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []uint64{3, 4, 5, 6}, h.store.Ticks())
	s := r.Stats().Snapshot(true)
	assert.Equal(t, uint64(6), s.Ticks)
	assert.Equal(t, uint64(2), s.BurnIn)
	assert.Equal(t, uint64(4), s.Persisted)
	assert.Equal(t, uint64(0), s.Partial)
	assert.Len(t, s.History, 6)
	assert.Greater(t, s.FusedPoints, uint64(0))

	assert.Equal(t, uint64(6), h.frames.Version())
	latest := h.frames.Latest()
	require.NotNil(t, latest)
	assert.True(t, latest.Persisted)
	assert.Len(t, latest.Boxes, 3)
	assert.Len(t, latest.Frame.Sources, 3)

	rec, err := h.store.ReadRecord(6)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, rec.Present)
	assert.Equal(t, latest.Frame.Len(), rec.TotalPoints())

	h.assertTornDownOnce(t, 3)
}

func TestRun_CancelTearsDownOnce(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.rec.OnTick = func(tick uint64) {
		if tick == 3 {
			cancel()
		}
	}

	r := NewRunner(h.cfg)
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []uint64{1, 2}, h.store.Ticks())
	h.assertTornDownOnce(t, 3)
}

func TestRun_SimulatorFailureTearsDownOnce(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.TickErr = sim.ErrSimulatorConnection
	h.rec.TickErrFrom = 3

	err := NewRunner(h.cfg).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrSimulatorConnection))
	assert.Equal(t, []uint64{1, 2}, h.store.Ticks())
	h.assertTornDownOnce(t, 3)
}

func TestRun_PanicTearsDownOnce(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.TickPanic = true
	h.rec.TickPanicFrom = 2

	assert.Panics(t, func() { _ = NewRunner(h.cfg).Run(context.Background()) })
	h.assertTornDownOnce(t, 3)
}

func TestRun_SpawnFailureTearsDownSpawned(t *testing.T) {
	h := newHarness(t, 0)
	h.rec.SpawnErrs = []error{nil, sim.ErrSimulatorConnection}

	err := NewRunner(h.cfg).Run(context.Background())
	assert.True(t, errors.Is(err, sim.ErrSimulatorConnection))
	assert.Nil(t, h.store)
	h.assertTornDownOnce(t, 1)
}

func TestRun_PartialSkipPublishesButDoesNotPersist(t *testing.T) {
	h := newHarness(t, 1)
	h.cfg.CollectTimeout = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.rec.OnTick = func(tick uint64) {
		if tick == 4 {
			cancel()
		}
	}

	r := NewRunner(h.cfg)
	require.NoError(t, r.Run(ctx))

	assert.Empty(t, h.store.Ticks())
	s := r.Stats().Snapshot(false)
	assert.Equal(t, uint64(3), s.Skipped)
	assert.Equal(t, uint64(3), s.Partial)
	assert.Equal(t, uint64(9), s.MissingMeasurement)

	latest := h.frames.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Missing)
	assert.False(t, latest.Persisted)
	assert.Equal(t, 0, latest.Frame.Len())
	h.assertTornDownOnce(t, 3)
}

func TestRun_PartialFusePersistsZeroFilled(t *testing.T) {
	h := newHarness(t, 1)
	h.cfg.CollectTimeout = 20 * time.Millisecond
	h.cfg.PartialPolicy = config.PartialFuse
	h.cfg.Frames = 2

	r := NewRunner(h.cfg)
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, []uint64{1, 2}, h.store.Ticks())
	rec, err := h.store.ReadPadded(2)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, rec.Present)
	assert.Equal(t, []int{0, 0, 0}, rec.Counts)
	assert.Len(t, rec.Clouds[0], 128)
	h.assertTornDownOnce(t, 3)
}

func TestRun_MalformedCloudLeavesOtherAgentsPersisted(t *testing.T) {
	h := newHarness(t, 0)
	h.cfg.Frames = 2
	h.rec.Mutate = func(m collector.Measurement) collector.Measurement {
		if m.AgentID == 100 && m.Points != nil {
			n, _ := m.Points.Dims()
			m.Points = mat.DenseCopyOf(m.Points.Slice(0, n, 0, 3))
		}
		return m
	}

	r := NewRunner(h.cfg)
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, []uint64{1, 2}, h.store.Ticks())
	slot, err := h.store.Header().Slot(100)
	require.NoError(t, err)
	rec, err := h.store.ReadRecord(2)
	require.NoError(t, err)
	assert.False(t, rec.Present[slot])
	assert.Equal(t, 0, rec.Counts[slot])
	assert.Equal(t, 2, rec.PresentCount())
	assert.Greater(t, rec.TotalPoints(), 0)

	s := r.Stats().Snapshot(false)
	assert.Equal(t, uint64(2), s.FuseErrors)
	assert.Equal(t, uint64(2), s.PersistErrors)
	assert.Equal(t, uint64(2), s.Persisted)
	h.assertTornDownOnce(t, 3)
}

func TestMissingSensorDataError(t *testing.T) {
	err := error(&MissingSensorDataError{TickID: 4, Expected: 3, Missing: []int{101, 102}})
	assert.True(t, errors.Is(err, ErrMissingSensorData))
	assert.Contains(t, err.Error(), "tick 4")

	b := collector.Batch{Measurements: []collector.Measurement{{AgentID: 100}}}
	assert.Equal(t, []int{101, 102}, missingAgents([]int{102, 100, 101}, b))
}

func TestStats_HistoryRing(t *testing.T) {
	s := NewStats(3)
	for i := 1; i <= 5; i++ {
		s.Record(TickSample{TickID: uint64(i)})
	}
	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, uint64(3), h[0].TickID)
	assert.Equal(t, uint64(5), h[2].TickID)
}
