package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/dataset"
	"github.com/banshee-data/lidarfusion/internal/lidar/fusion"
	"github.com/banshee-data/lidarfusion/internal/lidar/visualiser"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
	"github.com/banshee-data/lidarfusion/internal/sim"
	"github.com/banshee-data/lidarfusion/internal/timeutil"
)

var logf = monitoring.Tagged("Pipeline")

// Publisher receives every fused frame, persisted or not.
type Publisher interface {
	Publish(visualiser.Snapshot) uint64
}

// OpenStoreFunc creates the dataset once the fleet is spawned and the agent
// slots are known.
type OpenStoreFunc func(h dataset.Header) (dataset.Store, error)

// Config contains configuration for a Runner.
type Config struct {
	Simulator sim.Simulator
	Fleet     *sim.Fleet
	Collector *collector.Collector
	// OpenStore is optional; without it no tick is persisted.
	OpenStore OpenStoreFunc
	// Header is the dataset header template. AgentIDs are filled in after
	// spawning.
	Header dataset.Header
	// Publisher is optional.
	Publisher Publisher
	// Stats is optional; a fresh Stats is used when nil.
	Stats *Stats

	Vehicles       int
	SpawnAttempts  int
	CollectTimeout time.Duration
	// PartialPolicy is config.PartialSkip or config.PartialFuse.
	PartialPolicy string
	// BurnIn ticks run before any tick is persisted.
	BurnIn int
	// Frames stops the run after this many persisted ticks. Zero runs until
	// the context is cancelled.
	Frames int
	// TeardownTimeout bounds agent teardown on exit. Defaults to 10s.
	TeardownTimeout time.Duration
	// TickInterval paces ticks to wall-clock time. Zero runs as fast as
	// the simulator and collector allow.
	TickInterval time.Duration
	// Clock drives tick pacing. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// Runner runs one dataset-generation session.
type Runner struct {
	cfg   Config
	stats *Stats
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Stats == nil {
		cfg.Stats = NewStats(DefaultHistorySize)
	}
	if cfg.PartialPolicy == "" {
		cfg.PartialPolicy = config.PartialSkip
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 5 * time.Second
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SpawnAttempts < cfg.Vehicles {
		cfg.SpawnAttempts = cfg.Vehicles
	}
	return &Runner{cfg: cfg, stats: cfg.Stats}
}

// Stats returns the runner's counters.
func (r *Runner) Stats() *Stats { return r.stats }

// Run spawns the fleet and processes ticks until Frames ticks are persisted,
// ctx is cancelled, or a fatal error occurs. Cancellation is a clean stop and
// returns nil. Every spawned agent is torn down exactly once before Run
// returns, including when it panics.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TeardownTimeout)
		defer cancel()
		if terr := r.cfg.Fleet.TeardownAll(tdCtx); terr != nil {
			err = multierr.Append(err, fmt.Errorf("teardown: %w", terr))
		}
	}()

	spawnErr := r.cfg.Fleet.SpawnUntil(ctx, r.cfg.Vehicles, r.cfg.SpawnAttempts)
	r.stats.spawnRejected.Store(uint64(r.cfg.Fleet.Rejected()))
	if spawnErr != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("spawn fleet: %w", spawnErr)
	}
	logf("fleet ready: %d agents (%d spawns rejected)", r.cfg.Fleet.Registry().Count(), r.cfg.Fleet.Rejected())

	header := r.cfg.Header
	header.AgentIDs = r.cfg.Fleet.Registry().IDs()
	var store dataset.Store
	if r.cfg.OpenStore != nil {
		s, err := r.cfg.OpenStore(header)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		store = s
		header = s.Header()
		defer func() {
			if cerr := store.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close dataset: %w", cerr))
			}
		}()
	}

	ticks := 0
	persisted := 0
	for r.cfg.Frames == 0 || persisted < r.cfg.Frames {
		if ctx.Err() != nil {
			break
		}
		ticks++
		tickStart := r.cfg.Clock.Now()
		stored, err := r.step(ctx, header, store, ticks <= r.cfg.BurnIn)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if stored {
			persisted++
		}
		r.pace(ctx, tickStart)
	}

	s := r.stats.Snapshot(false)
	logf("run finished: ticks=%d persisted=%d skipped=%d partial=%d missing=%d",
		s.Ticks, s.Persisted, s.Skipped, s.Partial, s.MissingMeasurement)
	return nil
}

// pace waits out the rest of TickInterval after a tick that began at start.
func (r *Runner) pace(ctx context.Context, start time.Time) {
	if r.cfg.TickInterval <= 0 {
		return
	}
	wait := r.cfg.TickInterval - r.cfg.Clock.Since(start)
	if wait <= 0 {
		return
	}
	select {
	case <-r.cfg.Clock.After(wait):
	case <-ctx.Done():
	}
}

// step processes one tick and reports whether it was persisted.
func (r *Runner) step(ctx context.Context, header dataset.Header, store dataset.Store, burnIn bool) (bool, error) {
	start := time.Now()

	tick, err := r.cfg.Simulator.Tick(ctx)
	if err != nil {
		return false, fmt.Errorf("advance tick: %w", err)
	}
	roster, err := r.cfg.Simulator.Roster(ctx)
	if err != nil {
		return false, fmt.Errorf("roster at tick %d: %w", tick, err)
	}

	registry := r.cfg.Fleet.Registry()
	boxes := make(map[int]bbox.VehicleBoundingBox, len(roster))
	var live []int
	for _, a := range roster {
		if _, _, ok := registry.Get(a.ID); !ok {
			continue
		}
		boxes[a.ID] = a.Box
		live = append(live, a.ID)
	}

	batch := r.cfg.Collector.CollectFor(ctx, tick, len(live), r.cfg.CollectTimeout)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	r.stats.ticks.Add(1)
	r.stats.mismatched.Add(uint64(len(batch.Mismatched)))
	r.stats.duplicates.Add(uint64(len(batch.Duplicates)))

	if batch.Missing > 0 {
		merr := &MissingSensorDataError{TickID: tick, Expected: len(live), Missing: missingAgents(live, batch)}
		logf("%v", merr)
		r.stats.partial.Add(1)
		r.stats.missing.Add(uint64(batch.Missing))
	}

	frame, ferr := fusion.Fuse(batch)
	if ferr != nil {
		n := countMeasurementErrors(ferr)
		r.stats.fuseErrors.Add(uint64(n))
		logf("tick %d: %d measurements not fused: %v", tick, n, ferr)
	}
	r.stats.fusedPoints.Add(uint64(frame.Len()))

	persist := store != nil && !burnIn && (batch.Complete() || r.cfg.PartialPolicy == config.PartialFuse)
	if persist {
		rec, rerr := dataset.BuildRecord(header, batch, boxes)
		if rerr != nil {
			r.stats.persistErrors.Add(1)
			logf("tick %d: %v", tick, rerr)
		}
		if err := store.AppendRecord(rec); err != nil {
			r.stats.persistErrors.Add(1)
			return false, fmt.Errorf("persist tick %d: %w", tick, err)
		}
		r.stats.persisted.Add(1)
	} else if burnIn {
		r.stats.burnIn.Add(1)
	} else {
		r.stats.skipped.Add(1)
	}

	if r.cfg.Publisher != nil {
		snap := visualiser.NewSnapshot(frame, boxes, batch.Missing)
		snap.Persisted = persist
		r.cfg.Publisher.Publish(snap)
	}

	r.stats.Record(TickSample{
		TickID:    tick,
		Points:    frame.Len(),
		Agents:    len(batch.Measurements),
		Missing:   batch.Missing,
		Persisted: persist,
		Duration:  float64(time.Since(start).Microseconds()) / 1000,
		At:        start,
	})
	return persist, nil
}

func missingAgents(live []int, b collector.Batch) []int {
	got := make(map[int]bool, len(b.Measurements))
	for _, m := range b.Measurements {
		got[m.AgentID] = true
	}
	var out []int
	for _, id := range live {
		if !got[id] {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func countMeasurementErrors(err error) int {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return len(j.Unwrap())
	}
	return 1
}
