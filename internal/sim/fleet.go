package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

var logf = monitoring.Tagged("Fleet")

// FleetConfig contains configuration for a Fleet.
type FleetConfig struct {
	Simulator Simulator
	// Collector receives every measurement from every spawned agent.
	Collector *collector.Collector
	Sensor    config.SensorConfig
	Autopilot bool
}

// Fleet spawns agents, wires their sensors to the collector and destroys
// them again. Every spawned agent is destroyed at most once.
type Fleet struct {
	sim       Simulator
	collector *collector.Collector
	sensor    config.SensorConfig
	autopilot bool
	registry  *Registry

	mu        sync.Mutex
	teardowns map[int]*sync.Once
	rejected  int
}

// NewFleet creates a Fleet with an empty registry.
func NewFleet(cfg FleetConfig) *Fleet {
	return &Fleet{
		sim:       cfg.Simulator,
		collector: cfg.Collector,
		sensor:    cfg.Sensor,
		autopilot: cfg.Autopilot,
		registry:  NewRegistry(),
		teardowns: make(map[int]*sync.Once),
	}
}

// Registry returns the fleet's agent registry.
func (f *Fleet) Registry() *Registry { return f.registry }

// Rejected returns the number of spawn attempts the simulator refused.
func (f *Fleet) Rejected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejected
}

// SpawnUntil spawns agents until n are active or maxAttempts spawn attempts
// have been made. Rejected spawns are counted and retried; any other spawn
// error stops the loop. Agents spawned before an error stay registered so a
// later TeardownAll destroys them.
func (f *Fleet) SpawnUntil(ctx context.Context, n, maxAttempts int) error {
	for attempt := 0; f.registry.Count() < n; attempt++ {
		if attempt >= maxAttempts {
			return fmt.Errorf("spawned %d of %d agents after %d attempts: %w", f.registry.Count(), n, attempt, ErrAgentSpawnRejected)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := f.sim.Spawn(ctx, SpawnRequest{Attempt: attempt, Autopilot: f.autopilot, Sensor: f.sensor})
		if errors.Is(err, ErrAgentSpawnRejected) {
			f.mu.Lock()
			f.rejected++
			f.mu.Unlock()
			continue
		}
		if err != nil {
			return fmt.Errorf("spawn agent: %w", err)
		}

		if _, err := f.registry.Add(info); err != nil {
			return multierr.Append(err, f.sim.Destroy(ctx, info.ID))
		}
		f.mu.Lock()
		f.teardowns[info.ID] = new(sync.Once)
		f.mu.Unlock()

		if err := f.sim.Listen(info.ID, f.collector.Submit); err != nil {
			return fmt.Errorf("listen agent %d: %w", info.ID, err)
		}
		logf("spawned agent %d (%d/%d) mount=%.2fm", info.ID, f.registry.Count(), n, info.MountHeight)
	}
	return nil
}

// TeardownAll destroys every registered agent. Each agent is destroyed at
// most once across all calls; failures are aggregated and do not stop the
// remaining teardowns.
func (f *Fleet) TeardownAll(ctx context.Context) error {
	var errs error
	for _, h := range f.registry.Active() {
		f.mu.Lock()
		once := f.teardowns[h.ID]
		f.mu.Unlock()
		if once == nil {
			continue
		}

		once.Do(func() {
			if err := f.sim.Destroy(ctx, h.ID); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("destroy agent %d: %w", h.ID, err))
			}
			if err := f.registry.Remove(h); err != nil {
				errs = multierr.Append(errs, err)
			}
		})
	}

	if errs != nil {
		logf("teardown finished with errors: %v", errs)
	} else {
		logf("teardown complete")
	}
	return errs
}
