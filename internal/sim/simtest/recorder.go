// Package simtest provides a Simulator wrapper that counts calls and injects
// failures.
package simtest

import (
	"context"
	"sync"

	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/sim"
)

// Recorder wraps a Simulator, counting calls and returning configured errors.
type Recorder struct {
	sim.Simulator

	mu       sync.Mutex
	destroys map[int]int
	ticks    int

	// TickErr, when set, is returned by Tick once the given tick count is reached.
	TickErr     error
	TickErrFrom int
	// TickPanic, when set, makes Tick panic at the given tick count.
	TickPanic     bool
	TickPanicFrom int
	// DestroyErr is returned by Destroy after the wrapped simulator ran.
	DestroyErr error
	// SpawnErrs are returned by successive Spawn calls before delegating.
	SpawnErrs []error
	// OnTick runs after every successful tick.
	OnTick func(tick uint64)
	// Mutate, when set before agents start listening, rewrites every
	// measurement before it reaches the listener.
	Mutate func(collector.Measurement) collector.Measurement
}

// NewRecorder wraps s.
func NewRecorder(s sim.Simulator) *Recorder {
	return &Recorder{Simulator: s, destroys: make(map[int]int)}
}

func (r *Recorder) Tick(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	r.ticks++
	n := r.ticks
	r.mu.Unlock()

	if r.TickPanic && n >= r.TickPanicFrom {
		panic("simulated tick panic")
	}
	if r.TickErr != nil && n >= r.TickErrFrom {
		return 0, r.TickErr
	}
	tick, err := r.Simulator.Tick(ctx)
	if err == nil && r.OnTick != nil {
		r.OnTick(tick)
	}
	return tick, err
}

func (r *Recorder) Spawn(ctx context.Context, req sim.SpawnRequest) (sim.AgentInfo, error) {
	r.mu.Lock()
	if len(r.SpawnErrs) > 0 {
		err := r.SpawnErrs[0]
		r.SpawnErrs = r.SpawnErrs[1:]
		r.mu.Unlock()
		if err != nil {
			return sim.AgentInfo{}, err
		}
	} else {
		r.mu.Unlock()
	}
	return r.Simulator.Spawn(ctx, req)
}

func (r *Recorder) Listen(agentID int, fn func(collector.Measurement)) error {
	if mutate := r.Mutate; mutate != nil {
		return r.Simulator.Listen(agentID, func(m collector.Measurement) { fn(mutate(m)) })
	}
	return r.Simulator.Listen(agentID, fn)
}

func (r *Recorder) Destroy(ctx context.Context, agentID int) error {
	r.mu.Lock()
	r.destroys[agentID]++
	r.mu.Unlock()
	if err := r.Simulator.Destroy(ctx, agentID); err != nil {
		return err
	}
	return r.DestroyErr
}

// Destroys returns the number of Destroy calls per agent id.
func (r *Recorder) Destroys() map[int]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]int, len(r.destroys))
	for k, v := range r.destroys {
		out[k] = v
	}
	return out
}

// Ticks returns the number of Tick calls.
func (r *Recorder) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}
