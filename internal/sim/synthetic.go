package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
	"github.com/banshee-data/lidarfusion/internal/timeutil"
)

// SyntheticConfig contains configuration for a Synthetic simulator.
type SyntheticConfig struct {
	Seed        int64
	FPS         float64
	SpawnRadius float64
	// DropRate is the probability that an agent's measurement for a tick is
	// withheld.
	DropRate float64
	Clock    timeutil.Clock
}

// blueprints are vehicle half extents (x, y, z) in metres.
var blueprints = []r3.Vector{
	{X: 2.25, Y: 0.95, Z: 0.75},
	{X: 2.4, Y: 1.05, Z: 0.8},
	{X: 1.85, Y: 0.85, Z: 0.7},
	{X: 2.6, Y: 1.1, Z: 1.0},
}

type synthAgent struct {
	info   AgentInfo
	sensor config.SensorConfig
	// Circular path around centre with signed angular speed in rad/s.
	centre r3.Vector
	radius float64
	theta  float64
	omega  float64
	moving bool
}

func (a *synthAgent) state() AgentState {
	x := a.centre.X + a.radius*math.Cos(a.theta)
	y := a.centre.Y + a.radius*math.Sin(a.theta)
	heading := a.theta + math.Copysign(math.Pi/2, a.omega)
	yaw := math.Mod(heading*180/math.Pi, 360)

	p := pose.Pose{X: x, Y: y, Yaw: yaw}
	s := p
	s.Z = a.info.MountHeight
	return AgentState{
		ID:     a.info.ID,
		Pose:   p,
		Sensor: s,
		Box: bbox.VehicleBoundingBox{
			X: x, Y: y, Yaw: yaw,
			Width:  2 * a.info.Extent.X,
			Length: 2 * a.info.Extent.Y,
			Height: 2 * a.info.Extent.Z,
		},
	}
}

// Synthetic is an in-process Simulator with deterministic agents driving in
// circles over a flat ground plane. Each tick every listened agent emits one
// measurement from its own goroutine.
type Synthetic struct {
	cfg   SyntheticConfig
	clock timeutil.Clock

	mu        sync.Mutex
	rng       *rand.Rand
	tick      uint64
	nextID    int
	agents    map[int]*synthAgent
	listeners map[int]func(collector.Measurement)
	closed    bool

	emits sync.WaitGroup
}

var _ Simulator = (*Synthetic)(nil)

// NewSynthetic creates a Synthetic simulator.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.SpawnRadius <= 0 {
		cfg.SpawnRadius = 50
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Synthetic{
		cfg:       cfg,
		clock:     clock,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		nextID:    100,
		agents:    make(map[int]*synthAgent),
		listeners: make(map[int]func(collector.Measurement)),
	}
}

// Spawn places a new agent at a seeded random point. The spawn is rejected
// when the point overlaps a live agent.
func (s *Synthetic) Spawn(ctx context.Context, req SpawnRequest) (AgentInfo, error) {
	if err := ctx.Err(); err != nil {
		return AgentInfo{}, err
	}
	if err := req.Sensor.Validate(); err != nil {
		return AgentInfo{}, fmt.Errorf("sensor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AgentInfo{}, ErrSimulatorConnection
	}

	ext := blueprints[s.rng.Intn(len(blueprints))]
	a := &synthAgent{
		info: AgentInfo{
			Extent:      ext,
			MountHeight: req.Sensor.MountHeight(ext.X, ext.Y, ext.Z),
		},
		sensor: req.Sensor,
		radius: s.cfg.SpawnRadius * (0.2 + 0.8*s.rng.Float64()),
		theta:  2 * math.Pi * s.rng.Float64(),
		moving: req.Autopilot,
	}
	speed := 5 + 10*s.rng.Float64() // m/s
	a.omega = speed / a.radius
	if s.rng.Intn(2) == 0 {
		a.omega = -a.omega
	}

	st := a.state()
	for _, other := range s.agents {
		o := other.state()
		gap := math.Hypot(o.Pose.X-st.Pose.X, o.Pose.Y-st.Pose.Y)
		if gap < 2*(math.Max(ext.X, ext.Y)+math.Max(other.info.Extent.X, other.info.Extent.Y)) {
			return AgentInfo{}, fmt.Errorf("attempt %d: spawn point occupied by agent %d: %w", req.Attempt, other.info.ID, ErrAgentSpawnRejected)
		}
	}

	a.info.ID = s.nextID
	s.nextID++
	s.agents[a.info.ID] = a
	return a.info, nil
}

// Listen registers fn as the sensor callback of agentID.
func (s *Synthetic) Listen(agentID int, fn func(collector.Measurement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSimulatorConnection
	}
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("agent %d: %w", agentID, ErrAgentNotFound)
	}
	s.listeners[agentID] = fn
	return nil
}

// Tick advances every agent one step and emits their measurements.
func (s *Synthetic) Tick(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSimulatorConnection
	}
	s.tick++
	tick := s.tick
	dt := 1 / s.cfg.FPS
	now := s.clock.Now()

	type emit struct {
		fn func(collector.Measurement)
		m  collector.Measurement
	}
	var emits []emit
	for _, id := range s.sortedIDs() {
		a := s.agents[id]
		if a.moving {
			a.theta += a.omega * dt
		}
		fn, ok := s.listeners[id]
		if !ok {
			continue
		}
		if s.cfg.DropRate > 0 && s.rng.Float64() < s.cfg.DropRate {
			continue
		}
		st := a.state()
		emits = append(emits, emit{fn: fn, m: collector.Measurement{
			TickID:     tick,
			AgentID:    id,
			Points:     scan(a.sensor, a.info.MountHeight, s.cfg.Seed, tick, id),
			Pose:       st.Sensor,
			CapturedAt: now,
		}})
	}
	s.emits.Add(len(emits))
	s.mu.Unlock()

	for _, e := range emits {
		go func(e emit) {
			defer s.emits.Done()
			e.fn(e.m)
		}(e)
	}
	return tick, nil
}

func (s *Synthetic) sortedIDs() []int {
	ids := make([]int, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Roster returns every live agent's state ordered by id.
func (s *Synthetic) Roster(ctx context.Context) ([]AgentState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSimulatorConnection
	}
	out := make([]AgentState, 0, len(s.agents))
	for _, id := range s.sortedIDs() {
		out = append(out, s.agents[id].state())
	}
	return out, nil
}

// Destroy removes an agent and its sensor callback.
func (s *Synthetic) Destroy(ctx context.Context, agentID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSimulatorConnection
	}
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("agent %d: %w", agentID, ErrAgentNotFound)
	}
	delete(s.agents, agentID)
	delete(s.listeners, agentID)
	return nil
}

// Disconnect simulates losing the connection: later calls fail with
// ErrSimulatorConnection.
func (s *Synthetic) Disconnect() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Close disconnects and waits for in-flight sensor callbacks to return.
func (s *Synthetic) Close() error {
	s.Disconnect()
	s.emits.Wait()
	return nil
}

// Wait blocks until every sensor callback started so far has returned.
func (s *Synthetic) Wait() {
	s.emits.Wait()
}

// scan produces one sweep of ground returns around a sensor mounted
// mountHeight above a flat ground plane. Beams are spread evenly over the
// channels between the lower and upper field of view; beams that would not
// hit the ground within range return nothing. The result depends only on its
// arguments.
func scan(sc config.SensorConfig, mountHeight float64, seed int64, tick uint64, agentID int) *mat.Dense {
	rng := rand.New(rand.NewSource(seed ^ int64(tick)<<20 ^ int64(agentID)))

	channels := sc.Channels
	perChannel := sc.PointsPerTick / channels
	if perChannel == 0 {
		perChannel = 1
	}

	data := make([]float64, 0, sc.PointsPerTick*4)
	rows := 0
	for c := 0; c < channels && rows < sc.PointsPerTick; c++ {
		elev := sc.LowerFOV
		if channels > 1 {
			elev += (sc.UpperFOV - sc.LowerFOV) * float64(c) / float64(channels-1)
		}
		if elev >= 0 {
			continue
		}
		ground := mountHeight / math.Tan(-elev*math.Pi/180)
		if ground > sc.RangeMeters {
			continue
		}
		for i := 0; i < perChannel && rows < sc.PointsPerTick; i++ {
			az := 2*math.Pi*float64(i)/float64(perChannel) + rng.Float64()*1e-3
			r := ground * (1 + 0.01*rng.NormFloat64())
			data = append(data,
				r*math.Cos(az),
				r*math.Sin(az),
				-mountHeight,
				1-math.Min(r/sc.RangeMeters, 1),
			)
			rows++
		}
	}
	if rows == 0 {
		return nil
	}
	return mat.NewDense(rows, 4, data)
}
