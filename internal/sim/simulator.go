// Package sim defines the boundary to the external simulator and manages the
// lifecycle of the sensor-bearing agents spawned in it.
package sim

import (
	"context"
	"errors"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/lidarfusion/internal/config"
	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
)

var (
	// ErrAgentSpawnRejected is returned when the simulator refuses a spawn,
	// typically because the spawn point is occupied. Callers retry.
	ErrAgentSpawnRejected = errors.New("agent spawn rejected")
	// ErrSimulatorConnection is returned when the simulator cannot be reached.
	ErrSimulatorConnection = errors.New("simulator connection failed")
	// ErrAgentNotFound is returned for operations on an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")
)

// SpawnRequest asks the simulator for one more sensor-bearing agent.
type SpawnRequest struct {
	// Attempt numbers spawn attempts from zero so the simulator can pick a
	// different spawn point on each retry.
	Attempt   int
	Autopilot bool
	Sensor    config.SensorConfig
}

// AgentInfo describes an agent accepted by the simulator.
type AgentInfo struct {
	ID int
	// Extent holds the vehicle's half extents in metres.
	Extent r3.Vector
	// MountHeight is the sensor height above the vehicle origin.
	MountHeight float64
}

// AgentState is an agent's placement at the current tick.
type AgentState struct {
	ID     int
	Pose   pose.Pose
	Sensor pose.Pose
	Box    bbox.VehicleBoundingBox
}

// Simulator is the stepped world the pipeline drives. Sensor callbacks
// registered with Listen may run on any goroutine.
type Simulator interface {
	// Tick advances the world one fixed step and returns the new tick id.
	Tick(ctx context.Context) (uint64, error)
	// Spawn creates an agent with a sensor attached.
	Spawn(ctx context.Context, req SpawnRequest) (AgentInfo, error)
	// Listen registers fn to receive the agent's sensor measurements.
	Listen(agentID int, fn func(collector.Measurement)) error
	// Roster returns the state of every live agent at the current tick.
	Roster(ctx context.Context) ([]AgentState, error)
	// Destroy removes an agent and its sensor.
	Destroy(ctx context.Context, agentID int) error
	// Close releases the connection.
	Close() error
}
