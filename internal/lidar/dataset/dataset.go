// Package dataset persists fused ticks as frame-indexed records with a fixed
// number of agent slots and a fixed per-slot point capacity.
//
// Each record keeps every agent's cloud in its own sensor frame together with
// the sensor pose and vehicle box captured at that tick, so playback can
// rebuild the fused frame with the transform engine.
package dataset

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarfusion/internal/config"
)

// FormatVersion is the on-disk layout version written to every header.
const FormatVersion = 1

var (
	// ErrNonMonotonicTick is returned when a record's tick id is not greater
	// than the last appended tick id.
	ErrNonMonotonicTick = errors.New("tick id not greater than last appended tick")
	// ErrTickNotFound is returned when reading a tick the dataset does not hold.
	ErrTickNotFound = errors.New("tick not found")
	// ErrRecordShape is returned when a record's slot arrays do not match the header.
	ErrRecordShape = errors.New("record shape does not match dataset header")
	// ErrUnknownAgent is returned when an agent id has no slot in the header.
	ErrUnknownAgent = errors.New("agent has no slot in dataset")
	// ErrDatasetExists is returned when creating a dataset over an existing one.
	ErrDatasetExists = errors.New("dataset already exists")
	// ErrTruncatedDataset is returned when a data file is shorter than its
	// committed tick ids require.
	ErrTruncatedDataset = errors.New("dataset file shorter than committed ticks")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("dataset store closed")
)

// Header describes a dataset. Agent slots and point capacity are fixed when
// the dataset is created.
type Header struct {
	FormatVersion int                  `json:"format_version"`
	RunID         string               `json:"run_id"`
	CreatedAt     time.Time            `json:"created_at"`
	Map           string               `json:"map,omitempty"`
	FPS           int                  `json:"fps,omitempty"`
	AgentIDs      []int                `json:"agent_ids"`
	PointCapacity int                  `json:"point_capacity"`
	Sensor        *config.SensorConfig `json:"sensor,omitempty"`
}

// NewHeader returns a header with a fresh run id for the given agents.
func NewHeader(agentIDs []int, pointCapacity int) Header {
	return Header{
		FormatVersion: FormatVersion,
		RunID:         uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		AgentIDs:      append([]int(nil), agentIDs...),
		PointCapacity: pointCapacity,
	}
}

// Validate checks the header for a usable slot layout.
func (h Header) Validate() error {
	if len(h.AgentIDs) == 0 {
		return errors.New("dataset header must name at least one agent")
	}
	if h.PointCapacity <= 0 {
		return fmt.Errorf("point_capacity must be positive, got %d", h.PointCapacity)
	}
	seen := make(map[int]bool, len(h.AgentIDs))
	for _, id := range h.AgentIDs {
		if seen[id] {
			return fmt.Errorf("duplicate agent id %d in header", id)
		}
		seen[id] = true
	}
	return nil
}

// Agents returns the number of agent slots.
func (h Header) Agents() int { return len(h.AgentIDs) }

// Slot returns the slot index for agentID.
func (h Header) Slot(agentID int) (int, error) {
	for i, id := range h.AgentIDs {
		if id == agentID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("agent %d: %w", agentID, ErrUnknownAgent)
}

// Store is the dataset contract shared by the binary and sqlite backends.
// Implementations are not safe for concurrent appends.
type Store interface {
	// AppendRecord persists r. Tick ids must be strictly increasing.
	AppendRecord(r Record) error
	// ReadRecord returns the record for tickID with clouds trimmed to their
	// stored point counts.
	ReadRecord(tickID uint64) (Record, error)
	// ReadPadded returns the record for tickID with every cloud at full
	// point capacity.
	ReadPadded(tickID uint64) (Record, error)
	// Ticks returns the stored tick ids in append order.
	Ticks() []uint64
	// Header returns the dataset header.
	Header() Header
	// Close releases the store.
	Close() error
}
