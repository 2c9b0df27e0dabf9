package collector

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
)

// Measurement is one sensor capture from one agent at one tick. Points is an
// N×4 array of (x, y, z, intensity) in the sensor's local frame; nil is an
// empty capture. Pose is the sensor's world pose at capture time.
type Measurement struct {
	TickID     uint64
	AgentID    int
	Points     *mat.Dense
	Pose       pose.Pose
	CapturedAt time.Time
}

// Len returns the number of points in the measurement.
func (m Measurement) Len() int {
	return pose.Rows(m.Points)
}

// Batch is the set of measurements drained for one tick.
type Batch struct {
	// TickID is the tick the batch was collected for. Count-based drains
	// leave it zero.
	TickID       uint64
	Measurements []Measurement
	// Missing is the number of expected measurements that did not arrive.
	Missing int
	// Mismatched holds measurements whose tick id differed from TickID.
	// They are never counted toward the expected total.
	Mismatched []Measurement
	// Duplicates holds repeat measurements from an agent already present.
	Duplicates []Measurement
}

// Complete reports whether nothing was missing.
func (b Batch) Complete() bool {
	return b.Missing == 0
}

// AgentIDs returns the agent ids present in the batch, in arrival order.
func (b Batch) AgentIDs() []int {
	ids := make([]int, len(b.Measurements))
	for i, m := range b.Measurements {
		ids[i] = m.AgentID
	}
	return ids
}

// TickMismatches returns the measurements whose tick id differs from tick.
func (b Batch) TickMismatches(tick uint64) []Measurement {
	var out []Measurement
	for _, m := range b.Measurements {
		if m.TickID != tick {
			out = append(out, m)
		}
	}
	return out
}
