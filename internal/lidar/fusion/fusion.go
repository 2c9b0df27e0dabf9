// Package fusion merges one tick's measurements into a single point cloud
// in the global frame.
package fusion

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
)

// AgentSlice records which rows of a fused cloud came from one agent.
type AgentSlice struct {
	AgentID int
	Offset  int
	Count   int
}

// FusedFrame is the union of all agents' points for one tick, in the global
// frame, as an N×4 array of (x, y, z, intensity). Points is nil when empty.
type FusedFrame struct {
	TickID  uint64
	Points  *mat.Dense
	Sources []AgentSlice
}

// Len returns the number of fused points.
func (f FusedFrame) Len() int {
	return pose.Rows(f.Points)
}

// AgentPoints returns the rows contributed by agentID, or nil.
func (f FusedFrame) AgentPoints(agentID int) mat.Matrix {
	for _, s := range f.Sources {
		if s.AgentID == agentID && s.Count > 0 {
			return f.Points.Slice(s.Offset, s.Offset+s.Count, 0, 4)
		}
	}
	return nil
}

// MeasurementError reports a measurement that could not be fused.
type MeasurementError struct {
	AgentID int
	TickID  uint64
	Err     error
}

func (e *MeasurementError) Error() string {
	return fmt.Sprintf("fuse agent %d tick %d: %v", e.AgentID, e.TickID, e.Err)
}

func (e *MeasurementError) Unwrap() error { return e.Err }

// Fuse transforms every measurement in b into the global frame and
// concatenates the results. A measurement whose points cannot be transformed
// is left out and reported as a *MeasurementError; the returned frame still
// holds every other agent's points. An empty batch yields an empty frame.
func Fuse(b collector.Batch) (FusedFrame, error) {
	frame := FusedFrame{TickID: b.TickID}

	var (
		parts []*mat.Dense
		errs  []error
		total int
	)
	for _, m := range b.Measurements {
		if m.Points == nil {
			frame.Sources = append(frame.Sources, AgentSlice{AgentID: m.AgentID, Offset: total})
			continue
		}
		if _, c := m.Points.Dims(); c != 4 {
			errs = append(errs, &MeasurementError{
				AgentID: m.AgentID,
				TickID:  m.TickID,
				Err:     fmt.Errorf("points have %d columns, want 4: %w", c, pose.ErrInvalidShape),
			})
			continue
		}

		global, err := pose.ApplyTransform(pose.MatrixFromPose(m.Pose), m.Points, false)
		if err != nil {
			errs = append(errs, &MeasurementError{AgentID: m.AgentID, TickID: m.TickID, Err: err})
			continue
		}

		n := pose.Rows(global)
		frame.Sources = append(frame.Sources, AgentSlice{AgentID: m.AgentID, Offset: total, Count: n})
		parts = append(parts, global)
		total += n
	}

	if total > 0 {
		frame.Points = mat.NewDense(total, 4, nil)
		row := 0
		for _, p := range parts {
			r, _ := p.Dims()
			frame.Points.Slice(row, row+r, 0, 4).(*mat.Dense).Copy(p)
			row += r
		}
	}

	return frame, errors.Join(errs...)
}
