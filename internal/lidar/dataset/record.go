package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
)

// Record is one persisted tick. Every slice has one entry per agent slot.
//
// Clouds hold (x, y, z, intensity) in each sensor's local frame. Counts is the
// number of valid leading points in each cloud, clipped to the dataset point
// capacity. Poses are (x, y, z, pitch, yaw, roll); Boxes are
// (x, y, z, yaw, pitch, width, length, height). Present is false for slots
// with no measurement at this tick.
type Record struct {
	TickID  uint64
	Clouds  [][][4]float32
	Poses   [][6]float32
	Boxes   [][8]float32
	Counts  []int
	Present []bool
}

// NewRecord returns an empty record with agents slots.
func NewRecord(tickID uint64, agents int) Record {
	return Record{
		TickID:  tickID,
		Clouds:  make([][][4]float32, agents),
		Poses:   make([][6]float32, agents),
		Boxes:   make([][8]float32, agents),
		Counts:  make([]int, agents),
		Present: make([]bool, agents),
	}
}

func (r Record) checkShape(agents int) error {
	if len(r.Clouds) != agents || len(r.Poses) != agents || len(r.Boxes) != agents ||
		len(r.Counts) != agents || len(r.Present) != agents {
		return fmt.Errorf("tick %d: want %d slots: %w", r.TickID, agents, ErrRecordShape)
	}
	return nil
}

// PresentCount returns the number of slots holding a measurement.
func (r Record) PresentCount() int {
	n := 0
	for _, p := range r.Present {
		if p {
			n++
		}
	}
	return n
}

// TotalPoints returns the sum of stored point counts.
func (r Record) TotalPoints() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Pad returns cloud zero-filled or truncated to capacity, and the number of
// valid leading points.
func Pad(cloud [][4]float32, capacity int) ([][4]float32, int) {
	out := make([][4]float32, capacity)
	n := copy(out, cloud)
	return out, n
}

// BuildRecord converts a collected batch into a record. boxes supplies each
// agent's bounding box at the tick; agents without a box get a zero box.
// Measurements from agents without a slot, or whose cloud is not N×4, are
// left out of the record and reported; the other slots are still filled.
func BuildRecord(h Header, b collector.Batch, boxes map[int]bbox.VehicleBoundingBox) (Record, error) {
	r := NewRecord(b.TickID, h.Agents())

	var skipped []int
	var errs []error
	for _, m := range b.Measurements {
		slot, err := h.Slot(m.AgentID)
		if err != nil {
			skipped = append(skipped, m.AgentID)
			continue
		}
		cloud, err := CloudFromMatrix(m.Points)
		if err != nil {
			errs = append(errs, fmt.Errorf("tick %d agent %d: %w", b.TickID, m.AgentID, err))
			continue
		}
		r.Clouds[slot] = cloud
		r.Counts[slot] = len(r.Clouds[slot])
		r.Present[slot] = true

		pa := m.Pose.Array()
		for i, v := range pa {
			r.Poses[slot][i] = float32(v)
		}
		if box, ok := boxes[m.AgentID]; ok {
			ba := box.Array()
			for i, v := range ba {
				r.Boxes[slot][i] = float32(v)
			}
		}
	}

	if len(skipped) > 0 {
		errs = append(errs, fmt.Errorf("tick %d: agents %v: %w", b.TickID, skipped, ErrUnknownAgent))
	}
	return r, errors.Join(errs...)
}

// CloudFromMatrix converts an N×4 point array to float32 rows. A nil matrix
// yields an empty cloud; any other column count is pose.ErrInvalidShape.
func CloudFromMatrix(m *mat.Dense) ([][4]float32, error) {
	n := pose.Rows(m)
	if n == 0 {
		return [][4]float32{}, nil
	}
	if _, c := m.Dims(); c != 4 {
		return nil, fmt.Errorf("cloud must have 4 columns, got %d: %w", c, pose.ErrInvalidShape)
	}
	out := make([][4]float32, n)
	for i := 0; i < n; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = float32(m.At(i, j))
		}
	}
	return out, nil
}

// MatrixFromCloud converts float32 rows to an N×4 point array. An empty cloud
// yields nil.
func MatrixFromCloud(cloud [][4]float32) *mat.Dense {
	if len(cloud) == 0 {
		return nil
	}
	data := make([]float64, 0, len(cloud)*4)
	for _, p := range cloud {
		data = append(data, float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3]))
	}
	return mat.NewDense(len(cloud), 4, data)
}

// Measurements rebuilds a collector batch from the present slots of r, so a
// stored tick can be fused again.
func (r Record) Measurements(h Header) collector.Batch {
	b := collector.Batch{TickID: r.TickID}
	for slot, present := range r.Present {
		if !present || slot >= len(h.AgentIDs) {
			continue
		}
		var pa [6]float64
		for i, v := range r.Poses[slot] {
			pa[i] = float64(v)
		}
		cloud := r.Clouds[slot]
		if r.Counts[slot] < len(cloud) {
			cloud = cloud[:r.Counts[slot]]
		}
		b.Measurements = append(b.Measurements, collector.Measurement{
			TickID:  r.TickID,
			AgentID: h.AgentIDs[slot],
			Points:  MatrixFromCloud(cloud),
			Pose:    pose.FromArray(pa),
		})
	}
	b.Missing = h.Agents() - len(b.Measurements)
	return b
}

// BoundingBoxes returns the stored box of every present slot keyed by agent id.
func (r Record) BoundingBoxes(h Header) map[int]bbox.VehicleBoundingBox {
	out := make(map[int]bbox.VehicleBoundingBox)
	for slot, present := range r.Present {
		if !present || slot >= len(h.AgentIDs) {
			continue
		}
		var ba [8]float64
		for i, v := range r.Boxes[slot] {
			ba[i] = float64(v)
		}
		out[h.AgentIDs[slot]] = bbox.FromArray(ba)
	}
	return out
}
