// Package export writes fused frames to files for offline inspection:
// LAS point clouds and top-down PNG renders.
package export

import (
	"errors"
	"fmt"
	"math"

	"github.com/edaniels/lidario"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/fusion"
	"github.com/banshee-data/lidarfusion/internal/monitoring"
)

var logf = monitoring.Tagged("Export")

// IntensityScale maps a [0,1] intensity onto the 16-bit LAS intensity field.
const IntensityScale = math.MaxUint16

// ErrEmptyFrame is returned when a frame has no points to export.
var ErrEmptyFrame = errors.New("export: frame has no points")

// WriteLAS writes the fused points of frame to a LAS 1.x file at path.
// Each agent's points carry its id as the point source id.
func WriteLAS(path string, frame fusion.FusedFrame) (err error) {
	if frame.Len() == 0 {
		return ErrEmptyFrame
	}

	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return fmt.Errorf("create las %s: %w", path, err)
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return fmt.Errorf("las header: %w", err)
	}

	sourceOf := make([]uint16, frame.Len())
	for _, s := range frame.Sources {
		for i := s.Offset; i < s.Offset+s.Count; i++ {
			sourceOf[i] = uint16(s.AgentID)
		}
	}

	for i := 0; i < frame.Len(); i++ {
		p := &lidario.PointRecord0{
			X:         frame.Points.At(i, 0),
			Y:         frame.Points.At(i, 1),
			Z:         frame.Points.At(i, 2),
			Intensity: intensityToLAS(frame.Points.At(i, 3)),
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: sourceOf[i],
		}
		if err = lf.AddLasPoint(p); err != nil {
			return fmt.Errorf("las point %d: %w", i, err)
		}
	}

	logf("wrote %d points for tick %d to %s", frame.Len(), frame.TickID, path)
	return nil
}

// ReadLAS reads a LAS file back into an N×4 (x, y, z, intensity) array.
func ReadLAS(path string) (*mat.Dense, error) {
	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return nil, fmt.Errorf("open las %s: %w", path, err)
	}
	defer lf.Close()

	n := lf.Header.NumberPoints
	if n == 0 {
		return nil, nil
	}
	out := mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, fmt.Errorf("las point %d: %w", i, err)
		}
		d := p.PointData()
		out.SetRow(i, []float64{d.X, d.Y, d.Z, float64(d.Intensity) / IntensityScale})
	}
	return out, nil
}

func intensityToLAS(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return IntensityScale
	}
	return uint16(math.Round(v * IntensityScale))
}
