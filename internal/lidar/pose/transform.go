package pose

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ApplyTransform maps each row of pts through the 4x4 transform m.
//
// pts is N×3 (x, y, z) or N×4 (x, y, z, intensity). The intensity column is
// split off before the homogeneous product and reattached unchanged, so the
// result has the same shape as pts. With inverse set, the general inverse of
// m is applied instead. A nil pts is an empty cloud and yields nil.
func ApplyTransform(m mat.Matrix, pts mat.Matrix, inverse bool) (*mat.Dense, error) {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("transform must be 4x4, got %dx%d: %w", r, c, ErrInvalidShape)
	}
	if isNilMatrix(pts) {
		return nil, nil
	}

	n, cols := pts.Dims()
	if cols != 3 && cols != 4 {
		return nil, fmt.Errorf("points must have 3 or 4 columns, got %d: %w", cols, ErrInvalidShape)
	}

	t := mat.DenseCopyOf(m)
	if inverse {
		var inv mat.Dense
		if err := inv.Inverse(t); err != nil {
			return nil, fmt.Errorf("invert transform: %w", err)
		}
		t = &inv
	}

	// Homogeneous coordinates: N×4 with w = 1.
	homog := mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		homog.Set(i, 0, pts.At(i, 0))
		homog.Set(i, 1, pts.At(i, 1))
		homog.Set(i, 2, pts.At(i, 2))
		homog.Set(i, 3, 1)
	}

	var moved mat.Dense
	moved.Mul(homog, t.T())

	out := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, moved.At(i, 0))
		out.Set(i, 1, moved.At(i, 1))
		out.Set(i, 2, moved.At(i, 2))
		if cols == 4 {
			out.Set(i, 3, pts.At(i, 3))
		}
	}
	return out, nil
}

// NewCloud builds an N×4 point array from (x, y, z, intensity) tuples.
// An empty slice yields nil, the empty cloud.
func NewCloud(points [][4]float64) *mat.Dense {
	if len(points) == 0 {
		return nil
	}
	data := make([]float64, 0, len(points)*4)
	for _, p := range points {
		data = append(data, p[0], p[1], p[2], p[3])
	}
	return mat.NewDense(len(points), 4, data)
}

// Rows returns the number of points in pts, treating nil as empty.
func Rows(pts mat.Matrix) int {
	if isNilMatrix(pts) {
		return 0
	}
	r, _ := pts.Dims()
	return r
}

func isNilMatrix(m mat.Matrix) bool {
	if m == nil {
		return true
	}
	if d, ok := m.(*mat.Dense); ok && d == nil {
		return true
	}
	return false
}
