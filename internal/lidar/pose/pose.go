// Package pose builds local-to-global rigid transforms from simulator poses
// and applies them to point clouds.
//
// Poses follow the simulator's left-handed world: X forward, Y right, Z up,
// angles in degrees. Rotation is composed yaw, then pitch, then roll.
package pose

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidShape is returned when a point array or matrix has dimensions the
// transform engine cannot operate on.
var ErrInvalidShape = errors.New("invalid shape")

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Pose is a sensor or vehicle pose captured at measurement time.
type Pose struct {
	X, Y, Z          float64 // metres
	Pitch, Yaw, Roll float64 // degrees
}

// Array returns the pose in dataset order (x, y, z, pitch, yaw, roll).
func (p Pose) Array() [6]float64 {
	return [6]float64{p.X, p.Y, p.Z, p.Pitch, p.Yaw, p.Roll}
}

// FromArray builds a Pose from dataset order (x, y, z, pitch, yaw, roll).
func FromArray(a [6]float64) Pose {
	return Pose{X: a[0], Y: a[1], Z: a[2], Pitch: a[3], Yaw: a[4], Roll: a[5]}
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }

func degrees(rad float64) float64 { return rad * 180.0 / math.Pi }

// MatrixFromPose returns the 4x4 local-to-global transform for p.
// Translation occupies the last column and the last row is [0 0 0 1].
func MatrixFromPose(p Pose) *mat.Dense {
	cy, sy := math.Cos(radians(p.Yaw)), math.Sin(radians(p.Yaw))
	cr, sr := math.Cos(radians(p.Roll)), math.Sin(radians(p.Roll))
	cp, sp := math.Cos(radians(p.Pitch)), math.Sin(radians(p.Pitch))

	return mat.NewDense(4, 4, []float64{
		cp * cy, cy*sp*sr - sy*cr, -cy*sp*cr - sy*sr, p.X,
		cp * sy, sy*sp*sr + cy*cr, -sy*sp*cr + cy*sr, p.Y,
		sp, -cp * sr, cp * cr, p.Z,
		0, 0, 0, 1,
	})
}

// PoseFromMatrix recovers the pose encoded by a transform built with
// MatrixFromPose. Pitch is returned in [-90, 90] degrees.
func PoseFromMatrix(m mat.Matrix) (Pose, error) {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return Pose{}, fmt.Errorf("transform must be 4x4, got %dx%d: %w", r, c, ErrInvalidShape)
	}

	sp := math.Max(-1, math.Min(1, m.At(2, 0)))
	pitch := math.Asin(sp)

	var yaw, roll float64
	if math.Abs(math.Cos(pitch)) > 1e-9 {
		yaw = math.Atan2(m.At(1, 0), m.At(0, 0))
		roll = math.Atan2(-m.At(2, 1), m.At(2, 2))
	} else {
		// Gimbal lock: yaw and roll share an axis, attribute it all to yaw.
		yaw = math.Atan2(-m.At(0, 1), m.At(1, 1))
	}

	return Pose{
		X:     m.At(0, 3),
		Y:     m.At(1, 3),
		Z:     m.At(2, 3),
		Pitch: degrees(pitch),
		Yaw:   degrees(yaw),
		Roll:  degrees(roll),
	}, nil
}

// IsValidTransformMatrix checks if a 4x4 matrix is a rigid transform:
// the rotation block has determinant ≈ 1 and the last row is [0 0 0 1].
func IsValidTransformMatrix(m mat.Matrix) bool {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return false
	}

	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, m.At(i, j))
		}
	}
	if math.Abs(mat.Det(rot)-1.0) > MatrixValidationTolerance {
		return false
	}

	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || math.Abs(m.At(3, 3)-1.0) > 0.001 {
		return false
	}
	return true
}
