package pose

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMatrixFromPose_Identity(t *testing.T) {
	m := MatrixFromPose(Pose{})
	assert.True(t, mat.EqualApprox(m, mat.NewDiagDense(4, []float64{1, 1, 1, 1}), 1e-12))
	assert.True(t, IsValidTransformMatrix(m))
}

func TestMatrixFromPose_Translation(t *testing.T) {
	m := MatrixFromPose(Pose{X: 1.5, Y: -2, Z: 3})
	assert.Equal(t, 1.5, m.At(0, 3))
	assert.Equal(t, -2.0, m.At(1, 3))
	assert.Equal(t, 3.0, m.At(2, 3))
	assert.Equal(t, []float64{0, 0, 0, 1}, m.RawRowView(3))
}

func TestMatrixFromPose_Yaw90(t *testing.T) {
	m := MatrixFromPose(Pose{Yaw: 90})

	out, err := ApplyTransform(m, mat.NewDense(1, 3, []float64{1, 0, 0}), false)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.At(0, 0), 1e-9)
	assert.InDelta(t, 1.0, out.At(0, 1), 1e-9)
	assert.InDelta(t, 0.0, out.At(0, 2), 1e-9)
}

func TestPoseRoundTrip(t *testing.T) {
	poses := []Pose{
		{},
		{X: 10, Y: -4, Z: 2.4, Yaw: 180},
		{X: -3.2, Y: 7.7, Z: 0.1, Pitch: 12.5, Yaw: -45, Roll: 3},
		{X: 100, Y: 200, Z: 5, Pitch: -30, Yaw: 135, Roll: -20},
		{Pitch: 89, Yaw: 10, Roll: 5},
	}

	for _, p := range poses {
		got, err := PoseFromMatrix(MatrixFromPose(p))
		require.NoError(t, err)

		assert.InDelta(t, p.X, got.X, 1e-5)
		assert.InDelta(t, p.Y, got.Y, 1e-5)
		assert.InDelta(t, p.Z, got.Z, 1e-5)
		assert.InDelta(t, p.Pitch, got.Pitch, 1e-5)
		assert.InDelta(t, 0.0, angleDiff(p.Yaw, got.Yaw), 1e-5, "yaw %v vs %v", p.Yaw, got.Yaw)
		assert.InDelta(t, 0.0, angleDiff(p.Roll, got.Roll), 1e-5, "roll %v vs %v", p.Roll, got.Roll)
	}
}

func TestPoseFromMatrix_InvalidShape(t *testing.T) {
	_, err := PoseFromMatrix(mat.NewDense(3, 3, nil))
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestPoseArray(t *testing.T) {
	p := Pose{X: 1, Y: 2, Z: 3, Pitch: 4, Yaw: 5, Roll: 6}
	assert.Equal(t, [6]float64{1, 2, 3, 4, 5, 6}, p.Array())
	assert.Equal(t, p, FromArray(p.Array()))
}

func TestIsValidTransformMatrix(t *testing.T) {
	assert.True(t, IsValidTransformMatrix(MatrixFromPose(Pose{Pitch: 10, Yaw: 20, Roll: 30})))

	scaled := mat.NewDiagDense(4, []float64{2, 1, 1, 1})
	assert.False(t, IsValidTransformMatrix(scaled))

	badRow := mat.DenseCopyOf(MatrixFromPose(Pose{}))
	badRow.Set(3, 3, 0)
	assert.False(t, IsValidTransformMatrix(badRow))

	assert.False(t, IsValidTransformMatrix(mat.NewDense(3, 4, nil)))
}

// angleDiff returns a-b wrapped into (-180, 180].
func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}
