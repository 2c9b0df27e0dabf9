package pose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestApplyTransform_PreservesIntensityAndShape(t *testing.T) {
	pts := NewCloud([][4]float64{
		{1, 2, 3, 0.25},
		{-1, 0, 0.5, 0.75},
	})
	m := MatrixFromPose(Pose{X: 5, Y: 1, Z: -1, Yaw: 30, Pitch: 5})

	out, err := ApplyTransform(m, pts, false)
	require.NoError(t, err)

	r, c := out.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 0.25, out.At(0, 3))
	assert.Equal(t, 0.75, out.At(1, 3))
}

func TestApplyTransform_InverseRoundTrip(t *testing.T) {
	xyz := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		-4, 5.5, 0,
		0.1, -0.2, 9,
	})
	xyzi := NewCloud([][4]float64{
		{12, -3, 0.4, 0.1},
		{-250, 80, 3.5, 0.9},
		{0, 0, 0, 0},
		{1e3, 1e3, -20, 1},
	})

	tests := []struct {
		name string
		pose Pose
		pts  *mat.Dense
	}{
		{"identity", Pose{}, xyz},
		{"translation only", Pose{X: -12, Y: 3, Z: 1.8}, xyz},
		{"full rotation", Pose{X: -12, Y: 3, Z: 1.8, Pitch: -7, Yaw: 210, Roll: 2}, xyz},
		{"steep roll", Pose{X: 4, Yaw: -45, Roll: 170}, xyz},
		{"pitch near +90", Pose{X: 1, Y: 2, Z: 3, Pitch: 89.9, Yaw: 30, Roll: 10}, xyz},
		{"pitch near -90", Pose{X: -1, Y: 5, Pitch: -89.9, Yaw: -120, Roll: -25}, xyz},
		{"pitch at 90", Pose{Pitch: 90, Yaw: 15}, xyz},
		{"intensity column", Pose{X: 50, Y: -20, Z: 2.4, Pitch: 3, Yaw: 275, Roll: -1}, xyzi},
		{"intensity column near -90", Pose{X: 7, Pitch: -89.5, Yaw: 60}, xyzi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MatrixFromPose(tt.pose)

			global, err := ApplyTransform(m, tt.pts, false)
			require.NoError(t, err)
			local, err := ApplyTransform(m, global, true)
			require.NoError(t, err)

			assert.True(t, mat.EqualApprox(tt.pts, local, 1e-5), "round trip drifted:\n%v", mat.Formatted(local))
		})
	}
}

func TestApplyTransform_SensorToOtherVehicleFrame(t *testing.T) {
	// Agent A at the origin facing +X, agent B 10 m ahead facing back at A.
	a := MatrixFromPose(Pose{})
	b := MatrixFromPose(Pose{X: 10, Yaw: 180})

	local := mat.NewDense(1, 3, []float64{1, 0, 0})
	world, err := ApplyTransform(a, local, false)
	require.NoError(t, err)

	inB, err := ApplyTransform(b, world, true)
	require.NoError(t, err)

	assert.InDelta(t, 9.0, inB.At(0, 0), 1e-5)
	assert.InDelta(t, 0.0, inB.At(0, 1), 1e-5)
	assert.InDelta(t, 0.0, inB.At(0, 2), 1e-5)
}

func TestApplyTransform_InvalidShape(t *testing.T) {
	m := MatrixFromPose(Pose{})

	_, err := ApplyTransform(m, mat.NewDense(2, 2, nil), false)
	assert.True(t, errors.Is(err, ErrInvalidShape))

	_, err = ApplyTransform(m, mat.NewDense(2, 5, nil), false)
	assert.True(t, errors.Is(err, ErrInvalidShape))

	_, err = ApplyTransform(mat.NewDense(3, 3, nil), mat.NewDense(1, 3, nil), false)
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestApplyTransform_SingularInverse(t *testing.T) {
	singular := mat.NewDense(4, 4, nil)
	_, err := ApplyTransform(singular, mat.NewDense(1, 3, []float64{1, 1, 1}), true)
	assert.Error(t, err)
}

func TestApplyTransform_EmptyCloud(t *testing.T) {
	out, err := ApplyTransform(MatrixFromPose(Pose{X: 1}), nil, false)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 0, Rows(out))
	assert.Nil(t, NewCloud(nil))
}
