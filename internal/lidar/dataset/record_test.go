package dataset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/collector"
	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
)

func TestPad(t *testing.T) {
	padded, n := Pad([][4]float32{{1, 2, 3, 4}}, 3)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][4]float32{{1, 2, 3, 4}, {}, {}}, padded)

	padded, n = Pad([][4]float32{{1}, {2}, {3}}, 2)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][4]float32{{1}, {2}}, padded)
}

func TestBuildRecord(t *testing.T) {
	h := NewHeader([]int{7, 8, 9}, 16)
	b := collector.Batch{
		TickID: 40,
		Measurements: []collector.Measurement{
			{TickID: 40, AgentID: 9, Points: mat.NewDense(2, 4, []float64{1, 2, 3, 0.5, 4, 5, 6, 1}), Pose: pose.Pose{X: 1, Yaw: 90}},
			{TickID: 40, AgentID: 7, Pose: pose.Pose{Z: 2}},
		},
	}
	boxes := map[int]bbox.VehicleBoundingBox{9: {X: 1, Yaw: 90, Width: 4, Length: 2, Height: 1.5}}

	r, err := BuildRecord(h, b, boxes)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), r.TickID)
	assert.Equal(t, []bool{true, false, true}, r.Present)
	assert.Equal(t, []int{0, 0, 2}, r.Counts)
	assert.Equal(t, [6]float32{1, 0, 0, 0, 90, 0}, r.Poses[2])
	assert.Equal(t, [8]float32{1, 0, 0, 90, 0, 4, 2, 1.5}, r.Boxes[2])
	assert.Equal(t, [8]float32{}, r.Boxes[0])
	assert.Equal(t, 2, r.PresentCount())
	assert.Equal(t, 2, r.TotalPoints())

	back := r.Measurements(h)
	require.Len(t, back.Measurements, 2)
	assert.Equal(t, 1, back.Missing)
	assert.Equal(t, 7, back.Measurements[0].AgentID)
	assert.Equal(t, 0, back.Measurements[0].Len())
	assert.Equal(t, 9, back.Measurements[1].AgentID)
	assert.True(t, mat.Equal(b.Measurements[0].Points, back.Measurements[1].Points))
	assert.Equal(t, 90.0, back.Measurements[1].Pose.Yaw)

	gotBoxes := r.BoundingBoxes(h)
	assert.Equal(t, boxes[9], gotBoxes[9])
	assert.Contains(t, gotBoxes, 7)
}

func TestBuildRecord_UnknownAgent(t *testing.T) {
	h := NewHeader([]int{1}, 4)
	b := collector.Batch{Measurements: []collector.Measurement{{AgentID: 1}, {AgentID: 5}}}

	r, err := BuildRecord(h, b, nil)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
	assert.Equal(t, []bool{true}, r.Present)
}

func TestBuildRecord_InvalidCloudShape(t *testing.T) {
	h := NewHeader([]int{1, 2, 3}, 4)
	b := collector.Batch{
		TickID: 9,
		Measurements: []collector.Measurement{
			{TickID: 9, AgentID: 1, Points: mat.NewDense(1, 4, []float64{1, 2, 3, 1})},
			{TickID: 9, AgentID: 2, Points: mat.NewDense(1, 3, []float64{4, 5, 6})},
			{TickID: 9, AgentID: 3, Points: mat.NewDense(1, 4, []float64{7, 8, 9, 1})},
		},
	}

	r, err := BuildRecord(h, b, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pose.ErrInvalidShape))
	assert.False(t, errors.Is(err, ErrUnknownAgent))
	assert.Contains(t, err.Error(), "agent 2")
	assert.Equal(t, []bool{true, false, true}, r.Present)
	assert.Equal(t, []int{1, 0, 1}, r.Counts)
	assert.Equal(t, [][4]float32{{7, 8, 9, 1}}, r.Clouds[2])
	assert.NoError(t, r.checkShape(3))
}

func TestCloudFromMatrix(t *testing.T) {
	cloud, err := CloudFromMatrix(nil)
	require.NoError(t, err)
	assert.Empty(t, cloud)

	_, err = CloudFromMatrix(mat.NewDense(2, 5, nil))
	assert.True(t, errors.Is(err, pose.ErrInvalidShape))
}

func TestCloudCodec(t *testing.T) {
	cloud := [][4]float32{{1.5, -2, 3, 0.25}, {0, 0, 0, 0}}
	got, err := DecodeCloud(EncodeCloud(cloud))
	require.NoError(t, err)
	assert.Equal(t, cloud, got)

	_, err = DecodeCloud(make([]byte, 15))
	assert.Error(t, err)
}

func TestHeaderSlot(t *testing.T) {
	h := NewHeader([]int{4, 2}, 1)
	slot, err := h.Slot(2)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	_, err = h.Slot(3)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
	assert.NotEmpty(t, h.RunID)
}
