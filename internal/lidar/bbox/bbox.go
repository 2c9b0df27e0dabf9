// Package bbox describes vehicle bounding boxes in the world frame and the
// geometry derived from them for rendering.
package bbox

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/pose"
)

// VehicleBoundingBox is a vehicle's box at capture time. X, Y, Z locate the
// centre of the box floor in world metres; Yaw and Pitch are degrees.
// Width, Length and Height are full extents along the box's local x, y and z.
type VehicleBoundingBox struct {
	X, Y, Z               float64
	Yaw, Pitch            float64
	Width, Length, Height float64
}

// FromArray builds a box from dataset order
// (x, y, z, yaw, pitch, width, length, height).
func FromArray(a [8]float64) VehicleBoundingBox {
	return VehicleBoundingBox{
		X: a[0], Y: a[1], Z: a[2],
		Yaw: a[3], Pitch: a[4],
		Width: a[5], Length: a[6], Height: a[7],
	}
}

// Array returns b in dataset order.
func (b VehicleBoundingBox) Array() [8]float64 {
	return [8]float64{b.X, b.Y, b.Z, b.Yaw, b.Pitch, b.Width, b.Length, b.Height}
}

// Pose returns the box's placement with roll fixed at zero.
func (b VehicleBoundingBox) Pose() pose.Pose {
	return pose.Pose{X: b.X, Y: b.Y, Z: b.Z, Pitch: b.Pitch, Yaw: b.Yaw}
}

// unitCorners is the unit cube lifted so its floor sits on z = 0.
// Indices 0-3 are the bottom face, 4-7 the top face in the same order.
var unitCorners = [8]r3.Vector{
	{X: -0.5, Y: 0.5, Z: 0},
	{X: 0.5, Y: 0.5, Z: 0},
	{X: 0.5, Y: -0.5, Z: 0},
	{X: -0.5, Y: -0.5, Z: 0},
	{X: -0.5, Y: 0.5, Z: 1},
	{X: 0.5, Y: 0.5, Z: 1},
	{X: 0.5, Y: -0.5, Z: 1},
	{X: -0.5, Y: -0.5, Z: 1},
}

// WireframeOrder visits corner indices so that consecutive pairs trace all
// twelve box edges as one polyline.
var WireframeOrder = [16]int{0, 3, 7, 3, 2, 6, 2, 1, 5, 1, 0, 4, 7, 6, 5, 4}

// Corners returns the eight world-frame corners of b. The scaled unit cube is
// placed with the same transform the fusion path applies to sensor points.
func (b VehicleBoundingBox) Corners() [8]r3.Vector {
	local := mat.NewDense(len(unitCorners), 3, nil)
	for i, u := range unitCorners {
		local.SetRow(i, []float64{u.X * b.Width, u.Y * b.Length, u.Z * b.Height})
	}
	world, err := pose.ApplyTransform(pose.MatrixFromPose(b.Pose()), local, false)
	if err != nil {
		// 8×3 points against a 4×4 pose matrix always have a valid shape.
		panic(err)
	}

	var out [8]r3.Vector
	for i := range out {
		out[i] = r3.Vector{X: world.At(i, 0), Y: world.At(i, 1), Z: world.At(i, 2)}
	}
	return out
}

// Wireframe returns the corners of b in WireframeOrder.
func (b VehicleBoundingBox) Wireframe() [16]r3.Vector {
	c := b.Corners()
	var out [16]r3.Vector
	for i, idx := range WireframeOrder {
		out[i] = c[idx]
	}
	return out
}

// Edges returns the twelve distinct corner-index pairs of a box, lower index first.
func Edges() [][2]int {
	return [][2]int{
		{0, 1}, {1, 2}, {2, 3}, {0, 3},
		{4, 5}, {5, 6}, {6, 7}, {4, 7},
		{0, 4}, {1, 5}, {2, 6}, {3, 7},
	}
}

// Center returns the geometric centre of b in world coordinates.
func (b VehicleBoundingBox) Center() r3.Vector {
	c := b.Corners()
	var sum r3.Vector
	for _, v := range c {
		sum = sum.Add(v)
	}
	return sum.Mul(1.0 / 8.0)
}
