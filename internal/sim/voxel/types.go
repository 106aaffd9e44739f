package voxel

import (
	"fmt"
	"math"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(dx, dy, dz int) Vec3i { return Vec3i{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz} }
func (v Vec3i) Up() Vec3i                { return v.Add(0, 1, 0) }
func (v Vec3i) Down() Vec3i              { return v.Add(0, -1, 0) }

func (v Vec3i) DistSq(o Vec3i) int {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// Centre returns the pose standing in the middle of the cell.
func (v Vec3i) Centre() Pose {
	return Pose{X: float64(v.X) + 0.5, Y: float64(v.Y), Z: float64(v.Z) + 0.5}
}

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Pose is an entity position with facing.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// Cell is the block the pose's feet occupy.
func (p Pose) Cell() Vec3i {
	return Vec3i{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y)), Z: int(math.Floor(p.Z))}
}

func (p Pose) WithFacing(yaw, pitch float32) Pose {
	p.Yaw, p.Pitch = yaw, pitch
	return p
}

func (p Pose) DistSq(o Pose) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f) [yaw=%.1f, pitch=%.1f]", p.X, p.Y, p.Z, p.Yaw, p.Pitch)
}

// Axis is the horizontal axis a portal plane extends along.
type Axis uint8

const (
	AxisX Axis = iota
	AxisZ
)

func (a Axis) Other() Axis {
	if a == AxisX {
		return AxisZ
	}
	return AxisX
}

func (a Axis) String() string {
	if a == AxisX {
		return "x"
	}
	return "z"
}

// Step returns the unit horizontal offset along the axis.
func (a Axis) Step() (dx, dz int) {
	if a == AxisX {
		return 1, 0
	}
	return 0, 1
}
