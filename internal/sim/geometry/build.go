package geometry

import (
	"math"

	"worldmemory.ai/internal/sim/voxel"
)

const (
	builtInnerWidth  = 2
	builtInnerHeight = 3
	portalSearchDY   = 32
)

// YawToAxis maps facing to a portal plane: looking east/west builds along X.
func YawToAxis(yaw float32) voxel.Axis {
	a := math.Mod(float64(yaw), 360)
	if a < 0 {
		a += 360
	}
	if (a > 45 && a < 135) || (a > 225 && a < 315) {
		return voxel.AxisX
	}
	return voxel.AxisZ
}

// BuiltBounds is the interior a 4x5 frame with its lower outer corner at
// corner would enclose.
func BuiltBounds(corner voxel.Vec3i, axis voxel.Axis) FrameBounds {
	fb := FrameBounds{Axis: axis, MinY: corner.Y + 1, MaxY: corner.Y + builtInnerHeight}
	if axis == voxel.AxisX {
		fb.Plane, fb.MinA = corner.Z, corner.X+1
	} else {
		fb.Plane, fb.MinA = corner.X, corner.Z+1
	}
	fb.MaxA = fb.MinA + builtInnerWidth - 1
	return fb
}

// BuildFrameAt builds an obsidian 4x5 frame whose lower outer corner is
// corner and lights it. The interior footprint must be clear.
func BuildFrameAt(w voxel.Editor, corner voxel.Vec3i, axis voxel.Axis) (FrameBounds, bool) {
	fb := BuiltBounds(corner, axis)
	if !interiorClear(w, fb) {
		return FrameBounds{}, false
	}
	placeFrame(w, fb)
	FillFrame(w, fb)
	return fb, true
}

// BuildFrame tries the preferred axis, then the perpendicular one.
func BuildFrame(w voxel.Editor, corner voxel.Vec3i, preferred voxel.Axis) (FrameBounds, bool) {
	if fb, ok := BuildFrameAt(w, corner, preferred); ok {
		return fb, true
	}
	return BuildFrameAt(w, corner, preferred.Other())
}

func interiorClear(w voxel.World, fb FrameBounds) bool {
	if !voxel.InBounds(w, fb.Cell(fb.MinA, fb.MinY-1)) || !voxel.InBounds(w, fb.Cell(fb.MinA, fb.MaxY+1)) {
		return false
	}
	for a := fb.MinA; a <= fb.MaxA; a++ {
		for y := fb.MinY; y <= fb.MaxY; y++ {
			m := w.Block(fb.Cell(a, y)).Material
			if !m.IsAir() && m != voxel.Fire {
				return false
			}
		}
	}
	return true
}

func placeFrame(w voxel.Editor, fb FrameBounds) {
	obs := voxel.B(voxel.Obsidian)
	for y := fb.MinY - 1; y <= fb.MaxY+1; y++ {
		w.SetBlock(fb.Cell(fb.MinA-1, y), obs)
		w.SetBlock(fb.Cell(fb.MaxA+1, y), obs)
	}
	for a := fb.MinA; a <= fb.MaxA; a++ {
		w.SetBlock(fb.Cell(a, fb.MinY-1), obs)
		w.SetBlock(fb.Cell(a, fb.MaxY+1), obs)
	}
}

// FindNearestPortalCell scans a square of radius around near (and +-32 in Y)
// for the active nether-like cell closest by squared distance.
func FindNearestPortalCell(w voxel.World, near voxel.Vec3i, radius int) (voxel.Vec3i, bool) {
	minY, maxY := w.VerticalBounds()
	yMin := max(near.Y-portalSearchDY, minY+1)
	yMax := min(near.Y+portalSearchDY, maxY-1)
	var best voxel.Vec3i
	bestD := -1
	for dx := -radius; dx <= radius; dx++ {
		for dz := -radius; dz <= radius; dz++ {
			for y := yMin; y <= yMax; y++ {
				p := voxel.Vec3i{X: near.X + dx, Y: y, Z: near.Z + dz}
				if !IsNetherPortalCell(w, p) {
					continue
				}
				if d := p.DistSq(near); bestD < 0 || d < bestD {
					best, bestD = p, d
				}
			}
		}
	}
	return best, bestD >= 0
}

// EnsureReturnPortal returns an active cell near the arrival point, building
// a frame when none exists and create is set.
func EnsureReturnPortal(w voxel.Editor, near voxel.Vec3i, preferred voxel.Axis, radius int, create bool) (voxel.Vec3i, bool) {
	if p, ok := FindNearestPortalCell(w, near, radius); ok {
		return p, true
	}
	if !create {
		return voxel.Vec3i{}, false
	}
	baseY := groundBelow(w, near)
	corner := near
	corner.Y = baseY
	if preferred == voxel.AxisX {
		corner.X--
	} else {
		corner.Z--
	}
	fb, ok := BuildFrame(w, corner, preferred)
	if !ok {
		// Occupied footprint: carve it.
		fb = BuiltBounds(corner, preferred)
		clearInterior(w, fb)
		placeFrame(w, fb)
		FillFrame(w, fb)
	}
	return closestInner(fb, near), true
}

func groundBelow(w voxel.World, near voxel.Vec3i) int {
	minY, _ := w.VerticalBounds()
	floor := minY + 1
	y := near.Y
	for y > floor && !w.IsSolid(voxel.Vec3i{X: near.X, Y: y - 1, Z: near.Z}) {
		y--
	}
	return max(floor, y)
}

func clearInterior(w voxel.Editor, fb FrameBounds) {
	for a := fb.MinA; a <= fb.MaxA; a++ {
		for y := fb.MinY; y <= fb.MaxY; y++ {
			w.SetBlock(fb.Cell(a, y), voxel.B(voxel.Air))
		}
	}
}

func closestInner(fb FrameBounds, near voxel.Vec3i) voxel.Vec3i {
	want := near.X
	if fb.Axis == voxel.AxisZ {
		want = near.Z
	}
	a := fb.MinA
	if abs(want-fb.MaxA) < abs(want-fb.MinA) {
		a = fb.MaxA
	}
	return fb.Cell(a, fb.MinY)
}

// FindPortalSpot searches a clearance neighbourhood of near for a spot
// where a standard frame fits, snapping each candidate down to ground.
func FindPortalSpot(w voxel.Editor, near voxel.Vec3i, preferred voxel.Axis, clearance int) (FrameBounds, bool) {
	r := max(2, clearance)
	for dy := -1; dy <= 2; dy++ {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				base := near.Add(dx, dy, dz)
				base.Y = groundBelow(w, base)
				for _, axis := range []voxel.Axis{preferred, preferred.Other()} {
					corner := base
					if axis == voxel.AxisX {
						corner.X--
					} else {
						corner.Z--
					}
					if fb, ok := BuildFrameAt(w, corner, axis); ok {
						return fb, true
					}
				}
			}
		}
	}
	return FrameBounds{}, false
}
