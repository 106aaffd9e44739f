package geometry

import "worldmemory.ai/internal/sim/voxel"

// SearchOptions bounds the safe-spot searches.
type SearchOptions struct {
	MaxRadius      int // wide ring search radius
	VerticalWindow int // wide search scans y-VerticalWindow..y+VerticalWindow
	NearRadius     int
	NearVertical   int
	DropDistance   int // exact-or-nearby downward scan
}

func DefaultSearch() SearchOptions {
	return SearchOptions{
		MaxRadius:      24,
		VerticalWindow: 12,
		NearRadius:     4,
		NearVertical:   2,
		DropDistance:   48,
	}
}

// normalized fills zero fields with the defaults.
func (o SearchOptions) normalized() SearchOptions {
	d := DefaultSearch()
	if o.MaxRadius <= 0 {
		o.MaxRadius = d.MaxRadius
	}
	if o.VerticalWindow <= 0 {
		o.VerticalWindow = d.VerticalWindow
	}
	if o.NearRadius <= 0 {
		o.NearRadius = d.NearRadius
	}
	if o.NearVertical <= 0 {
		o.NearVertical = d.NearVertical
	}
	if o.DropDistance <= 0 {
		o.DropDistance = d.DropDistance
	}
	return o
}

// IsSafeStandingCell reports whether an entity can stand with its feet in p:
// solid floor, two collision-free cells, no liquid in either.
func IsSafeStandingCell(w voxel.World, p voxel.Vec3i) bool {
	head := p.Up()
	return w.IsSolid(p.Down()) &&
		w.IsCollisionEmpty(p) && w.IsCollisionEmpty(head) &&
		!w.IsLiquid(p) && !w.IsLiquid(head)
}

// FindSafe searches square rings of growing radius around desired. The
// second result is false when the world's default spawn was used instead.
func FindSafe(w voxel.World, desired voxel.Pose, opts SearchOptions) (voxel.Pose, bool) {
	opts = opts.normalized()
	c := desired.Cell()
	minY, maxY := w.VerticalBounds()
	fromY := max(minY, c.Y-opts.VerticalWindow)
	toY := min(maxY-2, c.Y+opts.VerticalWindow)

	for r := 0; r <= opts.MaxRadius; r++ {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				for y := fromY; y <= toY; y++ {
					p := voxel.Vec3i{X: c.X + dx, Y: y, Z: c.Z + dz}
					if IsSafeStandingCell(w, p) {
						return p.Centre().WithFacing(desired.Yaw, desired.Pitch), true
					}
				}
			}
		}
	}
	return SpawnPose(w, desired), false
}

// FindSafeNear tries a small neighbourhood of anchor before the wide search
// around desired.
func FindSafeNear(w voxel.World, desired voxel.Pose, anchor voxel.Vec3i, opts SearchOptions) (voxel.Pose, bool) {
	opts = opts.normalized()
	for r := 0; r <= opts.NearRadius; r++ {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				for dy := -opts.NearVertical; dy <= opts.NearVertical; dy++ {
					p := anchor.Add(dx, dy, dz)
					if IsSafeStandingCell(w, p) {
						return p.Centre().WithFacing(desired.Yaw, desired.Pitch), true
					}
				}
			}
		}
	}
	return FindSafe(w, desired, opts)
}

// PlaceExactOrNearby prefers the literal coordinate, then a straight drop,
// then a local search.
func PlaceExactOrNearby(w voxel.World, desired voxel.Pose, opts SearchOptions) (voxel.Pose, bool) {
	opts = opts.normalized()
	c := desired.Cell()
	minY, _ := w.VerticalBounds()

	if w.IsCollisionEmpty(c) && w.IsCollisionEmpty(c.Up()) {
		if w.IsSolid(c.Down()) || c.Y == minY {
			return desired, true
		}
	}
	for y := c.Y; y >= max(minY, c.Y-opts.DropDistance); y-- {
		p := voxel.Vec3i{X: c.X, Y: y, Z: c.Z}
		if IsSafeStandingCell(w, p) {
			return p.Centre().WithFacing(desired.Yaw, desired.Pitch), true
		}
	}
	return FindSafeNear(w, desired, c, opts)
}

// SpawnPose is the centre of the world's default spawn cell keeping facing.
func SpawnPose(w voxel.World, facing voxel.Pose) voxel.Pose {
	return w.DefaultSpawn().Centre().WithFacing(facing.Yaw, facing.Pitch)
}

// ClampY keeps the feet inside the buildable range with room for the head.
func ClampY(w voxel.World, p voxel.Pose) voxel.Pose {
	minY, maxY := w.VerticalBounds()
	if p.Y < float64(minY) {
		p.Y = float64(minY)
	}
	if p.Y > float64(maxY-2) {
		p.Y = float64(maxY - 2)
	}
	return p
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
