package geometry

import "worldmemory.ai/internal/sim/voxel"

// PlatformOptions configures the end-kind arrival platform.
type PlatformOptions struct {
	Enabled        bool
	Radius         int
	Block          voxel.Material
	IslandMaterial voxel.Material
	SearchRadius   int
}

func DefaultPlatform() PlatformOptions {
	return PlatformOptions{
		Enabled:        true,
		Radius:         3,
		Block:          voxel.EndStone,
		IslandMaterial: voxel.EndStone,
		SearchRadius:   128,
	}
}

const (
	islandScanTop    = 120
	islandScanBottom = 20
	islandGridStep   = 4
	fallbackMinY     = 50
	fallbackMaxY     = 80
)

// EnsureArrivalPlatform picks the island column nearest the world origin,
// lays a square one layer below it and returns the arrival cell above.
func EnsureArrivalPlatform(w voxel.Editor, near voxel.Vec3i, opts PlatformOptions) voxel.Vec3i {
	if !opts.Enabled {
		return near
	}
	d := DefaultPlatform()
	if opts.Radius < 0 {
		opts.Radius = 0
	}
	if opts.SearchRadius <= 0 {
		opts.SearchRadius = d.SearchRadius
	}
	if opts.Block == voxel.Air {
		opts.Block = d.Block
	}
	if opts.IslandMaterial == voxel.Air {
		opts.IslandMaterial = d.IslandMaterial
	}

	top, found := findIslandTop(w, opts.SearchRadius, opts.IslandMaterial)
	place := top
	if !found {
		y := min(max(near.Y, fallbackMinY), fallbackMaxY)
		place = voxel.Vec3i{X: near.X, Y: y, Z: near.Z}
	}
	centre := place.Down()
	for dx := -opts.Radius; dx <= opts.Radius; dx++ {
		for dz := -opts.Radius; dz <= opts.Radius; dz++ {
			w.SetBlock(centre.Add(dx, 0, dz), voxel.B(opts.Block))
		}
	}
	if found {
		return place.Up()
	}
	// place itself is open; the new square is its floor.
	return place
}

func findIslandTop(w voxel.World, radius int, island voxel.Material) (voxel.Vec3i, bool) {
	minY, maxY := w.VerticalBounds()
	yTop := min(islandScanTop, maxY-1)
	yBottom := max(islandScanBottom, minY)
	var best voxel.Vec3i
	bestD := -1
	for dx := -radius; dx <= radius; dx += islandGridStep {
		for dz := -radius; dz <= radius; dz += islandGridStep {
			for y := yTop; y >= yBottom; y-- {
				p := voxel.Vec3i{X: dx, Y: y, Z: dz}
				if w.Block(p).Material != island {
					continue
				}
				if d := dx*dx + dz*dz; bestD < 0 || d < bestD {
					best, bestD = p, d
				}
				break
			}
		}
	}
	return best, bestD >= 0
}
