package voxel

import "worldmemory.ai/internal/sim/dimension"

const (
	overworldSurfaceY = 63
	netherFloorY      = 31
	netherRoofY       = 100
	endIslandTopY     = 59
	endIslandRadius   = 48
)

// SpawnFor is the default spawn cell (feet) for the preset terrain of kind.
func SpawnFor(kind dimension.Kind) Vec3i {
	switch kind {
	case dimension.KindNether:
		return Vec3i{X: 0, Y: netherFloorY + 1, Z: 0}
	case dimension.KindEnd:
		return Vec3i{X: 0, Y: endIslandTopY + 1, Z: 0}
	default:
		return Vec3i{X: 0, Y: overworldSurfaceY + 1, Z: 0}
	}
}

// TerrainFor returns the flat preset generator for kind.
func TerrainFor(kind dimension.Kind, bounds dimension.Bounds) Generator {
	minY := bounds.MinY
	top := bounds.MaxY() - 1
	switch kind {
	case dimension.KindNether:
		return func(x, y, z int) Block {
			switch {
			case y == minY || y == top:
				return B(Bedrock)
			case y <= netherFloorY:
				return B(Netherrack)
			case y >= netherRoofY:
				return B(Netherrack)
			}
			return B(Air)
		}
	case dimension.KindEnd:
		return func(x, y, z int) Block {
			if x*x+z*z > endIslandRadius*endIslandRadius {
				return B(Air)
			}
			if y <= endIslandTopY && y > endIslandTopY-20 {
				return B(EndStone)
			}
			return B(Air)
		}
	default:
		return func(x, y, z int) Block {
			switch {
			case y == minY:
				return B(Bedrock)
			case y < overworldSurfaceY-3:
				return B(Stone)
			case y < overworldSurfaceY:
				return B(Dirt)
			case y == overworldSurfaceY:
				return B(Grass)
			}
			return B(Air)
		}
	}
}
