package voxel

// World is the read-only view of one dimension.
type World interface {
	Block(p Vec3i) Block
	IsSolid(p Vec3i) bool
	IsCollisionEmpty(p Vec3i) bool
	IsLiquid(p Vec3i) bool
	// VerticalBounds returns the lowest buildable Y and the exclusive top.
	VerticalBounds() (minY, maxY int)
	DefaultSpawn() Vec3i
}

// Editor is the write-capable variant used by geometry construction.
type Editor interface {
	World
	SetBlock(p Vec3i, b Block)
}

// InBounds reports whether p lies inside w's vertical range.
func InBounds(w World, p Vec3i) bool {
	minY, maxY := w.VerticalBounds()
	return p.Y >= minY && p.Y < maxY
}
