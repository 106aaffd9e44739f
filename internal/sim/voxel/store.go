package voxel

import (
	"sync"

	"worldmemory.ai/internal/sim/dimension"
)

const chunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

type Chunk struct {
	CX, CZ int
	minY   int
	height int
	Blocks []uint16 // len = 16*16*height, packed Block
}

func (c *Chunk) index(x, y, z int) int {
	// x fastest, then z, then y
	return x + z*chunkSize + (y-c.minY)*chunkSize*chunkSize
}

func (c *Chunk) Get(x, y, z int) Block   { return unpack(c.Blocks[c.index(x, y, z)]) }
func (c *Chunk) Set(x, y, z int, b Block) { c.Blocks[c.index(x, y, z)] = b.pack() }

// Generator produces the initial block at a world coordinate.
type Generator func(x, y, z int) Block

type StoreConfig struct {
	Bounds   dimension.Bounds
	Spawn    Vec3i
	Generate Generator // nil means empty (all air)
}

// Store is a lazily generated, chunked in-memory dimension. Safe for
// concurrent use.
type Store struct {
	cfg StoreConfig

	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Bounds.Height <= 0 {
		cfg.Bounds = dimension.BoundsForKind(dimension.KindOverworld)
	}
	return &Store{
		cfg:    cfg,
		chunks: map[ChunkKey]*Chunk{},
	}
}

// NewTerrainStore builds a store with the preset terrain for kind.
func NewTerrainStore(kind dimension.Kind, bounds dimension.Bounds) *Store {
	if bounds.Height <= 0 {
		bounds = dimension.BoundsForKind(kind)
	}
	return NewStore(StoreConfig{
		Bounds:   bounds,
		Spawn:    SpawnFor(kind),
		Generate: TerrainFor(kind, bounds),
	})
}

func (s *Store) VerticalBounds() (int, int) { return s.cfg.Bounds.MinY, s.cfg.Bounds.MaxY() }
func (s *Store) DefaultSpawn() Vec3i        { return s.cfg.Spawn }

func (s *Store) Block(p Vec3i) Block {
	if p.Y < s.cfg.Bounds.MinY {
		return B(VoidAir)
	}
	if p.Y >= s.cfg.Bounds.MaxY() {
		return B(Air)
	}
	k, lx, lz := chunkCoords(p.X, p.Z)
	s.mu.RLock()
	c := s.chunks[k]
	s.mu.RUnlock()
	if c == nil {
		c = s.loadChunk(k)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.Get(lx, p.Y, lz)
}

func (s *Store) SetBlock(p Vec3i, b Block) {
	if p.Y < s.cfg.Bounds.MinY || p.Y >= s.cfg.Bounds.MaxY() {
		return
	}
	k, lx, lz := chunkCoords(p.X, p.Z)
	c := s.loadChunk(k)
	s.mu.Lock()
	c.Set(lx, p.Y, lz, b)
	s.mu.Unlock()
}

func (s *Store) IsSolid(p Vec3i) bool          { return s.Block(p).Material.IsSolid() }
func (s *Store) IsCollisionEmpty(p Vec3i) bool { return !s.Block(p).Material.HasCollision() }
func (s *Store) IsLiquid(p Vec3i) bool         { return s.Block(p).Material.IsLiquid() }

// LoadedChunks reports how many chunks have been generated.
func (s *Store) LoadedChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func (s *Store) loadChunk(k ChunkKey) *Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.chunks[k]; c != nil {
		return c
	}
	c := &Chunk{
		CX:     k.CX,
		CZ:     k.CZ,
		minY:   s.cfg.Bounds.MinY,
		height: s.cfg.Bounds.Height,
		Blocks: make([]uint16, chunkSize*chunkSize*s.cfg.Bounds.Height),
	}
	if s.cfg.Generate != nil {
		for y := c.minY; y < c.minY+c.height; y++ {
			for z := 0; z < chunkSize; z++ {
				for x := 0; x < chunkSize; x++ {
					b := s.cfg.Generate(k.CX*chunkSize+x, y, k.CZ*chunkSize+z)
					if b.Material != Air {
						c.Set(x, y, z, b)
					}
				}
			}
		}
	}
	s.chunks[k] = c
	return c
}

func chunkCoords(x, z int) (ChunkKey, int, int) {
	cx := floorDiv(x, chunkSize)
	cz := floorDiv(z, chunkSize)
	return ChunkKey{CX: cx, CZ: cz}, x - cx*chunkSize, z - cz*chunkSize
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
