// Package hosttest provides an in-memory host.Server for tests of the
// orchestration core.
package hosttest

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

// Fake is a deterministic host. Worlds are voxel stores created on demand
// by AddWorld; tasks run only when RunTasks is called.
type Fake struct {
	mu sync.Mutex

	worlds    map[dimension.ID]*voxel.Store
	clients   map[uuid.UUID]*host.Client
	inv       map[uuid.UUID]ledger.Inventory
	tasks     []host.Task
	tick      int64
	moveErr   error
	bosses    []dimension.ID
	cleared   int
	placement map[uuid.UUID]int

	// OnMove runs after a successful Move, outside the lock, the way a real
	// host fires its world-change handling.
	OnMove func(id uuid.UUID, from, to dimension.ID)
}

func New() *Fake {
	return &Fake{
		worlds:    map[dimension.ID]*voxel.Store{},
		clients:   map[uuid.UUID]*host.Client{},
		inv:       map[uuid.UUID]ledger.Inventory{},
		placement: map[uuid.UUID]int{},
	}
}

// AddWorld registers a flat world (stone up to y=63) unless gen is given.
func (f *Fake) AddWorld(dim dimension.ID, gen voxel.Generator) *voxel.Store {
	if gen == nil {
		gen = func(x, y, z int) voxel.Block {
			if y < 64 {
				return voxel.B(voxel.Stone)
			}
			return voxel.B(voxel.Air)
		}
	}
	s := voxel.NewStore(voxel.StoreConfig{
		Bounds:   dimension.BoundsForKind(dimension.GuessKind(dim)),
		Spawn:    voxel.Vec3i{X: 0, Y: 64, Z: 0},
		Generate: gen,
	})
	f.mu.Lock()
	f.worlds[dim] = s
	f.mu.Unlock()
	return s
}

func (f *Fake) RemoveWorld(dim dimension.ID) {
	f.mu.Lock()
	delete(f.worlds, dim)
	f.mu.Unlock()
}

func (f *Fake) Join(id uuid.UUID, dim dimension.ID, pose voxel.Pose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[id] = &host.Client{ID: id, Name: id.String()[:8], Dimension: dim, Pose: pose, Alive: true, GameMode: host.Survival}
}

func (f *Fake) Leave(id uuid.UUID) {
	f.mu.Lock()
	delete(f.clients, id)
	f.mu.Unlock()
}

func (f *Fake) Update(id uuid.UUID, fn func(c *host.Client)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.clients[id]; c != nil {
		fn(c)
	}
}

// FailMoves makes every Move return err until called with nil.
func (f *Fake) FailMoves(err error) {
	f.mu.Lock()
	f.moveErr = err
	f.mu.Unlock()
}

func (f *Fake) SetTick(t int64) {
	f.mu.Lock()
	f.tick = t
	f.mu.Unlock()
}

func (f *Fake) Advance(n int64) {
	f.mu.Lock()
	f.tick += n
	f.mu.Unlock()
}

// RunTasks drains the queue and reports how many tasks ran.
func (f *Fake) RunTasks() int {
	f.mu.Lock()
	tasks := f.tasks
	f.tasks = nil
	f.mu.Unlock()
	for _, t := range tasks {
		t.Run()
	}
	return len(tasks)
}

func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *Fake) Bosses() []dimension.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dimension.ID(nil), f.bosses...)
}

// Placements counts Place calls for id.
func (f *Fake) Placements(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placement[id]
}

func (f *Fake) Client(id uuid.UUID) (host.Client, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.clients[id]
	if c == nil {
		return host.Client{}, false
	}
	return *c, true
}

func (f *Fake) Clients() []host.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, *c)
	}
	return out
}

func (f *Fake) World(dim dimension.ID) (voxel.Editor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.worlds[dim]
	if !ok {
		return nil, false
	}
	return w, true
}

func (f *Fake) HasDimension(dim dimension.ID) bool {
	_, ok := f.World(dim)
	return ok
}

func (f *Fake) Move(id uuid.UUID, dim dimension.ID) error {
	f.mu.Lock()
	if f.moveErr != nil {
		err := f.moveErr
		f.mu.Unlock()
		return err
	}
	c := f.clients[id]
	if c == nil {
		f.mu.Unlock()
		return host.ErrClientGone
	}
	if _, ok := f.worlds[dim]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%s: %w", dim, host.ErrDimensionNotFound)
	}
	from := c.Dimension
	c.Dimension = dim
	hook := f.OnMove
	f.mu.Unlock()
	if hook != nil {
		hook(id, from, dim)
	}
	return nil
}

func (f *Fake) Place(id uuid.UUID, pose voxel.Pose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.clients[id]
	if c == nil {
		return host.ErrClientGone
	}
	c.Pose = pose
	f.placement[id]++
	return nil
}

func (f *Fake) Schedule(t host.Task) {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()
}

func (f *Fake) Tick() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tick
}

func (f *Fake) Inventory(id uuid.UUID) (ledger.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients[id] == nil {
		return ledger.Inventory{}, host.ErrClientGone
	}
	return f.inv[id].Clone(), nil
}

func (f *Fake) SetInventory(id uuid.UUID, inv ledger.Inventory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients[id] == nil {
		return host.ErrClientGone
	}
	f.inv[id] = inv.Clone()
	return nil
}

func (f *Fake) SetGameMode(id uuid.UUID, mode host.GameMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.clients[id]
	if c == nil {
		return host.ErrClientGone
	}
	c.GameMode = mode
	return nil
}

func (f *Fake) SpawnBoss(dim dimension.ID, at voxel.Vec3i) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bosses = append(f.bosses, dim)
	return nil
}

func (f *Fake) ClearBlocking(dim dimension.ID, at voxel.Pose, radius float64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return 0
}

var _ host.Server = (*Fake)(nil)
