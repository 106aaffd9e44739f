package ledger

import (
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

// Ledger remembers, per client, the last pose in every dimension, the last
// default dimension and the last member visited in each group. Join/leave
// callbacks may arrive off the tick path, so all state is mutex guarded.
type Ledger struct {
	cfg    config.Source
	store  Store
	logger *log.Logger
	now    func() time.Time

	mu        sync.RWMutex
	clients   map[uuid.UUID]*clientState
	lastKnown map[uuid.UUID]LastKnown
}

type clientState struct {
	entry Entry
	dirty bool // differs from the durable record
}

func New(cfg config.Source, store Store, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Ledger{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		now:       time.Now,
		clients:   map[uuid.UUID]*clientState{},
		lastKnown: map[uuid.UUID]LastKnown{},
	}
}

// SetClock replaces the capture timestamp source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) Store() Store { return l.store }

// Load reads the durable record for id, dropping references that the
// current config no longer allows. A read failure keeps whatever is in memory.
func (l *Ledger) Load(id uuid.UUID) error {
	e, ok, err := l.store.Load(id)
	if err != nil {
		l.logger.Printf("ledger: load %s: %v", id, err)
		l.mu.Lock()
		l.stateLocked(id)
		l.mu.Unlock()
		return err
	}
	sanitize(&e, l.cfg.Get())

	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.clients[id]; c != nil && c.dirty {
		// An unwritten change from the previous session is newer than the record.
		l.logger.Printf("ledger: %s rejoined with unsaved changes, keeping them", id)
		return nil
	}
	if !ok {
		l.stateLocked(id)
		return nil
	}
	l.clients[id] = &clientState{entry: e}
	if l.cfg.Get().Debug {
		l.logger.Printf("ledger: loaded %d positions for %s (lastDefault=%s)", len(e.Positions), id, e.LastDefault)
	}
	return nil
}

func sanitize(e *Entry, cfg config.Config) {
	if e.Positions == nil {
		e.Positions = map[dimension.ID]SavedPosition{}
	}
	if e.LastDefault != "" && !cfg.IsDefault(e.LastDefault) {
		e.LastDefault = ""
	}
	for gid, dim := range e.LastGroupMember {
		if g, ok := cfg.GroupByID(gid); !ok || g.ID != gid || !g.Has(dim) {
			delete(e.LastGroupMember, gid)
		}
	}
}

func (l *Ledger) stateLocked(id uuid.UUID) *clientState {
	c := l.clients[id]
	if c == nil {
		c = &clientState{entry: Entry{Positions: map[dimension.ID]SavedPosition{}}}
		l.clients[id] = c
	}
	return c
}

func (l *Ledger) recordLocked(cfg config.Config, c *clientState, dim dimension.ID, pose voxel.Pose) {
	c.entry.Positions[dim] = At(pose, l.now())
	if cfg.IsDefault(dim) {
		c.entry.LastDefault = dim
	}
	if g, ok := cfg.GroupByMember(dim); ok {
		if c.entry.LastGroupMember == nil {
			c.entry.LastGroupMember = map[dimension.GroupID]dimension.ID{}
		}
		c.entry.LastGroupMember[g.ID] = dim
	}
	c.dirty = true
}

// Save remembers pose for dim. Hubs are never saved.
func (l *Ledger) Save(id uuid.UUID, dim dimension.ID, pose voxel.Pose) bool {
	cfg := l.cfg.Get()
	if cfg.IsHub(dim) {
		return false
	}
	l.mu.Lock()
	l.recordLocked(cfg, l.stateLocked(id), dim, pose)
	l.mu.Unlock()
	return true
}

// SetPosition is the explicit administrative write; it persists immediately.
func (l *Ledger) SetPosition(id uuid.UUID, dim dimension.ID, pose voxel.Pose) error {
	cfg := l.cfg.Get()
	l.mu.Lock()
	l.recordLocked(cfg, l.stateLocked(id), dim, pose)
	l.mu.Unlock()
	return l.Persist(id)
}

func (l *Ledger) Position(id uuid.UUID, dim dimension.ID) (SavedPosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := l.clients[id]
	if c == nil {
		return SavedPosition{}, false
	}
	p, ok := c.entry.Positions[dim]
	return p, ok
}

// Entry returns a copy of everything remembered for id.
func (l *Ledger) Entry(id uuid.UUID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := l.clients[id]
	if c == nil {
		return Entry{}, false
	}
	return c.entry.Clone(), true
}

func (l *Ledger) LastDefault(id uuid.UUID) dimension.ID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c := l.clients[id]; c != nil {
		return c.entry.LastDefault
	}
	return ""
}

func (l *Ledger) LastGroupMember(id uuid.UUID, gid dimension.GroupID) (dimension.ID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := l.clients[id]
	if c == nil {
		return "", false
	}
	dim, ok := c.entry.LastGroupMember[gid]
	return dim, ok
}

// SetLastGroupMember records dim for gid when dim really is a member.
func (l *Ledger) SetLastGroupMember(id uuid.UUID, gid dimension.GroupID, dim dimension.ID) bool {
	g, ok := l.cfg.Get().GroupByID(gid)
	if !ok || !g.Has(dim) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.stateLocked(id)
	if c.entry.LastGroupMember == nil {
		c.entry.LastGroupMember = map[dimension.GroupID]dimension.ID{}
	}
	if c.entry.LastGroupMember[g.ID] != dim {
		c.entry.LastGroupMember[g.ID] = dim
		c.dirty = true
	}
	return true
}

// ClearPosition forgets dim and persists. It reports whether anything was removed.
func (l *Ledger) ClearPosition(id uuid.UUID, dim dimension.ID) (bool, error) {
	l.mu.Lock()
	c := l.clients[id]
	removed := false
	if c != nil {
		if _, ok := c.entry.Positions[dim]; ok {
			delete(c.entry.Positions, dim)
			c.dirty = true
			removed = true
		}
	}
	l.mu.Unlock()
	if !removed {
		return false, nil
	}
	return true, l.Persist(id)
}

// ClearAll forgets the client entirely, including the durable record.
func (l *Ledger) ClearAll(id uuid.UUID) error {
	l.mu.Lock()
	if c := l.clients[id]; c != nil {
		c.entry = Entry{Positions: map[dimension.ID]SavedPosition{}}
		c.dirty = false
	}
	l.mu.Unlock()
	if err := l.store.Delete(id); err != nil {
		l.logger.Printf("ledger: delete %s: %v", id, err)
		return err
	}
	return nil
}

func (l *Ledger) UpdateLastKnown(id uuid.UUID, lk LastKnown) {
	l.mu.Lock()
	l.lastKnown[id] = lk
	l.mu.Unlock()
}

func (l *Ledger) LastKnown(id uuid.UUID) (LastKnown, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lk, ok := l.lastKnown[id]
	return lk, ok
}

// CaptureOrigin saves the cached pre-move pose when it was sampled in origin.
func (l *Ledger) CaptureOrigin(id uuid.UUID, origin dimension.ID) (voxel.Pose, bool) {
	cfg := l.cfg.Get()
	if cfg.IsHub(origin) {
		return voxel.Pose{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.lastKnown[id]
	if !ok || lk.Dimension != origin {
		return voxel.Pose{}, false
	}
	l.recordLocked(cfg, l.stateLocked(id), origin, lk.Pose)
	return lk.Pose, true
}

// Persist writes the entry when it changed since the last successful write.
// On failure the entry stays dirty so the next trigger retries.
func (l *Ledger) Persist(id uuid.UUID) error {
	l.mu.Lock()
	c := l.clients[id]
	if c == nil || !c.dirty {
		l.mu.Unlock()
		return nil
	}
	e := c.entry.Clone()
	c.dirty = false
	l.mu.Unlock()

	var err error
	if e.Empty() {
		err = l.store.Delete(id)
	} else {
		err = l.store.Save(id, e)
	}
	if err != nil {
		l.logger.Printf("ledger: persist %s: %v", id, err)
		l.mu.Lock()
		if c := l.clients[id]; c != nil {
			c.dirty = true
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Ledger) PersistAll() error {
	var errs []error
	for _, id := range l.Clients() {
		if err := l.Persist(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Disconnect saves the final pose unless dim is a hub, persists, and drops
// transient state. The entry stays in memory if the write failed.
func (l *Ledger) Disconnect(id uuid.UUID, dim dimension.ID, pose voxel.Pose) error {
	l.Save(id, dim, pose)
	err := l.Persist(id)
	l.mu.Lock()
	delete(l.lastKnown, id)
	if err == nil {
		delete(l.clients, id)
	}
	l.mu.Unlock()
	return err
}

// Clients lists ids with in-memory state, sorted.
func (l *Ledger) Clients() []uuid.UUID {
	l.mu.RLock()
	out := make([]uuid.UUID, 0, len(l.clients))
	for id := range l.clients {
		out = append(out, id)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
