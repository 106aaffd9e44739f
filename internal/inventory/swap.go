// Package inventory moves a client's carried items in and out of per-group
// snapshots as they cross group boundaries.
package inventory

import (
	"io"
	"log"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
)

// Store is the snapshot persistence the swapper needs; ledger.InventoryStore
// satisfies it.
type Store interface {
	Save(id uuid.UUID, group string, inv ledger.Inventory) error
	Load(id uuid.UUID, group string) (ledger.Inventory, bool, error)
}

type Swapper struct {
	cfg    config.Source
	host   host.Server
	store  Store
	logger *log.Logger
}

func NewSwapper(cfg config.Source, h host.Server, store Store, logger *log.Logger) *Swapper {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Swapper{cfg: cfg, host: h, store: store, logger: logger}
}

// SaveFor snapshots the client's current inventory under dim's inventory
// group when that group is profiled.
func (s *Swapper) SaveFor(id uuid.UUID, dim dimension.ID) bool {
	if s == nil || s.store == nil {
		return false
	}
	group, profiled := s.cfg.Get().InventoryGroup(dim)
	if !profiled {
		return false
	}
	inv, err := s.host.Inventory(id)
	if err != nil {
		s.logger.Printf("inventory: read %s: %v", id, err)
		return false
	}
	if err := s.store.Save(id, group, inv); err != nil {
		s.logger.Printf("inventory: save %s/%s: %v", id, group, err)
		return false
	}
	s.debugf("inventory: saved %s for %s (%d items)", group, id, len(inv.Items))
	return true
}

// LoadFor replaces the client's inventory with dim's group snapshot. A
// missing snapshot leaves the inventory alone.
func (s *Swapper) LoadFor(id uuid.UUID, dim dimension.ID) bool {
	if s == nil || s.store == nil {
		return false
	}
	group, profiled := s.cfg.Get().InventoryGroup(dim)
	if !profiled {
		return false
	}
	inv, ok, err := s.store.Load(id, group)
	if err != nil {
		s.logger.Printf("inventory: load %s/%s: %v", id, group, err)
		return false
	}
	if !ok {
		return false
	}
	if err := s.host.SetInventory(id, inv); err != nil {
		s.logger.Printf("inventory: apply %s/%s: %v", id, group, err)
		return false
	}
	s.debugf("inventory: loaded %s for %s (%d items)", group, id, len(inv.Items))
	return true
}

// Swap saves the origin group and loads the destination group when a move
// crosses inventory groups.
func (s *Swapper) Swap(id uuid.UUID, from, to dimension.ID) {
	if s == nil {
		return
	}
	cfg := s.cfg.Get()
	fromGroup, _ := cfg.InventoryGroup(from)
	toGroup, _ := cfg.InventoryGroup(to)
	if fromGroup == toGroup {
		return
	}
	s.SaveFor(id, from)
	s.LoadFor(id, to)
}

func (s *Swapper) debugf(format string, args ...any) {
	if s.cfg.Get().Debug {
		s.logger.Printf(format, args...)
	}
}
