package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/persistence/snapshot"
)

type Item struct {
	Slot  int    `json:"slot"`
	Item  string `json:"item"`
	Count int    `json:"count"`
	Tag   string `json:"tag,omitempty"`
}

// Inventory is what a client carries: items by slot plus experience.
type Inventory struct {
	Items      []Item  `json:"items"`
	XPLevel    int     `json:"xpLevel"`
	XPProgress float32 `json:"xpProgress"`
}

func (inv Inventory) Clone() Inventory {
	inv.Items = append([]Item(nil), inv.Items...)
	return inv
}

// InventoryStore keeps one compressed snapshot per client and inventory
// group under <dir>/<uuid>/<group>.inv.zst.
type InventoryStore struct {
	dir string
	now func() time.Time
}

func NewInventoryStore(dir string) *InventoryStore {
	return &InventoryStore{dir: dir, now: time.Now}
}

func (s *InventoryStore) path(id uuid.UUID, group string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(group)
	return filepath.Join(s.dir, id.String(), safe+".inv.zst")
}

func (s *InventoryStore) Save(id uuid.UUID, group string, inv Inventory) error {
	snap := snapshot.InventoryV1{
		Header: snapshot.Header{
			Version:  snapshot.Version,
			ClientID: id.String(),
			Group:    group,
			SavedAt:  s.now().UnixMilli(),
		},
		XPLevel:    inv.XPLevel,
		XPProgress: inv.XPProgress,
	}
	for _, it := range inv.Items {
		snap.Items = append(snap.Items, snapshot.ItemV1{Slot: it.Slot, Item: it.Item, Count: it.Count, Tag: it.Tag})
	}
	return snapshot.WriteInventory(s.path(id, group), snap)
}

// Load reports false when no snapshot exists for the group.
func (s *InventoryStore) Load(id uuid.UUID, group string) (Inventory, bool, error) {
	snap, err := snapshot.ReadInventory(s.path(id, group))
	if errors.Is(err, os.ErrNotExist) {
		return Inventory{}, false, nil
	}
	if err != nil {
		return Inventory{}, false, err
	}
	inv := Inventory{XPLevel: snap.XPLevel, XPProgress: snap.XPProgress}
	for _, it := range snap.Items {
		inv.Items = append(inv.Items, Item{Slot: it.Slot, Item: it.Item, Count: it.Count, Tag: it.Tag})
	}
	return inv, true, nil
}

// Delete drops every snapshot of the client.
func (s *InventoryStore) Delete(id uuid.UUID) error {
	return os.RemoveAll(filepath.Join(s.dir, id.String()))
}
