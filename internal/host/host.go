// Package host is the contract between the orchestration core and the
// simulation that owns clients and dimensions.
package host

import (
	"errors"

	"github.com/google/uuid"

	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

var (
	ErrDimensionNotFound = errors.New("dimension not found")
	ErrMoveUnsupported   = errors.New("cross-dimension move unsupported")
	ErrClientGone        = errors.New("client not connected")
)

type GameMode string

const (
	Survival  GameMode = "survival"
	Creative  GameMode = "creative"
	Adventure GameMode = "adventure"
	Spectator GameMode = "spectator"
)

// Client is a point-in-time view of one connected client.
type Client struct {
	ID        uuid.UUID
	Name      string
	Dimension dimension.ID
	Pose      voxel.Pose
	Alive     bool
	GameMode  GameMode
	// ItemCooling is set while the client's teleport item is on cooldown,
	// which is how a thrown-item dimension hop is recognised.
	ItemCooling bool
}

// Task is a one-shot unit of work run at the start of the next host tick.
type Task interface {
	Name() string
	Run()
}

type TaskFunc struct {
	Label string
	Fn    func()
}

func (t TaskFunc) Name() string { return t.Label }
func (t TaskFunc) Run()         { t.Fn() }

// Server is everything the core needs from the host. Move keeps the
// client's coordinates and fires the host's own world-change handling
// before it returns.
type Server interface {
	Client(id uuid.UUID) (Client, bool)
	Clients() []Client
	World(dim dimension.ID) (voxel.Editor, bool)
	HasDimension(dim dimension.ID) bool

	Move(id uuid.UUID, dim dimension.ID) error
	Place(id uuid.UUID, pose voxel.Pose) error
	Schedule(t Task)
	Tick() int64

	Inventory(id uuid.UUID) (ledger.Inventory, error)
	SetInventory(id uuid.UUID, inv ledger.Inventory) error
	SetGameMode(id uuid.UUID, mode GameMode) error

	SpawnBoss(dim dimension.ID, at voxel.Vec3i) error
	// ClearBlocking removes non-client entities in a box of half-width
	// radius and height 2 at pose and reports how many went.
	ClearBlocking(dim dimension.ID, at voxel.Pose, radius float64) int
}
