// Package hostsim is a self-contained simulated host: dimensions backed by
// voxel stores, connected clients, entities and a fixed-rate tick loop.
package hostsim

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
	"worldmemory.ai/internal/transition"
)

const (
	DragonKind       = "minecraft:ender_dragon"
	itemCoolingTicks = 20
)

var ErrBusy = errors.New("hostsim: queue full")

// Handler receives the host's lifecycle callbacks. All of them run on the
// tick goroutine.
type Handler interface {
	OnJoin(id uuid.UUID) error
	OnLeave(id uuid.UUID) error
	OnTick()
	OnWorldChange(id uuid.UUID, from, to dimension.ID, originPose *voxel.Pose, cause transition.Cause) transition.Result
	OnRespawn(id uuid.UUID, from, to dimension.ID, alive bool) transition.Result
	OnUseItem(id uuid.UUID, item string, at, face voxel.Vec3i) bool
}

type Config struct {
	TickRateHz int
	Dimensions []dimension.ID
	// SpawnDimension receives first-time clients; RespawnDimension receives
	// the dead. Both default to the overworld, else the first dimension.
	SpawnDimension   dimension.ID
	RespawnDimension dimension.ID
}

// Notice is pushed to a client's Notify callback.
type Notice struct {
	Kind      string
	Tick      int64
	Dimension dimension.ID
	Pose      voxel.Pose
	Outcome   string
	Detail    string
}

const (
	NoticePlaced    = "placed"
	NoticeMoved     = "moved"
	NoticeDied      = "died"
	NoticeRespawned = "respawned"
	NoticeOutcome   = "outcome"
	NoticeItem      = "item"
)

type Entity struct {
	ID        int
	Dimension dimension.ID
	Kind      string
	Pose      voxel.Pose
}

type client struct {
	host.Client
	coolUntil int64
	notify    func(Notice)
}

type Server struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	handler  Handler
	worlds   map[dimension.ID]*voxel.Store
	clients  map[uuid.UUID]*client
	offline  map[uuid.UUID]host.Client
	inv      map[uuid.UUID]ledger.Inventory
	tasks    []host.Task
	entities []Entity
	nextEnt  int
	tick     int64

	join  chan joinReq
	leave chan uuid.UUID
	inbox chan Action
	calls chan call
	stop  chan struct{}
	once  sync.Once
}

func New(cfg Config, logger *log.Logger) *Server {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		worlds:  map[dimension.ID]*voxel.Store{},
		clients: map[uuid.UUID]*client{},
		offline: map[uuid.UUID]host.Client{},
		inv:     map[uuid.UUID]ledger.Inventory{},
		join:    make(chan joinReq, 64),
		leave:   make(chan uuid.UUID, 64),
		inbox:   make(chan Action, 1024),
		calls:   make(chan call, 64),
		stop:    make(chan struct{}),
	}
	for _, d := range cfg.Dimensions {
		s.AddDimension(d)
	}
	s.cfg.SpawnDimension = s.fallbackDimension(cfg.SpawnDimension)
	s.cfg.RespawnDimension = s.fallbackDimension(cfg.RespawnDimension)
	return s
}

func (s *Server) TickRateHz() int { return s.cfg.TickRateHz }

func (s *Server) fallbackDimension(d dimension.ID) dimension.ID {
	if d != "" && s.HasDimension(d) {
		return d
	}
	if s.HasDimension(dimension.Overworld) {
		return dimension.Overworld
	}
	if len(s.cfg.Dimensions) > 0 {
		return s.cfg.Dimensions[0]
	}
	return dimension.Overworld
}

// SetHandler installs the callbacks. It must be called before Run.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Server) handlerOrNil() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// AddDimension creates a preset-terrain dimension unless it already exists.
func (s *Server) AddDimension(d dimension.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[d]; ok || d == "" {
		return
	}
	kind := dimension.GuessKind(d)
	bounds, ok := dimension.VanillaBounds(d)
	if !ok {
		bounds = dimension.BoundsForKind(kind)
	}
	s.worlds[d] = voxel.NewTerrainStore(kind, bounds)
}

func (s *Server) DimensionIDs() []dimension.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dimension.ID, 0, len(s.worlds))
	for d := range s.worlds {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Server) Client(id uuid.UUID) (host.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.clients[id]
	if c == nil {
		return host.Client{}, false
	}
	return c.Client, true
}

func (s *Server) Clients() []host.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]host.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *Server) World(dim dimension.ID) (voxel.Editor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.worlds[dim]
	if !ok {
		return nil, false
	}
	return w, true
}

func (s *Server) HasDimension(dim dimension.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.worlds[dim]
	return ok
}

// Move changes the client's dimension keeping its coordinates and runs
// the world-change handling before returning.
func (s *Server) Move(id uuid.UUID, dim dimension.ID) error {
	return s.move(id, dim, transition.CauseWorldChange)
}

func (s *Server) move(id uuid.UUID, dim dimension.ID, cause transition.Cause) error {
	s.mu.Lock()
	c := s.clients[id]
	if c == nil {
		s.mu.Unlock()
		return host.ErrClientGone
	}
	if _, ok := s.worlds[dim]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", dim, host.ErrDimensionNotFound)
	}
	from, origin := c.Dimension, c.Pose
	c.Dimension = dim
	notify, tick, h := c.notify, s.tick, s.handler
	s.mu.Unlock()

	send(notify, Notice{Kind: NoticeMoved, Tick: tick, Dimension: dim, Pose: origin, Detail: string(from)})
	if h != nil && from != dim {
		res := h.OnWorldChange(id, from, dim, &origin, cause)
		s.notifyOutcome(id, res)
	}
	return nil
}

func (s *Server) Place(id uuid.UUID, pose voxel.Pose) error {
	s.mu.Lock()
	c := s.clients[id]
	if c == nil {
		s.mu.Unlock()
		return host.ErrClientGone
	}
	c.Pose = pose
	notify, tick, dim := c.notify, s.tick, c.Dimension
	s.mu.Unlock()
	send(notify, Notice{Kind: NoticePlaced, Tick: tick, Dimension: dim, Pose: pose})
	return nil
}

func (s *Server) Schedule(t host.Task) {
	if t == nil {
		return
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

func (s *Server) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

func (s *Server) Inventory(id uuid.UUID) (ledger.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[id] == nil {
		return ledger.Inventory{}, host.ErrClientGone
	}
	return s.inv[id].Clone(), nil
}

func (s *Server) SetInventory(id uuid.UUID, inv ledger.Inventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[id] == nil {
		return host.ErrClientGone
	}
	s.inv[id] = inv.Clone()
	return nil
}

func (s *Server) SetGameMode(id uuid.UUID, mode host.GameMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.clients[id]
	if c == nil {
		return host.ErrClientGone
	}
	c.GameMode = mode
	return nil
}

func (s *Server) SpawnBoss(dim dimension.ID, at voxel.Vec3i) error {
	if !s.HasDimension(dim) {
		return fmt.Errorf("%s: %w", dim, host.ErrDimensionNotFound)
	}
	s.AddEntity(dim, DragonKind, at.Centre())
	s.logger.Printf("hostsim: spawned %s in %s at %v", DragonKind, dim, at)
	return nil
}

// AddEntity places a non-client entity and returns its id.
func (s *Server) AddEntity(dim dimension.ID, kind string, pose voxel.Pose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEnt++
	s.entities = append(s.entities, Entity{ID: s.nextEnt, Dimension: dim, Kind: kind, Pose: pose})
	return s.nextEnt
}

func (s *Server) Entities(dim dimension.ID) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entity
	for _, e := range s.entities {
		if e.Dimension == dim {
			out = append(out, e)
		}
	}
	return out
}

// ClearBlocking removes every entity except bosses inside the box.
func (s *Server) ClearBlocking(dim dimension.ID, at voxel.Pose, radius float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entities[:0]
	removed := 0
	for _, e := range s.entities {
		inside := e.Dimension == dim &&
			math.Abs(e.Pose.X-at.X) <= radius &&
			math.Abs(e.Pose.Z-at.Z) <= radius &&
			e.Pose.Y >= at.Y && e.Pose.Y < at.Y+2
		if inside && e.Kind != DragonKind {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entities = kept
	return removed
}

// Kill marks the client dead where it stands.
func (s *Server) Kill(id uuid.UUID) error {
	s.mu.Lock()
	c := s.clients[id]
	if c == nil {
		s.mu.Unlock()
		return host.ErrClientGone
	}
	c.Alive = false
	notify, tick, dim, pose := c.notify, s.tick, c.Dimension, c.Pose
	s.mu.Unlock()
	send(notify, Notice{Kind: NoticeDied, Tick: tick, Dimension: dim, Pose: pose})
	return nil
}

// Respawn brings a dead client back at the respawn dimension's spawn and
// reports it as a death respawn.
func (s *Server) Respawn(id uuid.UUID) error {
	s.mu.Lock()
	c := s.clients[id]
	if c == nil {
		s.mu.Unlock()
		return host.ErrClientGone
	}
	if c.Alive {
		s.mu.Unlock()
		return nil
	}
	to := s.cfg.RespawnDimension
	w := s.worlds[to]
	if w == nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", to, host.ErrDimensionNotFound)
	}
	from := c.Dimension
	c.Dimension = to
	c.Pose = geometry.SpawnPose(w, c.Pose)
	c.Alive = true
	notify, tick, pose, h := c.notify, s.tick, c.Pose, s.handler
	s.mu.Unlock()

	send(notify, Notice{Kind: NoticeRespawned, Tick: tick, Dimension: to, Pose: pose})
	if h != nil {
		s.notifyOutcome(id, h.OnRespawn(id, from, to, false))
	}
	return nil
}

func (s *Server) notifyOutcome(id uuid.UUID, res transition.Result) {
	s.mu.Lock()
	c := s.clients[id]
	if c == nil {
		s.mu.Unlock()
		return
	}
	n := Notice{Kind: NoticeOutcome, Tick: s.tick, Dimension: res.Final, Pose: res.Pose, Outcome: res.Outcome.String()}
	if res.Err != nil {
		n.Detail = res.Err.Error()
	}
	notify := c.notify
	s.mu.Unlock()
	send(notify, n)
}

func send(fn func(Notice), n Notice) {
	if fn != nil {
		fn(n)
	}
}
