package hostsim

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/multiworld"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
	"worldmemory.ai/internal/transition"
)

type change struct {
	from, to dimension.ID
	origin   voxel.Pose
	cause    transition.Cause
	alive    bool
}

type recHandler struct {
	mu      sync.Mutex
	joins   []uuid.UUID
	leaves  []uuid.UUID
	changes []change
	ticks   int
	items   []string
	present func(uuid.UUID) bool
	seen    []bool
}

func (h *recHandler) OnJoin(id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins = append(h.joins, id)
	return nil
}

func (h *recHandler) OnLeave(id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaves = append(h.leaves, id)
	if h.present != nil {
		h.seen = append(h.seen, h.present(id))
	}
	return nil
}

func (h *recHandler) OnTick() {
	h.mu.Lock()
	h.ticks++
	h.mu.Unlock()
}

func (h *recHandler) OnWorldChange(id uuid.UUID, from, to dimension.ID, origin *voxel.Pose, cause transition.Cause) transition.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change{from: from, to: to, origin: *origin, cause: cause, alive: true})
	return transition.Result{Outcome: transition.Restored, Final: to}
}

func (h *recHandler) OnRespawn(id uuid.UUID, from, to dimension.ID, alive bool) transition.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change{from: from, to: to, cause: transition.CauseRespawn, alive: alive})
	return transition.Result{Outcome: transition.VanillaHonored, Final: to}
}

func (h *recHandler) OnUseItem(id uuid.UUID, item string, at, face voxel.Vec3i) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	return true
}

func newTestServer(t *testing.T) (*Server, *recHandler) {
	t.Helper()
	s := New(Config{Dimensions: []dimension.ID{dimension.Overworld, dimension.Nether, "mwp:survival"}}, nil)
	h := &recHandler{}
	s.SetHandler(h)
	return s, h
}

func TestJoin_NewAndReturningClients(t *testing.T) {
	s, h := newTestServer(t)
	resp := s.JoinNow(JoinRequest{Name: "alex"})
	if resp.Err != nil || resp.Dimension != dimension.Overworld || resp.Pose.X != 0.5 || resp.Pose.Y != 64 {
		t.Fatalf("join = %+v", resp)
	}
	id := resp.ID
	if err := s.Place(id, voxel.Pose{X: 7.5, Y: 64, Z: 7.5}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := s.Move(id, "mwp:survival"); err != nil {
		t.Fatalf("move: %v", err)
	}

	h.present = func(id uuid.UUID) bool { _, ok := s.Client(id); return ok }
	s.LeaveNow(id)
	if _, ok := s.Client(id); ok {
		t.Fatalf("client still connected")
	}
	if len(h.seen) != 1 || !h.seen[0] {
		t.Fatalf("leave handler ran after removal")
	}

	again := s.JoinNow(JoinRequest{ID: id})
	if again.Dimension != "mwp:survival" || again.Pose.X != 7.5 {
		t.Fatalf("rejoin = %+v", again)
	}
	if len(h.joins) != 2 {
		t.Fatalf("joins = %d", len(h.joins))
	}
	if dup := s.JoinNow(JoinRequest{ID: id}); dup.Err == nil {
		t.Fatalf("duplicate join accepted")
	}
}

func TestMove_FiresWorldChangeWithOriginPose(t *testing.T) {
	s, h := newTestServer(t)
	var notices []Notice
	id := s.JoinNow(JoinRequest{Notify: func(n Notice) { notices = append(notices, n) }}).ID
	_ = s.Place(id, voxel.Pose{X: 3.5, Y: 64, Z: -2.5, Yaw: 90})

	if err := s.Move(id, dimension.Nether); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(h.changes) != 1 {
		t.Fatalf("changes = %+v", h.changes)
	}
	ch := h.changes[0]
	if ch.from != dimension.Overworld || ch.to != dimension.Nether || ch.origin.X != 3.5 || ch.cause != transition.CauseWorldChange {
		t.Fatalf("change = %+v", ch)
	}
	if c, _ := s.Client(id); c.Pose.X != 3.5 || c.Dimension != dimension.Nether {
		t.Fatalf("coordinates not kept: %+v", c)
	}
	last := notices[len(notices)-1]
	if last.Kind != NoticeOutcome || last.Outcome != "restored" {
		t.Fatalf("last notice = %+v", last)
	}

	if err := s.Move(id, "mwp:missing"); err == nil {
		t.Fatalf("move to missing dimension accepted")
	}
}

func TestTravel_PortalCause(t *testing.T) {
	s, h := newTestServer(t)
	id := s.JoinNow(JoinRequest{}).ID
	w, _ := s.World(dimension.Overworld)
	fb, ok := geometry.BuildFrameAt(w, voxel.Vec3i{X: 10, Y: 64, Z: 10}, voxel.AxisX)
	if !ok {
		t.Fatalf("build frame")
	}
	_ = s.Apply(Action{Client: id, Kind: ActMove, Pose: fb.Cell(fb.MinA, fb.MinY).Centre()})
	if err := s.Apply(Action{Client: id, Kind: ActTravel, Dimension: "the_nether"}); err != nil {
		t.Fatalf("travel: %v", err)
	}
	if len(h.changes) != 1 || h.changes[0].cause != transition.CausePortal || h.changes[0].to != dimension.Nether {
		t.Fatalf("changes = %+v", h.changes)
	}
}

func TestDie_RespawnsInRespawnDimension(t *testing.T) {
	s, h := newTestServer(t)
	id := s.JoinNow(JoinRequest{}).ID
	_ = s.Move(id, "mwp:survival")
	_ = s.Place(id, voxel.Pose{X: 40.5, Y: 64, Z: 40.5})

	if err := s.Apply(Action{Client: id, Kind: ActDie}); err != nil {
		t.Fatalf("die: %v", err)
	}
	c, _ := s.Client(id)
	if !c.Alive || c.Dimension != dimension.Overworld || c.Pose.X != 0.5 {
		t.Fatalf("respawned = %+v", c)
	}
	last := h.changes[len(h.changes)-1]
	if last.cause != transition.CauseRespawn || last.alive || last.from != "mwp:survival" {
		t.Fatalf("respawn event = %+v", last)
	}
}

func TestStep_RunsTasksFirstAndRecoversPanics(t *testing.T) {
	s, h := newTestServer(t)
	var order []string
	s.Schedule(host.TaskFunc{Label: "boom", Fn: func() { panic("bad task") }})
	s.Schedule(host.TaskFunc{Label: "ok", Fn: func() {
		order = append(order, "task")
		if h.ticks != 0 {
			order = append(order, "late")
		}
	}})
	s.Step()
	if len(order) != 1 || order[0] != "task" || h.ticks != 1 || s.Tick() != 1 || s.Pending() != 0 {
		t.Fatalf("order=%v ticks=%d tick=%d pending=%d", order, h.ticks, s.Tick(), s.Pending())
	}
}

func TestUse_TeleportItemCoolsDown(t *testing.T) {
	s, h := newTestServer(t)
	id := s.JoinNow(JoinRequest{}).ID
	_ = s.Apply(Action{Client: id, Kind: ActUse, Item: "minecraft:ender_pearl"})
	if c, _ := s.Client(id); !c.ItemCooling {
		t.Fatalf("item cooldown not set")
	}
	for i := 0; i <= itemCoolingTicks; i++ {
		s.Step()
	}
	if c, _ := s.Client(id); c.ItemCooling {
		t.Fatalf("item cooldown not cleared")
	}
	_ = s.Apply(Action{Client: id, Kind: ActIgnite, At: voxel.Vec3i{Y: 63}})
	if len(h.items) != 2 || h.items[1] != FlintAndSteel {
		t.Fatalf("items = %v", h.items)
	}
}

func TestClearBlocking_KeepsBoss(t *testing.T) {
	s, _ := newTestServer(t)
	at := voxel.Pose{X: 0.5, Y: 64, Z: 0.5}
	s.AddEntity(dimension.Overworld, "minecraft:zombie", at)
	s.AddEntity(dimension.Overworld, "minecraft:zombie", voxel.Pose{X: 9, Y: 64, Z: 9})
	_ = s.SpawnBoss(dimension.Overworld, voxel.Vec3i{Y: 64})

	if n := s.ClearBlocking(dimension.Overworld, at, 0.75); n != 1 {
		t.Fatalf("cleared %d", n)
	}
	if got := s.Entities(dimension.Overworld); len(got) != 2 {
		t.Fatalf("entities = %+v", got)
	}
}

func TestRun_JoinCallAndStop(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.TickRateHz = 200
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	resp, err := s.Join(ctx, JoinRequest{Name: "steve"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	var count int
	if err := s.Call(ctx, func() { count = len(s.Clients()) }); err != nil || count != 1 {
		t.Fatalf("call = %d %v", count, err)
	}
	if err := s.Submit(Action{Client: resp.ID, Kind: ActMove, Pose: voxel.Pose{X: 2.5, Y: 64, Z: 2.5}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestIntegration_NetherPortalWalkThrough(t *testing.T) {
	cfg, err := config.Parse([]byte(`
enable_portals: true
world_groups:
  - id: survival
    overworld: "mwp:survival"
    nether: "mwp:survival_nether"
    link_portals: {nether: true}
portal:
  warmup_ticks: 2
  cooldown_ticks: 40
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	src := config.Static(cfg)
	s := New(Config{Dimensions: cfg.Dimensions()}, nil)
	fs, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "worldpositions"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	led := ledger.New(src, fs, nil)
	mgr, err := multiworld.NewManager(src, s, multiworld.Options{
		Ledger:    led,
		Inventory: inventory.NewSwapper(src, s, ledger.NewInventoryStore(t.TempDir()), nil),
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer mgr.Close()
	s.SetHandler(mgr)

	var mu sync.Mutex
	var outcomes []string
	id := s.JoinNow(JoinRequest{Notify: func(n Notice) {
		if n.Kind == NoticeOutcome {
			mu.Lock()
			outcomes = append(outcomes, n.Outcome)
			mu.Unlock()
		}
	}}).ID
	if err := s.Move(id, "mwp:survival"); err != nil {
		t.Fatalf("move: %v", err)
	}
	w, _ := s.World("mwp:survival")
	fb, ok := geometry.BuildFrameAt(w, voxel.Vec3i{X: 16, Y: 64, Z: 16}, voxel.AxisX)
	if !ok {
		t.Fatalf("build frame")
	}
	_ = s.Apply(Action{Client: id, Kind: ActMove, Pose: fb.Cell(fb.MinA, fb.MinY).Centre()})

	for i := 0; i < 5; i++ {
		s.Step()
	}
	c, _ := s.Client(id)
	if c.Dimension != "mwp:survival_nether" {
		t.Fatalf("client in %s", c.Dimension)
	}
	nw, _ := s.World("mwp:survival_nether")
	if !geometry.IsSafeStandingCell(nw, c.Pose.Cell()) && !geometry.IsNetherPortalCell(nw, c.Pose.Cell()) {
		t.Fatalf("unsafe arrival at %s", c.Pose)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) < 2 || outcomes[len(outcomes)-1] != "suppressed" {
		t.Fatalf("outcomes = %v", outcomes)
	}
}
