package portal

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/host/hosttest"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

const (
	survival       dimension.ID = "mwp:survival"
	survivalNether dimension.ID = "mwp:survival_nether"
	survivalEnd    dimension.ID = "mwp:survival_end"
)

type fixture struct {
	cfg    config.Config
	host   *hosttest.Fake
	ledger *ledger.Ledger
	inv    *ledger.InventoryStore
	linker *Linker
	state  *State
}

func newFixture(t *testing.T, extra string) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(`
enable_portals: true
world_groups:
  - id: survival
    overworld: "mwp:survival"
    nether: "mwp:survival_nether"
    end: "mwp:survival_end"
    link_portals: {nether: true, end: true}
    inventory_profile: true
    create_portal_if_missing: true
portal:
  warmup_ticks: 3
  cooldown_ticks: 10
` + extra))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	src := config.Static(cfg)
	h := hosttest.New()
	for _, d := range []dimension.ID{survival, survivalNether, survivalEnd, dimension.Overworld, dimension.Nether} {
		h.AddWorld(d, nil)
	}
	fs, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "worldpositions"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	led := ledger.New(src, fs, nil)
	invStore := ledger.NewInventoryStore(filepath.Join(t.TempDir(), "inventories"))
	swap := inventory.NewSwapper(src, h, invStore, nil)
	return &fixture{
		cfg:    cfg,
		host:   h,
		ledger: led,
		inv:    invStore,
		linker: NewLinker(src, h, Options{Ledger: led, Inventory: swap}),
		state:  NewState(),
	}
}

func (f *fixture) world(t *testing.T, dim dimension.ID) voxel.Editor {
	t.Helper()
	w, ok := f.host.World(dim)
	if !ok {
		t.Fatalf("no world %s", dim)
	}
	return w
}

// standInPortal builds a lit frame at x=0..3, z=0 and puts a new client in it.
func (f *fixture) standInPortal(t *testing.T) uuid.UUID {
	t.Helper()
	if _, ok := geometry.BuildFrameAt(f.world(t, survival), voxel.Vec3i{X: 0, Y: 64, Z: 0}, voxel.AxisX); !ok {
		t.Fatalf("build frame")
	}
	id := uuid.New()
	f.host.Join(id, survival, voxel.Pose{X: 1.5, Y: 65, Z: 0.5})
	return id
}

func (f *fixture) tickN(n int) {
	for i := 0; i < n; i++ {
		f.linker.Tick(f.state)
		f.host.Advance(1)
	}
}

func dimOf(t *testing.T, f *fixture, id uuid.UUID) dimension.ID {
	t.Helper()
	c, ok := f.host.Client(id)
	if !ok {
		t.Fatalf("client %s gone", id)
	}
	return c.Dimension
}

func TestTick_WarmupThenTransfer(t *testing.T) {
	f := newFixture(t, "")
	id := f.standInPortal(t)
	_ = f.host.SetInventory(id, ledger.Inventory{Items: []ledger.Item{{Item: "minecraft:torch", Count: 16}}})

	f.tickN(2)
	if dimOf(t, f, id) != survival || f.state.Contact(id) != 2 || f.state.Phase(id, f.host.Tick(), 10) != Warming {
		t.Fatalf("transferred before warmup (contact %d)", f.state.Contact(id))
	}
	f.tickN(1)
	if got := dimOf(t, f, id); got != survivalNether {
		t.Fatalf("dimension = %s", got)
	}
	if !f.state.Marked(id) {
		t.Fatalf("suppression marker not set")
	}
	if dim, _ := f.ledger.LastGroupMember(id, "survival"); dim != survivalNether {
		t.Fatalf("last group member = %q", dim)
	}
	if _, ok, _ := f.inv.Load(id, "survival"); !ok {
		t.Fatalf("origin inventory not snapshotted")
	}
	if p, ok := f.ledger.Position(id, survival); !ok || p.X != 1.5 || p.Z != 0.5 {
		t.Fatalf("origin position not saved: %+v %v", p, ok)
	}

	if n := f.host.RunTasks(); n != 1 {
		t.Fatalf("ran %d tasks", n)
	}
	c, _ := f.host.Client(id)
	if _, ok := geometry.FindNearestPortalCell(f.world(t, survivalNether), c.Pose.Cell(), 4); !ok {
		t.Fatalf("arrival %v not next to a return portal", c.Pose)
	}
	if !geometry.IsSafeStandingCell(f.world(t, survivalNether), c.Pose.Cell()) {
		t.Fatalf("arrival %v not safe", c.Pose)
	}
}

func TestTick_SkipsUnrecognizedDimensions(t *testing.T) {
	f := newFixture(t, "")
	const lost dimension.ID = "mwp:lost"
	w := f.host.AddWorld(lost, nil)
	if _, ok := geometry.BuildFrameAt(w, voxel.Vec3i{X: 0, Y: 64, Z: 0}, voxel.AxisX); !ok {
		t.Fatalf("build frame")
	}
	id := uuid.New()
	f.host.Join(id, lost, voxel.Pose{X: 1.5, Y: 65, Z: 0.5})

	f.tickN(5)
	if got := dimOf(t, f, id); got != lost || f.state.Contact(id) != 0 {
		t.Fatalf("unrecognized dimension ticked: in %s, contact %d", got, f.state.Contact(id))
	}
}

func TestTick_CooldownBlocksImmediateReturn(t *testing.T) {
	f := newFixture(t, "")
	id := f.standInPortal(t)
	f.tickN(3)
	f.host.RunTasks()
	if dimOf(t, f, id) != survivalNether {
		t.Fatalf("first transfer did not happen")
	}
	f.state.Consume(id)

	nw := f.world(t, survivalNether)
	cell, ok := geometry.FindNearestPortalCell(nw, voxel.Vec3i{X: 0, Y: 65, Z: 0}, 16)
	if !ok {
		t.Fatalf("no return portal built")
	}
	f.host.Update(id, func(c *host.Client) { c.Pose = cell.Centre() })

	f.tickN(5)
	if dimOf(t, f, id) != survivalNether {
		t.Fatalf("re-transferred during cooldown")
	}
	if f.state.Phase(id, f.host.Tick(), 10) != Cooling {
		t.Fatalf("phase = %v", f.state.Phase(id, f.host.Tick(), 10))
	}

	f.host.Advance(10)
	f.tickN(1)
	if dimOf(t, f, id) != survival {
		t.Fatalf("no transfer after cooldown")
	}
}

func TestLinkedPose_ScaleInvariance(t *testing.T) {
	f := newFixture(t, "")
	g, _ := f.cfg.GroupByID("survival")
	in := voxel.Pose{X: 123.456, Y: 71.25, Z: -77.7, Yaw: 30}

	out := LinkedPose(g, survival, dimension.KindNether, in)
	if out.Y != in.Y || out.X != in.X*0.125 {
		t.Fatalf("outbound = %v", out)
	}
	back := LinkedPose(g, survivalNether, dimension.KindNether, out)
	if back.X != in.X || back.Y != in.Y || back.Z != in.Z {
		t.Fatalf("round trip = %v want %v", back, in)
	}
	if end := LinkedPose(g, survival, dimension.KindEnd, in); end != in {
		t.Fatalf("end transfer moved coordinates: %v", end)
	}
}

func TestTick_FailedMoveLeavesNoMarkerOrCooldown(t *testing.T) {
	f := newFixture(t, "")
	id := f.standInPortal(t)
	f.host.FailMoves(errors.New("move primitive unavailable"))

	f.tickN(3)
	if dimOf(t, f, id) != survival {
		t.Fatalf("moved despite failure")
	}
	if f.state.Marked(id) {
		t.Fatalf("marker left behind")
	}
	if f.state.Phase(id, f.host.Tick(), 10) == Cooling {
		t.Fatalf("cooldown set after failure")
	}
	if f.host.Pending() != 0 {
		t.Fatalf("task queued after failure")
	}

	f.host.FailMoves(nil)
	f.tickN(1)
	if dimOf(t, f, id) != survivalNether {
		t.Fatalf("retry on the next tick did not transfer")
	}
}

func TestPlacementTask_FallsBackToPlainPlacement(t *testing.T) {
	f := newFixture(t, "")
	id := f.standInPortal(t)
	f.tickN(3)
	f.host.RemoveWorld(survivalNether)

	f.host.RunTasks()
	c, _ := f.host.Client(id)
	want := voxel.Pose{X: 1.5 * 0.125, Y: 65, Z: 0.5 * 0.125}
	if c.Pose != want {
		t.Fatalf("fallback pose = %v want %v", c.Pose, want)
	}
}

func TestPlacementTask_ClientGoneIsNoop(t *testing.T) {
	f := newFixture(t, "")
	id := f.standInPortal(t)
	f.tickN(3)
	f.host.Leave(id)

	if n := f.host.RunTasks(); n != 1 {
		t.Fatalf("ran %d tasks", n)
	}
	if f.host.Placements(id) != 0 {
		t.Fatalf("placed a disconnected client")
	}
}

func TestTick_EndTransferBuildsPlatformAndSpawnsBossOnce(t *testing.T) {
	f := newFixture(t, "")
	f.world(t, survival).SetBlock(voxel.Vec3i{X: 5, Y: 63, Z: 5}, voxel.B(voxel.EndPortal))
	a, b := uuid.New(), uuid.New()
	f.host.Join(a, survival, voxel.Pose{X: 5.5, Y: 64, Z: 5.5})
	f.host.Join(b, survival, voxel.Pose{X: 5.5, Y: 64, Z: 5.5})

	f.tickN(1)
	if dimOf(t, f, a) != survivalEnd || dimOf(t, f, b) != survivalEnd {
		t.Fatalf("end transfer did not happen")
	}
	f.host.RunTasks()

	c, _ := f.host.Client(a)
	if c.Pose.Y != 64 || f.world(t, survivalEnd).Block(c.Pose.Cell().Down()).Material != voxel.EndStone {
		t.Fatalf("arrival %v not on the platform", c.Pose)
	}
	if got := f.host.Bosses(); len(got) != 1 || got[0] != survivalEnd {
		t.Fatalf("bosses = %v", got)
	}
}

func TestTick_UnlitFrameFallbackIsOptIn(t *testing.T) {
	build := func(f *fixture) uuid.UUID {
		w := f.world(t, survival)
		buildUnlit(w, voxel.Vec3i{X: 20, Y: 64, Z: 0})
		id := uuid.New()
		f.host.Join(id, survival, voxel.Pose{X: 21.5, Y: 65, Z: 0.5})
		return id
	}

	off := newFixture(t, "")
	id := build(off)
	off.tickN(3)
	if dimOf(t, off, id) != survival {
		t.Fatalf("unlit frame triggered with fallback disabled")
	}

	on := newFixture(t, "\n  fallback_detect_frames: true\n")
	id = build(on)
	on.tickN(3)
	if dimOf(t, on, id) != survivalNether {
		t.Fatalf("unlit frame ignored with fallback enabled")
	}
}

// buildUnlit places an obsidian 4x5 frame along X with its lower corner at c.
func buildUnlit(w voxel.Editor, c voxel.Vec3i) {
	for dx := 0; dx <= 3; dx++ {
		w.SetBlock(c.Add(dx, 0, 0), voxel.B(voxel.Obsidian))
		w.SetBlock(c.Add(dx, 4, 0), voxel.B(voxel.Obsidian))
	}
	for dy := 1; dy <= 3; dy++ {
		w.SetBlock(c.Add(0, dy, 0), voxel.B(voxel.Obsidian))
		w.SetBlock(c.Add(3, dy, 0), voxel.B(voxel.Obsidian))
	}
}
