package transition

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/host/hosttest"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/portal"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

const (
	survival       dimension.ID = "mwp:survival"
	survivalNether dimension.ID = "mwp:survival_nether"
	hub            dimension.ID = "multiverse:spawn"
)

var home = voxel.Pose{X: 10.5, Y: 64, Z: -3.5, Yaw: 90, Pitch: 0}

type recorder struct {
	events  []Event
	results []Result
}

func (r *recorder) ObserveOutcome(ev Event, res Result) {
	r.events = append(r.events, ev)
	r.results = append(r.results, res)
}

type fixture struct {
	host   *hosttest.Fake
	ledger *ledger.Ledger
	state  *portal.State
	orch   *Orchestrator
	obs    *recorder
	now    time.Time
}

func newFixture(t *testing.T, extra string) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(`
hub_dimensions: ["multiverse:spawn"]
world_groups:
  - id: survival
    overworld: "mwp:survival"
    nether: "mwp:survival_nether"
    link_portals: {nether: true}
    inventory_profile: true
    spawn: {x: 100.5, y: 64, z: 100.5}
` + extra))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	src := config.Static(cfg)
	h := hosttest.New()
	for _, d := range []dimension.ID{dimension.Overworld, dimension.Nether, dimension.End, survival, survivalNether, hub} {
		h.AddWorld(d, nil)
	}
	fs, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "worldpositions"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	led := ledger.New(src, fs, nil)
	swap := inventory.NewSwapper(src, h, ledger.NewInventoryStore(filepath.Join(t.TempDir(), "inventories")), nil)
	st := portal.NewState()
	f := &fixture{
		host:   h,
		ledger: led,
		state:  st,
		obs:    &recorder{},
		now:    time.Unix(1700000000, 0),
	}
	f.orch = New(src, h, Options{
		Ledger:    led,
		State:     st,
		Linker:    portal.NewLinker(src, h, portal.Options{Ledger: led, Inventory: swap}),
		Inventory: swap,
		Observer:  f.obs,
		Clock:     func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) join(t *testing.T, dim dimension.ID, pose voxel.Pose) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.host.Join(id, dim, pose)
	if err := f.ledger.Load(id); err != nil {
		t.Fatalf("load: %v", err)
	}
	return id
}

// travel samples the client the way a tick would, moves it like the host
// does, then reports the change.
func (f *fixture) travel(t *testing.T, id uuid.UUID, dest dimension.ID, cause Cause) Result {
	t.Helper()
	c, ok := f.host.Client(id)
	if !ok {
		t.Fatalf("client %s gone", id)
	}
	f.ledger.UpdateLastKnown(id, ledger.LastKnown{Dimension: c.Dimension, Pose: c.Pose})
	if err := f.host.Move(id, dest); err != nil {
		t.Fatalf("move: %v", err)
	}
	return f.orch.Handle(Event{Client: id, Origin: c.Dimension, Destination: dest, Cause: cause, Alive: true})
}

func (f *fixture) moveTo(id uuid.UUID, pose voxel.Pose) {
	f.host.Update(id, func(c *host.Client) { c.Pose = pose })
}

func (f *fixture) client(t *testing.T, id uuid.UUID) host.Client {
	t.Helper()
	c, ok := f.host.Client(id)
	if !ok {
		t.Fatalf("client %s gone", id)
	}
	return c
}

func TestRoundTrip_RestoresExactPose(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.Overworld, home)

	res := f.travel(t, id, survival, CauseCommand)
	if res.Outcome != SpawnPlaced || res.Final != survival {
		t.Fatalf("first visit = %+v", res)
	}
	if c := f.client(t, id); c.Pose.X != 100.5 || c.Pose.Z != 100.5 || c.Pose.Yaw != 90 {
		t.Fatalf("group spawn pose = %s", c.Pose)
	}

	f.moveTo(id, voxel.Pose{X: 50.5, Y: 64, Z: 50.5})
	res = f.travel(t, id, dimension.Overworld, CauseCommand)
	if res.Outcome != Restored || res.Final != dimension.Overworld {
		t.Fatalf("return = %+v", res)
	}
	if c := f.client(t, id); c.Pose != home || c.Dimension != dimension.Overworld {
		t.Fatalf("restored at %s in %s, want %s", c.Pose, c.Dimension, home)
	}
	if p, ok := f.ledger.Position(id, survival); !ok || p.X != 50.5 {
		t.Fatalf("survival position = %+v %v", p, ok)
	}
}

func TestHandle_Idempotent(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.Overworld, home)
	f.travel(t, id, survival, CauseCommand)
	f.moveTo(id, voxel.Pose{X: 50.5, Y: 64, Z: 50.5})
	first := f.travel(t, id, dimension.Overworld, CauseCommand)

	again := f.orch.Handle(Event{Client: id, Origin: survival, Destination: dimension.Overworld, Cause: CauseCommand, Alive: true})
	if again.Outcome != first.Outcome || again.Pose != first.Pose || again.Final != first.Final {
		t.Fatalf("second handle = %+v, first = %+v", again, first)
	}
}

func TestRedirect_ToLastDefaultWithDebounce(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.Overworld, home)
	f.travel(t, id, survival, CauseCommand)

	res := f.travel(t, id, dimension.Nether, CauseWorldChange)
	if res.Outcome != Redirected || res.Final != dimension.Overworld {
		t.Fatalf("redirect = %+v", res)
	}
	if c := f.client(t, id); c.Dimension != dimension.Overworld || c.Pose != home {
		t.Fatalf("client after redirect in %s at %s", c.Dimension, c.Pose)
	}

	// A second attempt inside the window is honoured without redirect.
	f.travel(t, id, survival, CauseCommand)
	f.now = f.now.Add(200 * time.Millisecond)
	res = f.travel(t, id, dimension.Nether, CauseWorldChange)
	if res.Outcome != SpawnPlaced || res.Final != dimension.Nether {
		t.Fatalf("debounced = %+v", res)
	}

	f.travel(t, id, dimension.Overworld, CauseCommand)
	f.travel(t, id, survival, CauseCommand)
	f.now = f.now.Add(500 * time.Millisecond)
	if res := f.travel(t, id, dimension.Nether, CauseWorldChange); res.Outcome != Redirected || res.Final != dimension.Overworld {
		t.Fatalf("after window = %+v", res)
	}
}

func TestRedirect_FailOpenRestoresInDestination(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.Overworld, home)
	f.travel(t, id, survival, CauseCommand)
	f.host.RemoveWorld(dimension.Overworld)

	res := f.travel(t, id, dimension.Nether, CauseWorldChange)
	if res.Outcome != SpawnPlaced || res.Final != dimension.Nether {
		t.Fatalf("fail open = %+v", res)
	}
	if !errors.Is(res.Err, host.ErrDimensionNotFound) {
		t.Fatalf("err = %v", res.Err)
	}
	if c := f.client(t, id); c.Dimension != dimension.Nether {
		t.Fatalf("client in %s", c.Dimension)
	}
}

func TestRedirect_FailClosedLeavesHostPlacement(t *testing.T) {
	f := newFixture(t, "fail_open_on_move_error: false\n")
	id := f.join(t, dimension.Overworld, home)
	f.travel(t, id, survival, CauseCommand)
	f.host.RemoveWorld(dimension.Overworld)
	f.moveTo(id, voxel.Pose{X: 3.5, Y: 64, Z: 3.5})
	placed := f.host.Placements(id)

	res := f.travel(t, id, dimension.Nether, CauseWorldChange)
	if res.Outcome != VanillaHonored || res.Err == nil {
		t.Fatalf("fail closed = %+v", res)
	}
	if f.host.Placements(id) != placed {
		t.Fatalf("client was placed after a refused redirect")
	}
}

func TestSuppressionMarker_SkipsRestoreOnce(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, survival, voxel.Pose{X: 5.5, Y: 64, Z: 5.5})
	f.travel(t, id, dimension.Overworld, CauseCommand)
	f.ledger.Save(id, survival, voxel.Pose{X: 5.5, Y: 64, Z: 5.5})

	f.state.Mark(id)
	arrival := voxel.Pose{X: 8.5, Y: 64, Z: 8.5}
	f.moveTo(id, arrival)
	res := f.travel(t, id, survival, CausePortal)
	if res.Outcome != Suppressed || res.Pose != arrival {
		t.Fatalf("suppressed = %+v", res)
	}
	if f.state.Marked(id) {
		t.Fatalf("marker not consumed")
	}
	if res := f.travel(t, id, dimension.Overworld, CauseCommand); res.Outcome == Suppressed {
		t.Fatalf("marker applied twice")
	}
}

func TestHostPortalTransfer_Suppressed(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, survival, voxel.Pose{X: 5.5, Y: 64, Z: 5.5})
	f.ledger.Save(id, survivalNether, voxel.Pose{X: 1.5, Y: 64, Z: 1.5})
	f.ledger.UpdateLastKnown(id, ledger.LastKnown{Dimension: survival, Pose: voxel.Pose{X: 5.5, Y: 64, Z: 5.5}, InNetherPortal: true})
	if err := f.host.Move(id, survivalNether); err != nil {
		t.Fatalf("move: %v", err)
	}
	res := f.orch.Handle(Event{Client: id, Origin: survival, Destination: survivalNether, Cause: CausePortal, Alive: true})
	if res.Outcome != Suppressed {
		t.Fatalf("host transfer = %+v", res)
	}
}

func TestEndExitAndDeath_HonourHostPlacement(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.End, voxel.Pose{X: 0.5, Y: 64, Z: 0.5})
	f.ledger.Save(id, dimension.Overworld, home)

	arrival := voxel.Pose{X: 30.5, Y: 64, Z: 30.5}
	f.moveTo(id, arrival)
	res := f.travel(t, id, dimension.Overworld, CausePortal)
	if res.Outcome != VanillaHonored || res.Pose != arrival {
		t.Fatalf("end exit = %+v", res)
	}
	if p, _ := f.ledger.Position(id, dimension.Overworld); p.Pose() != arrival {
		t.Fatalf("end exit not recorded: %+v", p)
	}

	f.ledger.Save(id, survival, home)
	respawn := voxel.Pose{X: -20.5, Y: 64, Z: 4.5}
	f.host.Update(id, func(c *host.Client) { c.Dimension = survival; c.Pose = respawn })
	res = f.orch.Handle(Event{Client: id, Origin: dimension.Overworld, Destination: survival, Cause: CauseRespawn, Alive: false})
	if res.Outcome != VanillaHonored || res.Pose != respawn {
		t.Fatalf("death = %+v", res)
	}
	if p, _ := f.ledger.Position(id, survival); p.Pose() != respawn {
		t.Fatalf("respawn not recorded: %+v", p)
	}
}

func TestHub_Skipped(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.Overworld, home)
	res := f.travel(t, id, hub, CauseCommand)
	if res.Outcome != SkippedHub || f.host.Placements(id) != 0 {
		t.Fatalf("hub = %+v placements=%d", res, f.host.Placements(id))
	}
	if _, ok := f.ledger.Position(id, hub); ok {
		t.Fatalf("hub position saved")
	}

	// Leaving the hub does not record where the client stood in it.
	f.moveTo(id, voxel.Pose{X: 70.5, Y: 64, Z: 70.5})
	res = f.travel(t, id, dimension.Overworld, CauseCommand)
	if res.Outcome != Restored || res.Pose != home {
		t.Fatalf("leave hub = %+v", res)
	}
	if _, ok := f.ledger.Position(id, hub); ok {
		t.Fatalf("hub position saved on exit")
	}
}

func TestRestore_MaxDistanceKeepsHostPose(t *testing.T) {
	f := newFixture(t, "max_teleport_distance: 10\n")
	id := f.join(t, dimension.Overworld, home)
	f.ledger.Save(id, survival, voxel.Pose{X: 500.5, Y: 64, Z: 500.5})

	arrival := voxel.Pose{X: 1.5, Y: 64, Z: 1.5}
	f.host.Update(id, func(c *host.Client) { c.Pose = arrival })
	res := f.travel(t, id, survival, CauseCommand)
	if res.Outcome != Restored || res.Pose != arrival {
		t.Fatalf("restore = %+v", res)
	}
}

func TestRestore_ClampsYIntoWorld(t *testing.T) {
	f := newFixture(t, "restore: {use_safe_location: false}\n")
	id := f.join(t, dimension.Overworld, home)
	f.ledger.Save(id, survival, voxel.Pose{X: 2.5, Y: 9000, Z: 2.5})

	res := f.travel(t, id, survival, CauseCommand)
	if res.Outcome != Restored {
		t.Fatalf("restore = %+v", res)
	}
	w, _ := f.host.World(survival)
	_, maxY := w.VerticalBounds()
	if c := f.client(t, id); c.Pose.Y > float64(maxY-2) || c.Pose.X != 2.5 {
		t.Fatalf("clamped restore landed at %s", c.Pose)
	}
}

func TestCorrection_RedirectsDefaultNetherArrival(t *testing.T) {
	f := newFixture(t, "enable_portals: true\n")
	id := f.join(t, survival, voxel.Pose{X: 40.5, Y: 64, Z: -20.5})
	f.ledger.UpdateLastKnown(id, ledger.LastKnown{Dimension: survival, Pose: voxel.Pose{X: 40.5, Y: 64, Z: -20.5}, InNetherPortal: true})
	if err := f.host.Move(id, dimension.Nether); err != nil {
		t.Fatalf("move: %v", err)
	}
	res := f.orch.Handle(Event{Client: id, Origin: survival, Destination: dimension.Nether, Cause: CausePortal, Alive: true})
	if res.Outcome != Corrected || res.Final != survivalNether {
		t.Fatalf("correction = %+v", res)
	}
	if !f.state.Marked(id) || f.host.Pending() != 1 {
		t.Fatalf("marker=%v pending=%d", f.state.Marked(id), f.host.Pending())
	}
}

// reportMoves makes the fake host report every move synchronously with the
// pre-move pose, the way the simulated host does. The first move carries
// cause; later ones are plain world changes.
func (f *fixture) reportMoves(cause Cause) *[]Result {
	var results []Result
	f.host.OnMove = func(id uuid.UUID, from, to dimension.ID) {
		c, _ := f.host.Client(id)
		pose := c.Pose
		ev := Event{Client: id, Origin: from, Destination: to, Cause: cause, Alive: true, OriginPose: &pose}
		cause = CauseWorldChange
		results = append(results, f.orch.Handle(ev))
	}
	return &results
}

func TestCorrection_NestedMoveLeavesDefaultNetherUntouched(t *testing.T) {
	f := newFixture(t, "enable_portals: true\n")
	start := voxel.Pose{X: 400.5, Y: 64, Z: -200.5}
	id := f.join(t, survival, start)
	results := f.reportMoves(CausePortal)

	if err := f.host.Move(id, dimension.Nether); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := f.client(t, id).Dimension; got != survivalNether {
		t.Fatalf("client now in %s", got)
	}
	if len(*results) != 2 || (*results)[0].Outcome != Suppressed || (*results)[1].Outcome != Corrected {
		t.Fatalf("results = %+v", *results)
	}
	if f.state.Marked(id) {
		t.Fatalf("marker left behind")
	}
	if p, ok := f.ledger.Position(id, dimension.Nether); ok {
		t.Fatalf("saved %s position (%.2f, %.2f, %.2f)", dimension.Nether, p.X, p.Y, p.Z)
	}
	if d := f.ledger.LastDefault(id); d != "" {
		t.Fatalf("lastDefault = %q", d)
	}
	if p, ok := f.ledger.Position(id, survival); !ok || p.X != start.X || p.Z != start.Z {
		t.Fatalf("origin position = %+v %v", p, ok)
	}
}

func TestObserver_SeesEveryOutcome(t *testing.T) {
	f := newFixture(t, "")
	id := f.join(t, dimension.Overworld, home)
	f.travel(t, id, survival, CauseCommand)
	f.travel(t, id, hub, CauseCommand)

	if len(f.obs.results) != 2 {
		t.Fatalf("observed %d outcomes", len(f.obs.results))
	}
	if f.obs.results[0].Outcome != SpawnPlaced || f.obs.results[1].Outcome != SkippedHub {
		t.Fatalf("outcomes = %v, %v", f.obs.results[0].Outcome, f.obs.results[1].Outcome)
	}
	if f.obs.events[1].Origin != survival || f.obs.events[1].Cause != CauseCommand {
		t.Fatalf("event = %+v", f.obs.events[1])
	}
}

func TestHandle_ClientGone(t *testing.T) {
	f := newFixture(t, "")
	res := f.orch.Handle(Event{Client: uuid.New(), Origin: dimension.Overworld, Destination: survival, Alive: true})
	if !errors.Is(res.Err, host.ErrClientGone) {
		t.Fatalf("gone = %+v", res)
	}
}
