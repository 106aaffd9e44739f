package portal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

var errWrongDimension = errors.New("client left the target dimension")

// PlacementTask finishes a link transfer on the tick after the move: it
// prepares the arrival structure and places the client. Every failure
// falls back to a plain placement at Desired.
type PlacementTask struct {
	linker *Linker
	state  *State

	Client  uuid.UUID
	Target  dimension.ID
	Desired voxel.Pose
	Kind    dimension.Kind
	Axis    voxel.Axis
	Radius  int
}

func (t *PlacementTask) Name() string { return "portal-arrival:" + t.Kind.String() }

func (t *PlacementTask) Run() {
	c, ok := t.linker.host.Client(t.Client)
	if !ok {
		return
	}
	if c.Dimension != t.Target {
		t.linker.debugf("portal: %s: %v", t.Name(), errWrongDimension)
		return
	}
	if err := t.attempt(); err != nil {
		t.linker.debugf("portal: %s for %s failed, plain placement: %v", t.Name(), c.Name, err)
		if err := t.linker.host.Place(t.Client, t.Desired); err != nil {
			t.linker.logger.Printf("portal: fallback placement for %s: %v", c.Name, err)
		}
	}
	t.linker.persist(t.Client)
}

func (t *PlacementTask) attempt() error {
	w, ok := t.linker.host.World(t.Target)
	if !ok {
		return fmt.Errorf("%s: %w", t.Target, host.ErrDimensionNotFound)
	}
	switch t.Kind {
	case dimension.KindNether:
		return t.arriveNether(w)
	case dimension.KindEnd:
		return t.arriveEnd(w)
	}
	return t.place(t.Desired)
}

func (t *PlacementTask) arriveNether(w voxel.Editor) error {
	opts := geometry.DefaultSearch()
	cell, ok := geometry.EnsureReturnPortal(w, t.Desired.Cell(), t.Axis, t.Radius, true)
	if !ok {
		pose, _ := geometry.FindSafe(w, t.Desired, opts)
		return t.place(pose)
	}
	pose, _ := geometry.FindSafeNear(w, t.Desired, cell, opts)
	return t.place(pose)
}

func (t *PlacementTask) arriveEnd(w voxel.Editor) error {
	cfg := t.linker.cfg.Get()
	pose := t.Desired
	if cfg.End.CreateArrivalPlatform {
		top := geometry.EnsureArrivalPlatform(w, t.Desired.Cell(), cfg.Platform())
		if cfg.End.SpawnDragonOnArrival && t.state.claimDragon(t.Target) {
			if err := t.linker.host.SpawnBoss(t.Target, voxel.Vec3i{X: 0, Y: 80, Z: 0}); err != nil {
				t.linker.logger.Printf("portal: boss spawn in %s: %v", t.Target, err)
			}
		}
		pose = top.Centre().WithFacing(t.Desired.Yaw, t.Desired.Pitch)
	}
	return t.place(pose)
}

// place runs the safe search around pose, clears blockers and places.
func (t *PlacementTask) place(pose voxel.Pose) error {
	_, err := host.PlaceSafely(t.linker.host, t.Client, pose, geometry.DefaultSearch(), t.linker.cfg.Get().Placement)
	return err
}

// ReturnPortalTask prebuilds a portal in another dimension. It places no one.
type ReturnPortalTask struct {
	linker *Linker

	Target dimension.ID
	Near   voxel.Vec3i
	Axis   voxel.Axis
	Radius int
}

func (t *ReturnPortalTask) Name() string { return "portal-return:" + string(t.Target) }

func (t *ReturnPortalTask) Run() {
	w, ok := t.linker.host.World(t.Target)
	if !ok {
		t.linker.debugf("portal: %s: %v", t.Name(), host.ErrDimensionNotFound)
		return
	}
	if cell, ok := geometry.EnsureReturnPortal(w, t.Near, t.Axis, t.Radius, true); ok {
		t.linker.debugf("portal: return portal ready in %s at %s", t.Target, cell)
	} else {
		t.linker.debugf("portal: no return portal near %s in %s", t.Near, t.Target)
	}
}

func clampRadius(r, lo, hi int) int { return max(lo, min(hi, r)) }
