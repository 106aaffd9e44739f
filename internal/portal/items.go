package portal

import (
	"strings"

	"github.com/google/uuid"

	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

// FaceUp is the clicked face for the top of a block.
var FaceUp = voxel.Vec3i{Y: 1}

// Ignite lights a complete nether frame at or next to the clicked block,
// the way flint and steel would, when the client's group creates portals.
func (l *Linker) Ignite(id uuid.UUID, pos, face voxel.Vec3i) bool {
	cfg := l.cfg.Get()
	c, ok := l.host.Client(id)
	if !ok {
		return false
	}
	g, ok := cfg.GroupByMember(c.Dimension)
	if !ok || !g.LinkPortals.Nether || !g.CreatePortalIfMissing {
		return false
	}
	w, ok := l.host.World(c.Dimension)
	if !ok {
		return false
	}
	rules := cfg.FrameRules()
	for _, probe := range []voxel.Vec3i{pos, pos.Up(), pos.Add(face.X, face.Y, face.Z)} {
		if fb, ok := geometry.FillNetherInterior(w, probe, rules); ok {
			l.debugf("portal: %s lit a %dx%d frame in %s", c.Name, fb.Width(), fb.Height(), c.Dimension)
			return true
		}
	}
	return false
}

// UseSpecialItem builds a lit frame next to the clicked block with the
// configured item and, when enabled, prebuilds the return portal in the
// paired dimension.
func (l *Linker) UseSpecialItem(st *State, id uuid.UUID, item string, pos, face voxel.Vec3i) (geometry.FrameBounds, bool) {
	cfg := l.cfg.Get()
	sp := cfg.SpecialPortal
	if !sp.Enabled || !sameItem(item, sp.Item) {
		return geometry.FrameBounds{}, false
	}
	c, ok := l.host.Client(id)
	if !ok {
		return geometry.FrameBounds{}, false
	}
	g, ok := cfg.GroupByMember(c.Dimension)
	if !ok || !g.LinkPortals.Nether {
		return geometry.FrameBounds{}, false
	}
	w, ok := l.host.World(c.Dimension)
	if !ok {
		return geometry.FrameBounds{}, false
	}
	if !st.claimSpecial(id, l.host.Tick(), sp.CooldownTicks) {
		l.debugf("portal: %s special item cooling down", c.Name)
		return geometry.FrameBounds{}, false
	}

	corner := pos.Add(face.X, face.Y, face.Z)
	if face == FaceUp {
		corner = pos.Up()
	}
	axis := geometry.YawToAxis(c.Pose.Yaw)
	fb, ok := geometry.BuildFrame(w, corner, axis)
	if !ok {
		fb, ok = geometry.FindPortalSpot(w, corner, axis, sp.ClearanceRadius)
	}
	if !ok {
		l.debugf("portal: no room for a frame near %s in %s", corner, c.Dimension)
		return geometry.FrameBounds{}, false
	}
	l.record(c, "special", c.Dimension, fb.Cell(fb.MinA, fb.MinY).Centre(), nil)

	if sp.EnsureReturn {
		if target, ok := cfg.NextForPortal(g, c.Dimension, dimension.KindNether); ok {
			at := LinkedPose(g, c.Dimension, dimension.KindNether, fb.Cell(fb.MinA, fb.MinY).Centre())
			l.host.Schedule(&ReturnPortalTask{
				linker: l,
				Target: target,
				Near:   at.Cell(),
				Axis:   fb.Axis,
				Radius: clampRadius(cfg.Portal.ReturnPortalSearchRadius, 32, 96),
			})
		}
	}
	return fb, true
}

func sameItem(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !strings.Contains(s, ":") {
			s = "minecraft:" + s
		}
		return s
	}
	return a != "" && norm(a) == norm(b)
}

// Correct moves a client that the host's own nether transfer left in a
// default dimension into the group's linked dimension instead. It returns
// false when no correction applies or the move failed.
func (l *Linker) Correct(st *State, id uuid.UUID, origin, dest dimension.ID, originPose voxel.Pose) bool {
	cfg := l.cfg.Get()
	g, ok := cfg.GroupByMember(origin)
	if !ok || !g.LinkPortals.Nether {
		return false
	}
	shouldBe, ok := cfg.NextForPortal(g, origin, dimension.KindNether)
	if !ok || shouldBe == dest || !cfg.IsDefault(dest) {
		return false
	}
	c, ok := l.host.Client(id)
	if !ok {
		return false
	}
	l.debugf("portal: correcting %s %s -> %s (expected %s)", c.Name, origin, dest, shouldBe)

	// The host already moved the client; the inventory still belongs to origin.
	l.inv.SaveFor(id, origin)
	desired := LinkedPose(g, origin, dimension.KindNether, originPose)
	if !l.hop(st, c, shouldBe, desired, "correction") {
		return false
	}
	st.setCooldown(id, dimension.KindNether, l.host.Tick())
	l.host.Schedule(&PlacementTask{
		linker:  l,
		state:   st,
		Client:  id,
		Target:  shouldBe,
		Desired: desired,
		Kind:    dimension.KindNether,
		Axis:    geometry.YawToAxis(desired.Yaw),
		Radius:  cfg.Portal.ReturnPortalSearchRadius,
	})
	l.persist(id)
	return true
}
