// Package portal links the nether and end portals of a world group to the
// group's own dimensions instead of the host's defaults.
package portal

import (
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	persistlog "worldmemory.ai/internal/persistence/log"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

// Auditor receives one entry per attempted transfer.
type Auditor interface {
	WriteTransfer(persistlog.TransferEntry) error
}

type Linker struct {
	cfg    config.Source
	host   host.Server
	ledger *ledger.Ledger
	inv    *inventory.Swapper
	audit  Auditor
	logger *log.Logger
}

type Options struct {
	Ledger    *ledger.Ledger
	Inventory *inventory.Swapper
	Audit     Auditor
	Logger    *log.Logger
}

func NewLinker(cfg config.Source, h host.Server, opts Options) *Linker {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Linker{
		cfg:    cfg,
		host:   h,
		ledger: opts.Ledger,
		inv:    opts.Inventory,
		audit:  opts.Audit,
		logger: logger,
	}
}

// Tick runs one step of the link state machine for every connected client.
func (l *Linker) Tick(st *State) {
	cfg := l.cfg.Get()
	for _, c := range l.host.Clients() {
		if !c.Alive || cfg.IsHub(c.Dimension) || !cfg.IsRecognized(c.Dimension) {
			continue
		}
		g, ok := cfg.GroupByMember(c.Dimension)
		if !ok {
			continue
		}
		w, ok := l.host.World(c.Dimension)
		if !ok {
			continue
		}
		l.tickClient(st, cfg, g, w, c)
	}
}

func (l *Linker) tickClient(st *State, cfg config.Config, g config.Group, w voxel.Editor, c host.Client) {
	cell := c.Pose.Cell()
	inside := geometry.IsNetherPortalCell(w, cell) || geometry.IsNetherPortalCell(w, cell.Up())
	if !inside && cfg.Portal.FallbackDetectFrames && g.LinkPortals.Nether {
		inside = unlitFrameAt(w, cell, cfg.FrameRules())
	}
	warmup := max(1, cfg.Portal.WarmupTicks)
	ticks := st.touch(c.ID, inside, warmup)

	handled := false
	if g.LinkPortals.Nether && inside && ticks >= warmup {
		handled = l.transfer(st, cfg, g, c, dimension.KindNether)
	}

	if g.LinkPortals.End && g.CreatePortalIfMissing {
		if centre, ok := geometry.IsEndRingComplete(w, cell); ok {
			if geometry.FillEndInterior(w, centre) {
				l.debugf("portal: lit end ring at %s in %s", centre, c.Dimension)
			}
		}
	}

	if !handled && g.LinkPortals.End && (geometry.IsEndPortalCell(w, cell) || geometry.IsEndPortalCell(w, cell.Down())) {
		l.transfer(st, cfg, g, c, dimension.KindEnd)
	}
}

// unlitFrameAt reports a complete frame around cell that has no lit
// portal cell yet.
func unlitFrameAt(w voxel.World, cell voxel.Vec3i, rules geometry.FrameRules) bool {
	if !w.Block(cell).Material.IsAir() && w.Block(cell).Material != voxel.Fire {
		return false
	}
	fb, ok := geometry.FindNetherFrame(w, cell, rules)
	if !ok {
		return false
	}
	for y := fb.MinY; y <= fb.MaxY; y++ {
		for a := fb.MinA; a <= fb.MaxA; a++ {
			if geometry.IsNetherPortalCell(w, fb.Cell(a, y)) {
				return false
			}
		}
	}
	return true
}

// LinkedPose maps pose in from to the paired dimension of kind. Nether
// transfers scale the horizontal axes; end transfers keep coordinates.
func LinkedPose(g config.Group, from dimension.ID, kind dimension.Kind, pose voxel.Pose) voxel.Pose {
	if kind != dimension.KindNether {
		return pose
	}
	f := g.NetherFactor(from)
	pose.X *= f
	pose.Z *= f
	return pose
}

// transfer performs one link transfer. It returns false, leaving no marker
// and no cooldown, when anything prevents the move.
func (l *Linker) transfer(st *State, cfg config.Config, g config.Group, c host.Client, kind dimension.Kind) bool {
	tick := l.host.Tick()
	if !st.cooldownOK(c.ID, kind, tick, cfg.Portal.CooldownTicks) {
		return false
	}
	target, ok := cfg.NextForPortal(g, c.Dimension, kind)
	if !ok {
		l.debugf("portal: no %s target from %s in group %s", kind, c.Dimension, g.ID)
		return false
	}
	l.debugf("portal: %s %s -> %s (group %s) for %s", kind, c.Dimension, target, g.ID, c.Name)

	l.inv.SaveFor(c.ID, c.Dimension)
	if l.ledger != nil {
		l.ledger.Save(c.ID, c.Dimension, c.Pose)
	}
	desired := LinkedPose(g, c.Dimension, kind, c.Pose)

	if !l.hop(st, c, target, desired, kind.String()) {
		return false
	}
	st.setCooldown(c.ID, kind, tick)
	l.arrive(st, cfg, c.ID, target, desired, kind, cfg.Portal.ReturnPortalSearchRadius)
	return true
}

// hop marks, moves and, on success, records the new group member. The
// marker is cleared when the move fails.
func (l *Linker) hop(st *State, c host.Client, target dimension.ID, desired voxel.Pose, kind string) bool {
	st.Mark(c.ID)
	if err := l.host.Move(c.ID, target); err != nil {
		st.Consume(c.ID)
		l.logger.Printf("portal: %s transfer %s -> %s for %s failed: %v", kind, c.Dimension, target, c.Name, err)
		l.record(c, kind, target, desired, err)
		return false
	}
	l.inv.LoadFor(c.ID, target)
	if g, ok := l.cfg.Get().GroupByMember(target); ok && l.ledger != nil {
		l.ledger.SetLastGroupMember(c.ID, g.ID, target)
	}
	l.record(c, kind, target, desired, nil)
	return true
}

// arrive schedules placement in target, or places at once when nothing
// needs to be built first.
func (l *Linker) arrive(st *State, cfg config.Config, id uuid.UUID, target dimension.ID, desired voxel.Pose, kind dimension.Kind, radius int) {
	t := &PlacementTask{
		linker:  l,
		state:   st,
		Client:  id,
		Target:  target,
		Desired: desired,
		Kind:    kind,
		Axis:    geometry.YawToAxis(desired.Yaw),
		Radius:  radius,
	}
	if kind == dimension.KindNether && !cfg.Portal.CreateReturnPortal {
		if err := t.place(desired); err != nil {
			l.logger.Printf("portal: placement for %s: %v", id, err)
		}
		l.persist(id)
		return
	}
	l.host.Schedule(t)
	l.persist(id)
}

func (l *Linker) persist(id uuid.UUID) {
	if l.ledger != nil {
		_ = l.ledger.Persist(id)
	}
}

func (l *Linker) record(c host.Client, kind string, target dimension.ID, at voxel.Pose, err error) {
	if l.audit == nil {
		return
	}
	e := persistlog.TransferEntry{
		At:       time.Now().UnixMilli(),
		ClientID: c.ID.String(),
		Kind:     kind,
		From:     string(c.Dimension),
		To:       string(target),
		Pos:      [3]float64{at.X, at.Y, at.Z},
		OK:       err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if werr := l.audit.WriteTransfer(e); werr != nil {
		l.logger.Printf("portal: audit: %v", werr)
	}
}

func (l *Linker) debugf(format string, args ...any) {
	if l.cfg.Get().Debug {
		l.logger.Printf(format, args...)
	}
}
