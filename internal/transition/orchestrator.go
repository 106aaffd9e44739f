// Package transition decides what happens to a client after the host moved
// it between dimensions.
package transition

import (
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/portal"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

type Options struct {
	Ledger    *ledger.Ledger
	State     *portal.State
	Linker    *portal.Linker
	Inventory *inventory.Swapper
	Observer  Observer
	Logger    *log.Logger
	Clock     func() time.Time
}

type Orchestrator struct {
	cfg    config.Source
	host   host.Server
	ledger *ledger.Ledger
	state  *portal.State
	linker *portal.Linker
	inv    *inventory.Swapper
	obs    Observer
	logger *log.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastRedirect map[uuid.UUID]time.Time
}

func New(cfg config.Source, h host.Server, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		host:         h,
		ledger:       opts.Ledger,
		state:        opts.State,
		linker:       opts.Linker,
		inv:          opts.Inventory,
		obs:          opts.Observer,
		logger:       opts.Logger,
		now:          opts.Clock,
		lastRedirect: map[uuid.UUID]time.Time{},
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.state == nil {
		o.state = portal.NewState()
	}
	return o
}

// Handle runs the pre-phase and then the decision table for ev. Every
// path persists the client's ledger entry.
func (o *Orchestrator) Handle(ev Event) Result {
	cfg := o.cfg.Get()
	res := o.handle(cfg, ev)
	if err := o.ledger.Persist(ev.Client); err != nil && res.Err == nil {
		res.Err = err
	}
	if res.Outcome != Suppressed || cfg.Debug {
		o.logger.Printf("transition: %s %s -> %s (%s): %s in %s at %s", ev.Client, ev.Origin, ev.Destination, ev.Cause, res.Outcome, res.Final, res.Pose)
	}
	if o.obs != nil {
		o.obs.ObserveOutcome(ev, res)
	}
	return res
}

func (o *Orchestrator) handle(cfg config.Config, ev Event) Result {
	id := ev.Client
	c, ok := o.host.Client(id)
	if !ok {
		return Result{Outcome: VanillaHonored, Final: ev.Destination, Err: host.ErrClientGone}
	}

	// A marked move was started by the linker, which already saved the
	// origin pose and moved the inventory.
	linked := o.state.Marked(id)
	originPose, havePose := o.captureOrigin(ev, linked)
	lk, haveLK := o.ledger.LastKnown(id)
	if haveLK && lk.Dimension != ev.Origin {
		haveLK = false
	}

	if !cfg.EnablePortals {
		o.markVanillaTransfer(cfg, ev, lk, haveLK)
	} else if !linked && o.linker != nil && havePose && (ev.Cause == CausePortal || (haveLK && lk.InNetherPortal)) {
		if o.linker.Correct(o.state, id, ev.Origin, ev.Destination, originPose) {
			after, _ := o.host.Client(id)
			return Result{Outcome: Corrected, Final: after.Dimension, Pose: after.Pose}
		}
	}

	if !linked {
		o.inv.Swap(id, ev.Origin, ev.Destination)
	}

	return o.decide(cfg, ev, c)
}

// captureOrigin records the pre-move pose for the origin dimension. For a
// linked move the pose is only reported; the origin may be a dimension the
// client merely passed through.
func (o *Orchestrator) captureOrigin(ev Event, linked bool) (voxel.Pose, bool) {
	if linked {
		if ev.OriginPose != nil {
			return *ev.OriginPose, true
		}
		return voxel.Pose{}, false
	}
	if ev.OriginPose != nil {
		o.ledger.Save(ev.Client, ev.Origin, *ev.OriginPose)
		return *ev.OriginPose, true
	}
	if pose, ok := o.ledger.CaptureOrigin(ev.Client, ev.Origin); ok {
		return pose, true
	}
	if lk, ok := o.ledger.LastKnown(ev.Client); ok && lk.Dimension == ev.Origin {
		return lk.Pose, true
	}
	return voxel.Pose{}, false
}

// markVanillaTransfer sets the suppression marker when the host's own
// portal mechanics performed a group-linked transfer.
func (o *Orchestrator) markVanillaTransfer(cfg config.Config, ev Event, lk ledger.LastKnown, haveLK bool) {
	if !haveLK {
		return
	}
	g, ok := cfg.GroupByMember(ev.Origin)
	if !ok {
		return
	}
	if g.LinkPortals.Nether && (lk.InNetherPortal || lk.TeleportCooling) {
		if next, ok := cfg.NextForPortal(g, ev.Origin, dimension.KindNether); ok && next == ev.Destination {
			o.state.Mark(ev.Client)
			o.debugf("transition: host nether transfer %s -> %s for %s", ev.Origin, ev.Destination, ev.Client)
			return
		}
	}
	if g.LinkPortals.End && lk.InEndPortal {
		if next, ok := cfg.NextForPortal(g, ev.Origin, dimension.KindEnd); ok && next == ev.Destination {
			o.state.Mark(ev.Client)
			o.debugf("transition: host end transfer %s -> %s for %s", ev.Origin, ev.Destination, ev.Client)
		}
	}
}

// decide is the ordered decision table; the first matching row wins.
func (o *Orchestrator) decide(cfg config.Config, ev Event, c host.Client) Result {
	id, dest := ev.Client, ev.Destination

	if o.state.Consume(id) {
		return Result{Outcome: Suppressed, Final: dest, Pose: c.Pose}
	}

	if ev.Origin == cfg.End.ExitFrom && dest == cfg.End.ExitTo {
		return o.honorVanilla(cfg, dest, c)
	}
	if !ev.Alive {
		return o.honorVanilla(cfg, dest, c)
	}

	var redirectErr error
	if res, ok, err := o.redirect(cfg, ev, c); ok {
		return res
	} else if err != nil {
		if !cfg.FailOpenOnMoveError {
			o.logger.Printf("transition: redirect for %s failed, staying in %s: %v", id, dest, err)
			return Result{Outcome: VanillaHonored, Final: dest, Pose: c.Pose, Err: err}
		}
		o.logger.Printf("transition: redirect for %s failed, restoring in %s instead: %v", id, dest, err)
		redirectErr = err
	}

	if cfg.IsHub(dest) {
		return Result{Outcome: SkippedHub, Final: dest, Pose: c.Pose, Err: redirectErr}
	}

	if saved, ok := o.ledger.Position(id, dest); ok {
		pose, err := o.restore(cfg, id, dest, saved.Pose(), c.Pose)
		return Result{Outcome: Restored, Final: dest, Pose: pose, Err: firstErr(redirectErr, err)}
	}

	pose, err := o.spawn(cfg, id, dest, c.Pose)
	return Result{Outcome: SpawnPlaced, Final: dest, Pose: pose, Err: firstErr(redirectErr, err)}
}

// honorVanilla keeps the host's placement and remembers it.
func (o *Orchestrator) honorVanilla(cfg config.Config, dest dimension.ID, c host.Client) Result {
	if !cfg.IsHub(dest) {
		o.ledger.Save(c.ID, dest, c.Pose)
	}
	return Result{Outcome: VanillaHonored, Final: dest, Pose: c.Pose}
}

// redirect moves the client to its last default dimension when the row
// applies. ok reports a completed redirect; err a failed attempt.
func (o *Orchestrator) redirect(cfg config.Config, ev Event, c host.Client) (Result, bool, error) {
	id, dest := ev.Client, ev.Destination
	if !cfg.EnableCrossDimRedirect || !cfg.IsDefault(dest) || cfg.IsDefault(ev.Origin) {
		return Result{}, false, nil
	}
	if _, grouped := cfg.GroupByMember(dest); grouped {
		return Result{}, false, nil
	}
	last := o.ledger.LastDefault(id)
	if last == "" || last == dest {
		return Result{}, false, nil
	}
	saved, ok := o.ledger.Position(id, last)
	if !ok {
		o.debugf("transition: no saved position in %s for %s, not redirecting", last, id)
		return Result{}, false, nil
	}
	if o.debounced(cfg, id) {
		o.debugf("transition: redirect for %s debounced", id)
		return Result{}, false, nil
	}
	if !o.host.HasDimension(last) {
		return Result{}, false, fmt.Errorf("redirect to %s: %w", last, host.ErrDimensionNotFound)
	}
	if err := o.host.Move(id, last); err != nil {
		return Result{}, false, fmt.Errorf("redirect to %s: %w", last, err)
	}
	pose, err := host.PlaceExact(o.host, id, saved.Pose(), geometry.DefaultSearch())
	if err != nil {
		o.logger.Printf("transition: placement after redirect for %s: %v", id, err)
	}
	o.mu.Lock()
	o.lastRedirect[id] = o.now()
	o.mu.Unlock()
	return Result{Outcome: Redirected, Final: last, Pose: pose, Err: err}, true, nil
}

func (o *Orchestrator) debounced(cfg config.Config, id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.lastRedirect[id]
	return ok && o.now().Sub(at) < cfg.RedirectDebounce
}

// restore places the client at its saved pose in dest.
func (o *Orchestrator) restore(cfg config.Config, id uuid.UUID, dest dimension.ID, saved, current voxel.Pose) (voxel.Pose, error) {
	w, ok := o.host.World(dest)
	if !ok {
		return current, fmt.Errorf("restore in %s: %w", dest, host.ErrDimensionNotFound)
	}
	pose := saved
	if cfg.ClampYToWorldBounds {
		pose = geometry.ClampY(w, pose)
	}
	if limit := cfg.MaxTeleportDistance; limit >= 0 && pose.DistSq(current) > limit*limit {
		o.logger.Printf("transition: skipping restore for %s, %.1f blocks exceeds %.1f", id, math.Sqrt(pose.DistSq(current)), limit)
		pose = current
	}
	if !cfg.Restore.UseSafeLocation {
		return pose, o.host.Place(id, pose)
	}
	return host.PlaceExact(o.host, id, pose, cfg.RestoreSearch())
}

// spawn places a first-time visitor at the group's fixed spawn or the
// dimension's default spawn.
func (o *Orchestrator) spawn(cfg config.Config, id uuid.UUID, dest dimension.ID, current voxel.Pose) (voxel.Pose, error) {
	target, ok := voxel.Pose{}, false
	if g, grouped := cfg.GroupByMember(dest); grouped {
		target, ok = g.SpawnPose(current)
	}
	if !ok {
		w, found := o.host.World(dest)
		if !found {
			return current, fmt.Errorf("spawn in %s: %w", dest, host.ErrDimensionNotFound)
		}
		target = geometry.SpawnPose(w, current)
	}
	return host.PlaceExact(o.host, id, target, geometry.DefaultSearch())
}

// Forget drops the debounce entry for a disconnected client.
func (o *Orchestrator) Forget(id uuid.UUID) {
	o.mu.Lock()
	delete(o.lastRedirect, id)
	o.mu.Unlock()
}

func (o *Orchestrator) debugf(format string, args ...any) {
	if o.cfg.Get().Debug {
		o.logger.Printf(format, args...)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
