package multiworld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/inventory"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/persistence/indexdb"
	persistlog "worldmemory.ai/internal/persistence/log"
	"worldmemory.ai/internal/portal"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
	"worldmemory.ai/internal/transition"
)

const (
	stateVersion    = 2
	persistDebounce = 200 * time.Millisecond
	legacyStateName = "outcome_totals.json"
	igniteItem      = "flint_and_steel"
)

type persistedState struct {
	Version        int                      `json:"version"`
	LastSeen       map[string]string        `json:"last_seen,omitempty"`
	OutcomeMetrics []persistedOutcomeMetric `json:"outcome_metrics,omitempty"`
	// Backward-compat for older state dumps.
	OutcomeTotals []persistedOutcomeMetric `json:"outcome_totals,omitempty"`
}

type persistedOutcomeMetric struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Outcome string `json:"outcome"`
	Count   uint64 `json:"count"`
}

type outcomeKey struct {
	From    dimension.ID
	To      dimension.ID
	Outcome string
}

type OutcomeMetric struct {
	From    dimension.ID
	To      dimension.ID
	Outcome string
	Count   uint64
}

// OutcomeWriter receives the audit record of every handled transition.
type OutcomeWriter interface {
	WriteOutcome(persistlog.OutcomeEntry) error
}

// OutcomeIndex receives a queryable copy of every handled transition.
type OutcomeIndex interface {
	RecordOutcome(indexdb.OutcomeRow)
}

type Options struct {
	Ledger    *ledger.Ledger
	Inventory *inventory.Swapper
	Linker    *portal.Linker
	State     *portal.State
	Audit     OutcomeWriter
	Index     OutcomeIndex
	Logger    *log.Logger
	// StateFile is where outcome totals survive restarts; empty disables it.
	StateFile string
	Clock     func() time.Time
}

// Manager binds host events to the ledger, the portal linker and the
// transition orchestrator.
type Manager struct {
	cfg    config.Source
	host   host.Server
	ledger *ledger.Ledger
	inv    *inventory.Swapper
	linker *portal.Linker
	state  *portal.State
	orch   *transition.Orchestrator
	audit  OutcomeWriter
	index  OutcomeIndex
	logger *log.Logger
	now    func() time.Time

	mu            sync.RWMutex
	lastSeen      map[uuid.UUID]dimension.ID
	outcomeTotals map[outcomeKey]uint64
	stateFile     string

	persistCh    chan struct{}
	persistFlush chan chan struct{}
	persistStop  chan struct{}
	persistWG    sync.WaitGroup
	closeOnce    sync.Once
}

func NewManager(cfg config.Source, h host.Server, opts Options) (*Manager, error) {
	if h == nil {
		return nil, errors.New("multiworld: nil host")
	}
	if opts.Ledger == nil {
		return nil, errors.New("multiworld: nil ledger")
	}
	m := &Manager{
		cfg:           cfg,
		host:          h,
		ledger:        opts.Ledger,
		inv:           opts.Inventory,
		linker:        opts.Linker,
		state:         opts.State,
		audit:         opts.Audit,
		index:         opts.Index,
		logger:        opts.Logger,
		now:           opts.Clock,
		lastSeen:      map[uuid.UUID]dimension.ID{},
		outcomeTotals: map[outcomeKey]uint64{},
		stateFile:     opts.StateFile,
		persistCh:     make(chan struct{}, 1),
		persistFlush:  make(chan chan struct{}, 8),
		persistStop:   make(chan struct{}),
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.state == nil {
		m.state = portal.NewState()
	}
	if m.linker == nil {
		m.linker = portal.NewLinker(cfg, h, portal.Options{Ledger: opts.Ledger, Inventory: opts.Inventory, Logger: opts.Logger})
	}
	m.orch = transition.New(cfg, h, transition.Options{
		Ledger:    opts.Ledger,
		State:     m.state,
		Linker:    m.linker,
		Inventory: opts.Inventory,
		Observer:  m,
		Logger:    opts.Logger,
		Clock:     opts.Clock,
	})
	m.loadState()
	m.persistWG.Add(1)
	go m.persistLoop()
	return m, nil
}

func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

func (m *Manager) State() *portal.State {
	return m.state
}

func (m *Manager) Linker() *portal.Linker {
	return m.linker
}

func (m *Manager) Orchestrator() *transition.Orchestrator {
	return m.orch
}

// OnJoin loads the client's durable entry.
func (m *Manager) OnJoin(id uuid.UUID) error {
	if err := m.ledger.Load(id); err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	if c, ok := m.host.Client(id); ok {
		m.touch(id, c.Dimension)
	}
	return nil
}

// OnLeave must run while the host still knows the client.
func (m *Manager) OnLeave(id uuid.UUID) error {
	defer func() {
		m.state.Forget(id)
		m.orch.Forget(id)
	}()
	c, ok := m.host.Client(id)
	if !ok {
		return m.ledger.Persist(id)
	}
	m.inv.SaveFor(id, c.Dimension)
	m.touch(id, c.Dimension)
	return m.ledger.Disconnect(id, c.Dimension, c.Pose)
}

// OnTick refreshes every client's last-known sample and then advances the
// portal linker.
func (m *Manager) OnTick() {
	for _, c := range m.host.Clients() {
		lk := ledger.LastKnown{Dimension: c.Dimension, Pose: c.Pose, TeleportCooling: c.ItemCooling}
		if w, ok := m.host.World(c.Dimension); ok {
			feet := c.Pose.Cell()
			lk.InNetherPortal = geometry.IsNetherPortalCell(w, feet) || geometry.IsNetherPortalCell(w, feet.Up())
			lk.InEndPortal = geometry.IsEndPortalCell(w, feet) || geometry.IsEndPortalCell(w, feet.Down())
		}
		m.ledger.UpdateLastKnown(c.ID, lk)
	}
	if m.cfg.Get().EnablePortals {
		m.linker.Tick(m.state)
	}
}

// OnWorldChange runs the transition decision for a completed move.
func (m *Manager) OnWorldChange(id uuid.UUID, from, to dimension.ID, originPose *voxel.Pose, cause transition.Cause) transition.Result {
	return m.orch.Handle(transition.Event{
		Client:      id,
		Origin:      from,
		Destination: to,
		Cause:       cause,
		Alive:       true,
		OriginPose:  originPose,
	})
}

// OnRespawn handles a respawn; alive is false when it follows a death.
func (m *Manager) OnRespawn(id uuid.UUID, from, to dimension.ID, alive bool) transition.Result {
	return m.orch.Handle(transition.Event{
		Client:      id,
		Origin:      from,
		Destination: to,
		Cause:       transition.CauseRespawn,
		Alive:       alive,
	})
}

// OnUseItem routes an item used on a block: flint and steel lights a
// frame, anything else may be the special portal item.
func (m *Manager) OnUseItem(id uuid.UUID, item string, at, face voxel.Vec3i) bool {
	if !m.cfg.Get().EnablePortals {
		return false
	}
	if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(item)), "minecraft:") == igniteItem {
		return m.linker.Ignite(id, at, face)
	}
	_, ok := m.linker.UseSpecialItem(m.state, id, item, at, face)
	return ok
}

// Shutdown saves every connected client's pose and inventory and flushes
// all pending writes.
func (m *Manager) Shutdown(ctx context.Context) error {
	cfg := m.cfg.Get()
	for _, c := range m.host.Clients() {
		if !cfg.IsHub(c.Dimension) {
			m.ledger.Save(c.ID, c.Dimension, c.Pose)
		}
		m.inv.SaveFor(c.ID, c.Dimension)
		m.touch(c.ID, c.Dimension)
	}
	err := m.ledger.PersistAll()
	if ferr := m.FlushState(ctx); err == nil {
		err = ferr
	}
	return err
}

// ObserveOutcome counts, audits and indexes a handled transition.
func (m *Manager) ObserveOutcome(ev transition.Event, res transition.Result) {
	m.recordOutcome(ev.Origin, ev.Destination, res.Outcome.String())
	if res.Final != "" {
		m.touch(ev.Client, res.Final)
	}
	at := m.now()
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	if m.audit != nil {
		if err := m.audit.WriteOutcome(persistlog.OutcomeEntry{
			At:          at.UnixMilli(),
			ClientID:    ev.Client.String(),
			Origin:      string(ev.Origin),
			Destination: string(ev.Destination),
			Cause:       ev.Cause.String(),
			Outcome:     res.Outcome.String(),
			Final:       string(res.Final),
			Pos:         [3]float64{res.Pose.X, res.Pose.Y, res.Pose.Z},
			Error:       errText,
		}); err != nil {
			m.logger.Printf("multiworld: audit write: %v", err)
		}
	}
	if m.index != nil {
		m.index.RecordOutcome(indexdb.OutcomeRow{
			At:       at,
			ClientID: ev.Client,
			From:     ev.Origin,
			To:       ev.Destination,
			Final:    res.Final,
			Outcome:  res.Outcome.String(),
			Cause:    ev.Cause.String(),
			X:        res.Pose.X,
			Y:        res.Pose.Y,
			Z:        res.Pose.Z,
			Err:      errText,
		})
	}
}

func (m *Manager) OutcomeMetrics() []OutcomeMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OutcomeMetric, 0, len(m.outcomeTotals))
	for k, n := range m.outcomeTotals {
		out = append(out, OutcomeMetric{From: k.From, To: k.To, Outcome: k.Outcome, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}

// LastSeen is the dimension a client was last observed in, surviving
// restarts.
func (m *Manager) LastSeen(id uuid.UUID) (dimension.ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dim, ok := m.lastSeen[id]
	return dim, ok
}

func (m *Manager) recordOutcome(from, to dimension.ID, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == "" {
		from = "UNKNOWN"
	}
	if to == "" {
		to = "UNKNOWN"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.outcomeTotals[outcomeKey{From: from, To: to, Outcome: outcome}]++
	m.schedulePersistLocked()
}

func (m *Manager) touch(id uuid.UUID, dim dimension.ID) {
	if dim == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSeen[id] == dim {
		return
	}
	m.lastSeen[id] = dim
	m.schedulePersistLocked()
}

func (m *Manager) loadState() {
	if m.stateFile == "" {
		return
	}
	if m.tryLoadStateFile(m.stateFile) {
		return
	}
	legacy := filepath.Join(filepath.Dir(m.stateFile), legacyStateName)
	if m.tryLoadStateFile(legacy) {
		m.logger.Printf("multiworld: loaded legacy state %s", legacy)
	}
}

func (m *Manager) tryLoadStateFile(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var st persistedState
	if err := json.Unmarshal(b, &st); err == nil {
		loaded := false
		for k, v := range st.LastSeen {
			id, err := uuid.Parse(k)
			if err != nil || strings.TrimSpace(v) == "" {
				continue
			}
			m.lastSeen[id] = dimension.ID(v)
			loaded = true
		}
		all := append([]persistedOutcomeMetric{}, st.OutcomeMetrics...)
		all = append(all, st.OutcomeTotals...)
		for _, om := range all {
			if strings.TrimSpace(om.From) == "" || strings.TrimSpace(om.To) == "" || strings.TrimSpace(om.Outcome) == "" || om.Count == 0 {
				continue
			}
			m.outcomeTotals[outcomeKey{From: dimension.ID(om.From), To: dimension.ID(om.To), Outcome: om.Outcome}] = om.Count
			loaded = true
		}
		if loaded {
			return true
		}
	}

	// Oldest format: a bare list of totals.
	var legacy []persistedOutcomeMetric
	if err := json.Unmarshal(b, &legacy); err != nil {
		return false
	}
	loaded := false
	for _, om := range legacy {
		if om.From != "" && om.To != "" && om.Outcome != "" && om.Count > 0 {
			m.outcomeTotals[outcomeKey{From: dimension.ID(om.From), To: dimension.ID(om.To), Outcome: om.Outcome}] = om.Count
			loaded = true
		}
	}
	return loaded
}

func (m *Manager) schedulePersistLocked() {
	if m.stateFile == "" || m.persistCh == nil {
		return
	}
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

func (m *Manager) persistLoop() {
	defer m.persistWG.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-m.persistStop:
			stopTimer()
			m.persistNow()
			return
		case <-m.persistCh:
			if timer == nil {
				timer = time.NewTimer(persistDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(persistDebounce)
			}
		case ack := <-m.persistFlush:
			stopTimer()
			m.persistNow()
			if ack != nil {
				close(ack)
			}
		case <-timerCh:
			stopTimer()
			m.persistNow()
		}
	}
}

// Close stops the persistence loop after a final write.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.persistStop)
		m.persistWG.Wait()
	})
}

func (m *Manager) FlushState(ctx context.Context) error {
	if m.stateFile == "" || m.persistFlush == nil {
		return nil
	}
	ack := make(chan struct{})
	select {
	case m.persistFlush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) persistNow() {
	m.writeState(m.snapshotState())
}

func (m *Manager) snapshotState() persistedState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := persistedState{
		Version:        stateVersion,
		LastSeen:       map[string]string{},
		OutcomeMetrics: []persistedOutcomeMetric{},
	}
	for id, dim := range m.lastSeen {
		st.LastSeen[id.String()] = string(dim)
	}
	for k, n := range m.outcomeTotals {
		if n == 0 {
			continue
		}
		st.OutcomeMetrics = append(st.OutcomeMetrics, persistedOutcomeMetric{
			From:    string(k.From),
			To:      string(k.To),
			Outcome: k.Outcome,
			Count:   n,
		})
	}
	sort.Slice(st.OutcomeMetrics, func(i, j int) bool {
		a, b := st.OutcomeMetrics[i], st.OutcomeMetrics[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Outcome < b.Outcome
	})
	return st
}

func (m *Manager) writeState(st persistedState) {
	if m.stateFile == "" {
		return
	}
	b, _ := json.MarshalIndent(st, "", "  ")
	_ = os.MkdirAll(filepath.Dir(m.stateFile), 0o755)
	tmp := m.stateFile + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		m.logger.Printf("multiworld: write state: %v", err)
		return
	}
	if err := os.Rename(tmp, m.stateFile); err != nil {
		m.logger.Printf("multiworld: rename state: %v", err)
	}
}
