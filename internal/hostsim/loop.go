package hostsim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
	"worldmemory.ai/internal/transition"
)

type JoinRequest struct {
	ID     uuid.UUID
	Name   string
	Notify func(Notice)
}

type JoinResponse struct {
	ID        uuid.UUID
	Dimension dimension.ID
	Pose      voxel.Pose
	Tick      int64
	Err       error
}

type joinReq struct {
	JoinRequest
	resp chan JoinResponse
}

type call struct {
	fn   func()
	done chan struct{}
}

type ActionKind string

const (
	ActMove   ActionKind = "move"
	ActDie    ActionKind = "die"
	ActUse    ActionKind = "use"
	ActIgnite ActionKind = "ignite"
	ActTravel ActionKind = "travel"
)

// Action is one client input, applied on the tick goroutine.
type Action struct {
	Client    uuid.UUID
	Kind      ActionKind
	Pose      voxel.Pose
	Item      string
	At        voxel.Vec3i
	Face      voxel.Vec3i
	Dimension dimension.ID
}

const FlintAndSteel = "minecraft:flint_and_steel"

// teleportItems put the client on an item cooldown when used.
var teleportItems = map[string]bool{
	"minecraft:ender_pearl":  true,
	"minecraft:chorus_fruit": true,
}

func (s *Server) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []joinReq
	var pendingLeaves []uuid.UUID
	var pendingActions []Action

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-s.leave:
			pendingLeaves = append(pendingLeaves, id)
		case a := <-s.inbox:
			pendingActions = append(pendingActions, a)
		case c := <-s.calls:
			c.fn()
			close(c.done)
		case <-ticker.C:
			for _, req := range pendingJoins {
				req.resp <- s.JoinNow(req.JoinRequest)
			}
			for _, id := range pendingLeaves {
				s.LeaveNow(id)
			}
			for _, a := range pendingActions {
				if err := s.Apply(a); err != nil {
					s.logger.Printf("hostsim: %s for %s: %v", a.Kind, a.Client, err)
				}
			}
			s.Step()
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (s *Server) Stop() { s.once.Do(func() { close(s.stop) }) }

// Join queues a join for the next tick and waits for it.
func (s *Server) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	r := joinReq{JoinRequest: req, resp: make(chan JoinResponse, 1)}
	select {
	case s.join <- r:
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	case <-s.stop:
		return JoinResponse{}, host.ErrClientGone
	}
	select {
	case resp := <-r.resp:
		return resp, resp.Err
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

func (s *Server) Leave(id uuid.UUID) {
	select {
	case s.leave <- id:
	case <-s.stop:
	}
}

// Submit queues an action for the next tick; a full inbox drops it.
func (s *Server) Submit(a Action) error {
	select {
	case s.inbox <- a:
		return nil
	default:
		return ErrBusy
	}
}

// Call runs fn on the tick goroutine between ticks.
func (s *Server) Call(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return fmt.Errorf("hostsim: stopped")
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinNow connects a client immediately. A returning client resumes where
// it left; a new one appears at the spawn dimension's spawn.
func (s *Server) JoinNow(req JoinRequest) JoinResponse {
	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	s.mu.Lock()
	if s.clients[id] != nil {
		s.mu.Unlock()
		return JoinResponse{ID: id, Err: fmt.Errorf("client %s already connected", id)}
	}
	hc, seen := s.offline[id]
	if !seen || s.worlds[hc.Dimension] == nil {
		dim := s.cfg.SpawnDimension
		w := s.worlds[dim]
		if w == nil {
			s.mu.Unlock()
			return JoinResponse{ID: id, Err: fmt.Errorf("%s: %w", dim, host.ErrDimensionNotFound)}
		}
		hc = host.Client{Dimension: dim, Pose: geometry.SpawnPose(w, voxel.Pose{}), GameMode: host.Survival}
	}
	hc.ID, hc.Alive = id, true
	if req.Name != "" {
		hc.Name = req.Name
	}
	delete(s.offline, id)
	s.clients[id] = &client{Client: hc, notify: req.Notify}
	h, tick := s.handler, s.tick
	s.mu.Unlock()

	if h != nil {
		if err := h.OnJoin(id); err != nil {
			s.logger.Printf("hostsim: join %s: %v", id, err)
		}
	}
	return JoinResponse{ID: id, Dimension: hc.Dimension, Pose: hc.Pose, Tick: tick}
}

// LeaveNow runs the leave handling while the client is still present, then
// disconnects it.
func (s *Server) LeaveNow(id uuid.UUID) {
	if h := s.handlerOrNil(); h != nil {
		if err := h.OnLeave(id); err != nil {
			s.logger.Printf("hostsim: leave %s: %v", id, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.clients[id]; c != nil {
		s.offline[id] = c.Client
		delete(s.clients, id)
	}
}

// Apply performs one client action.
func (s *Server) Apply(a Action) error {
	switch a.Kind {
	case ActMove:
		s.mu.Lock()
		c := s.clients[a.Client]
		if c == nil {
			s.mu.Unlock()
			return host.ErrClientGone
		}
		if c.Alive {
			c.Pose = a.Pose
		}
		s.mu.Unlock()
		return nil
	case ActDie:
		if err := s.Kill(a.Client); err != nil {
			return err
		}
		return s.Respawn(a.Client)
	case ActIgnite:
		a.Item = FlintAndSteel
		return s.use(a)
	case ActUse:
		return s.use(a)
	case ActTravel:
		return s.travel(a)
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}

func (s *Server) use(a Action) error {
	s.mu.Lock()
	c := s.clients[a.Client]
	if c == nil {
		s.mu.Unlock()
		return host.ErrClientGone
	}
	if teleportItems[a.Item] {
		c.ItemCooling = true
		c.coolUntil = s.tick + itemCoolingTicks
	}
	h, notify, tick := s.handler, c.notify, s.tick
	s.mu.Unlock()

	ok := false
	if h != nil {
		ok = h.OnUseItem(a.Client, a.Item, a.At, a.Face)
	}
	detail := "ignored"
	if ok {
		detail = "used"
	}
	send(notify, Notice{Kind: NoticeItem, Tick: tick, Detail: a.Item + " " + detail})
	return nil
}

// travel is the host's own dimension change, the way a vanilla portal or
// a thrown item would do it.
func (s *Server) travel(a Action) error {
	cause := transition.CauseWorldChange
	if c, ok := s.Client(a.Client); ok {
		if w, ok := s.World(c.Dimension); ok {
			feet := c.Pose.Cell()
			if geometry.IsNetherPortalCell(w, feet) || geometry.IsEndPortalCell(w, feet) || geometry.IsEndPortalCell(w, feet.Down()) {
				cause = transition.CausePortal
			}
		}
	}
	return s.move(a.Client, dimension.Normalize(string(a.Dimension)), cause)
}

// Step advances one tick: queued tasks first, then the handler's tick.
func (s *Server) Step() {
	s.runTasks()
	s.mu.Lock()
	for _, c := range s.clients {
		if c.ItemCooling && s.tick >= c.coolUntil {
			c.ItemCooling = false
		}
	}
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.OnTick()
	}
	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
}

func (s *Server) runTasks() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	for _, t := range tasks {
		s.runTask(t)
	}
}

func (s *Server) runTask(t host.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("hostsim: task %s panicked: %v", t.Name(), r)
		}
	}()
	t.Run()
}

// Pending reports queued tasks.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
