package portal

import (
	"sync"

	"github.com/google/uuid"

	"worldmemory.ai/internal/sim/dimension"
)

// Phase is the observable state of one client in the link state machine.
type Phase uint8

const (
	NoContact Phase = iota
	Warming
	Cooling
)

func (p Phase) String() string {
	switch p {
	case Warming:
		return "warming"
	case Cooling:
		return "cooldown"
	default:
		return "no_contact"
	}
}

// State holds every per-client registry of the linker. It is owned by the
// caller and passed into each call; all access is mutex guarded because
// join/leave callbacks may run off the tick path.
type State struct {
	mu sync.Mutex

	contact   map[uuid.UUID]int
	cooldowns map[dimension.Kind]map[uuid.UUID]int64
	special   map[uuid.UUID]int64
	suppress  map[uuid.UUID]struct{}
	dragon    map[dimension.ID]bool
}

func NewState() *State {
	return &State{
		contact: map[uuid.UUID]int{},
		cooldowns: map[dimension.Kind]map[uuid.UUID]int64{
			dimension.KindNether: {},
			dimension.KindEnd:    {},
		},
		special:  map[uuid.UUID]int64{},
		suppress: map[uuid.UUID]struct{}{},
		dragon:   map[dimension.ID]bool{},
	}
}

// Mark sets the one-shot suppression marker for id.
func (s *State) Mark(id uuid.UUID) {
	s.mu.Lock()
	s.suppress[id] = struct{}{}
	s.mu.Unlock()
}

// Consume clears the marker and reports whether it was set.
func (s *State) Consume(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppress[id]
	delete(s.suppress, id)
	return ok
}

func (s *State) Marked(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppress[id]
	return ok
}

// touch advances or resets contact ticks, capped at warmup, and returns the
// new count.
func (s *State) touch(id uuid.UUID, inside bool, warmup int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !inside {
		s.contact[id] = 0
		return 0
	}
	t := s.contact[id] + 1
	if t > warmup {
		t = warmup
	}
	s.contact[id] = t
	return t
}

func (s *State) Contact(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contact[id]
}

func (s *State) cooldownOK(id uuid.UUID, kind dimension.Kind, tick int64, cooldown int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.cooldowns[kind][id]
	return !ok || tick-last >= int64(cooldown)
}

func (s *State) setCooldown(id uuid.UUID, kind dimension.Kind, tick int64) {
	s.mu.Lock()
	s.cooldowns[kind][id] = tick
	s.mu.Unlock()
}

// Phase reports where id sits in the state machine at tick.
func (s *State) Phase(id uuid.UUID, tick int64, cooldown int) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.cooldowns {
		if last, ok := m[id]; ok && tick-last < int64(cooldown) {
			return Cooling
		}
	}
	if s.contact[id] > 0 {
		return Warming
	}
	return NoContact
}

// claimSpecial starts the special item cooldown when it has elapsed.
func (s *State) claimSpecial(id uuid.UUID, tick int64, cooldown int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.special[id]; ok && tick-last < int64(cooldown) {
		return false
	}
	s.special[id] = tick
	return true
}

// claimDragon reports true exactly once per dimension.
func (s *State) claimDragon(dim dimension.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dragon[dim] {
		return false
	}
	s.dragon[dim] = true
	return true
}

// Forget drops everything kept for a disconnected client.
func (s *State) Forget(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contact, id)
	delete(s.special, id)
	delete(s.suppress, id)
	for _, m := range s.cooldowns {
		delete(m, id)
	}
}
