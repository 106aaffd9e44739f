// Package command implements the operator and player commands shared by the
// admin HTTP surface, the websocket COMMAND action and cmd/admin.
package command

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"worldmemory.ai/internal/config"
	"worldmemory.ai/internal/host"
	"worldmemory.ai/internal/ledger"
	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

var (
	ErrUnknownGroup     = errors.New("unknown group")
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrNoReload         = errors.New("config reload unavailable")
)

// HubCommand is the group id that always targets the first hub dimension.
const HubCommand = "hub"

type Reloader interface {
	Reload() (config.Config, error)
}

type Options struct {
	Reloader Reloader
	Logger   *log.Logger
	Clock    func() time.Time
}

type Service struct {
	cfg    config.Source
	host   host.Server
	ledger *ledger.Ledger
	reload Reloader
	logger *log.Logger
	now    func() time.Time
}

func New(cfg config.Source, h host.Server, led *ledger.Ledger, opts Options) *Service {
	s := &Service{
		cfg:    cfg,
		host:   h,
		ledger: led,
		reload: opts.Reloader,
		logger: opts.Logger,
		now:    opts.Clock,
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type PositionInfo struct {
	Dimension dimension.ID         `json:"dimension"`
	Position  ledger.SavedPosition `json:"position"`
	Age       string               `json:"age,omitempty"`
}

type Info struct {
	Client      uuid.UUID      `json:"client_id"`
	LastDefault dimension.ID   `json:"last_default,omitempty"`
	Positions   []PositionInfo `json:"positions"`
}

// Lines renders the info the way the chat command prints it.
func (i Info) Lines() []string {
	last := string(i.LastDefault)
	if last == "" {
		last = "none"
	}
	out := []string{fmt.Sprintf("lastDefaultDimension=%s, savedDimensions=%d", last, len(i.Positions))}
	for _, p := range i.Positions {
		line := fmt.Sprintf("%s -> %s", p.Dimension, p.Position.Pose())
		if p.Age != "" {
			line += " captured " + p.Age
		}
		out = append(out, line)
	}
	return out
}

// Info reports the client's saved positions, loading an offline client's
// record on demand.
func (s *Service) Info(id uuid.UUID) (Info, error) {
	if err := s.ensure(id); err != nil {
		return Info{}, err
	}
	e, _ := s.ledger.Entry(id)
	info := Info{Client: id, LastDefault: e.LastDefault, Positions: []PositionInfo{}}
	now := s.now()
	for dim, p := range e.Positions {
		pi := PositionInfo{Dimension: dim, Position: p}
		if !p.CapturedAt.IsZero() {
			pi.Age = humanize.RelTime(p.CapturedAt, now, "ago", "from now")
		}
		info.Positions = append(info.Positions, pi)
	}
	sort.Slice(info.Positions, func(i, j int) bool { return info.Positions[i].Dimension < info.Positions[j].Dimension })
	return info, nil
}

func (s *Service) Clear(id uuid.UUID, dim dimension.ID) (bool, error) {
	if err := s.ensure(id); err != nil {
		return false, err
	}
	return s.ledger.ClearPosition(id, dim)
}

func (s *Service) ClearAll(id uuid.UUID) error {
	return s.ledger.ClearAll(id)
}

// Set writes a saved position. Missing yaw or pitch is taken from the
// online client, else zero.
func (s *Service) Set(id uuid.UUID, dim dimension.ID, x, y, z float64, yaw, pitch *float32) (voxel.Pose, error) {
	dim = dimension.Normalize(string(dim))
	if dim == "" {
		return voxel.Pose{}, ErrInvalidDimension
	}
	if err := s.ensure(id); err != nil {
		return voxel.Pose{}, err
	}
	pose := voxel.Pose{X: x, Y: y, Z: z}
	if c, ok := s.host.Client(id); ok {
		pose.Yaw, pose.Pitch = c.Pose.Yaw, c.Pose.Pitch
	}
	if yaw != nil {
		pose.Yaw = *yaw
	}
	if pitch != nil {
		pose.Pitch = *pitch
	}
	return pose, s.ledger.SetPosition(id, dim, pose)
}

// ForceMove is the raw move primitive. It reports false when the target
// does not exist or the client is offline.
func (s *Service) ForceMove(id uuid.UUID, dim dimension.ID) (bool, error) {
	dim = dimension.Normalize(string(dim))
	if !s.host.HasDimension(dim) {
		return false, fmt.Errorf("%s: %w", dim, host.ErrDimensionNotFound)
	}
	if err := s.host.Move(id, dim); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ReloadConfig() (config.Config, error) {
	if s.reload == nil {
		return config.Config{}, ErrNoReload
	}
	cfg, err := s.reload.Reload()
	if err != nil {
		return config.Config{}, err
	}
	s.logger.Printf("command: reloaded config (%d groups)", len(cfg.Groups))
	return cfg, nil
}

// Groups lists the group commands available, hub included when configured.
func (s *Service) Groups() []string {
	cfg := s.cfg.Get()
	out := make([]string, 0, len(cfg.Groups)+1)
	hasHub := false
	for _, g := range cfg.Groups {
		out = append(out, string(g.ID))
		if strings.EqualFold(string(g.ID), HubCommand) {
			hasHub = true
		}
	}
	if !hasHub && len(cfg.HubDimensions) > 0 {
		out = append(out, HubCommand)
	}
	return out
}

// GoToGroup moves the client into a group, preferring the member it last
// visited, and sets the game mode implied by the group id.
func (s *Service) GoToGroup(id uuid.UUID, gid string) (dimension.ID, error) {
	cfg := s.cfg.Get()
	target, spawn, err := s.groupTarget(cfg, id, gid)
	if err != nil {
		return "", err
	}
	if err := s.host.Move(id, target); err != nil {
		return "", fmt.Errorf("go to %s: %w", gid, err)
	}
	if mode, ok := inferGameMode(gid); ok {
		if err := s.host.SetGameMode(id, mode); err != nil {
			s.logger.Printf("command: game mode for %s: %v", id, err)
		}
	}
	if strings.EqualFold(gid, HubCommand) {
		if _, err := s.placeAtHubSpawn(id, target, spawn); err != nil {
			return target, err
		}
	}
	return target, nil
}

// Survival is GoToGroup("survival"), or the overworld when no such group
// exists.
func (s *Service) Survival(id uuid.UUID) (dimension.ID, error) {
	cfg := s.cfg.Get()
	for _, g := range cfg.Groups {
		if strings.EqualFold(string(g.ID), "survival") {
			return s.GoToGroup(id, string(g.ID))
		}
	}
	if err := s.host.Move(id, dimension.Overworld); err != nil {
		return "", err
	}
	if err := s.host.SetGameMode(id, host.Survival); err != nil {
		s.logger.Printf("command: game mode for %s: %v", id, err)
	}
	return dimension.Overworld, nil
}

func (s *Service) groupTarget(cfg config.Config, id uuid.UUID, gid string) (dimension.ID, *config.SpawnSpec, error) {
	for _, g := range cfg.Groups {
		if !strings.EqualFold(string(g.ID), gid) {
			continue
		}
		if last, ok := s.ledger.LastGroupMember(id, g.ID); ok && !cfg.IsHub(last) {
			return last, g.Spawn, nil
		}
		return g.Overworld, g.Spawn, nil
	}
	if strings.EqualFold(gid, HubCommand) && len(cfg.HubDimensions) > 0 {
		return cfg.HubDimensions[0], nil, nil
	}
	return "", nil, fmt.Errorf("%q: %w", gid, ErrUnknownGroup)
}

func (s *Service) placeAtHubSpawn(id uuid.UUID, dim dimension.ID, spawn *config.SpawnSpec) (voxel.Pose, error) {
	c, ok := s.host.Client(id)
	if !ok {
		return voxel.Pose{}, host.ErrClientGone
	}
	var target voxel.Pose
	switch {
	case spawn != nil:
		target = voxel.Pose{X: centreIfWhole(spawn.X), Y: spawn.Y, Z: centreIfWhole(spawn.Z), Yaw: c.Pose.Yaw, Pitch: c.Pose.Pitch}
		if spawn.Yaw != nil {
			target.Yaw = *spawn.Yaw
		}
		if spawn.Pitch != nil {
			target.Pitch = *spawn.Pitch
		}
	default:
		w, ok := s.host.World(dim)
		if !ok {
			target = c.Pose
			break
		}
		target = geometry.SpawnPose(w, c.Pose)
	}
	return host.PlaceExact(s.host, id, target, geometry.DefaultSearch())
}

func centreIfWhole(v float64) float64 {
	if v == float64(int64(v)) {
		return v + 0.5
	}
	return v
}

func inferGameMode(gid string) (host.GameMode, bool) {
	id := strings.ToLower(gid)
	switch {
	case strings.Contains(id, "creative"):
		return host.Creative, true
	case strings.Contains(id, "survival"):
		return host.Survival, true
	case strings.Contains(id, "hub"):
		return host.Adventure, true
	}
	return "", false
}

// ensure loads an offline client's record so edits merge with it.
func (s *Service) ensure(id uuid.UUID) error {
	if _, ok := s.ledger.Entry(id); ok {
		return nil
	}
	return s.ledger.Load(id)
}
