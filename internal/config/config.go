package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"worldmemory.ai/internal/sim/dimension"
)

// ErrAmbiguousMember is returned by Validate when a dimension is claimed by
// more than one group, or is both a hub and a group member.
var ErrAmbiguousMember = errors.New("dimension claimed more than once")

const (
	InventoryDefault   = "__default"
	InventoryUngrouped = "__ungrouped"
)

type Config struct {
	HubDimensions     []dimension.ID `yaml:"hub_dimensions"`
	DefaultDimensions []dimension.ID `yaml:"default_dimensions"`
	Groups            []Group        `yaml:"world_groups"`

	EnableCrossDimRedirect bool    `yaml:"enable_cross_dim_redirect"`
	FailOpenOnMoveError    bool    `yaml:"fail_open_on_move_error"`
	EnablePortals          bool    `yaml:"enable_portals"`
	MaxTeleportDistance    float64 `yaml:"max_teleport_distance"`
	ClampYToWorldBounds    bool    `yaml:"clamp_y_to_world_bounds"`

	InventoryProfileForDefaultWorlds bool `yaml:"inventory_profile_for_default_worlds"`
	InventoryProfileForUngrouped     bool `yaml:"inventory_profile_for_ungrouped"`

	Portal        PortalSpec        `yaml:"portal"`
	End           EndSpec           `yaml:"end"`
	SpecialPortal SpecialPortalSpec `yaml:"special_portal"`
	Restore       RestoreSpec       `yaml:"restore"`
	Placement     PlacementSpec     `yaml:"placement"`
	Storage       StorageSpec       `yaml:"storage"`

	RedirectDebounce time.Duration `yaml:"redirect_debounce"`
	Debug            bool          `yaml:"debug"`
}

type Group struct {
	ID                    dimension.GroupID `yaml:"id"`
	Overworld             dimension.ID      `yaml:"overworld"`
	Nether                dimension.ID      `yaml:"nether,omitempty"`
	End                   dimension.ID      `yaml:"end,omitempty"`
	LinkPortals           LinkPortals       `yaml:"link_portals"`
	InventoryProfile      bool              `yaml:"inventory_profile"`
	NetherScale           NetherScale       `yaml:"nether_scale"`
	PortalSearchRadius    int               `yaml:"portal_search_radius"`
	CreatePortalIfMissing bool              `yaml:"create_portal_if_missing"`
	Spawn                 *SpawnSpec        `yaml:"spawn,omitempty"`
}

type LinkPortals struct {
	Nether bool `yaml:"nether"`
	End    bool `yaml:"end"`
}

// NetherScale multiplies horizontal coordinates: Outbound when leaving the
// group's overworld, Inbound when returning to it.
type NetherScale struct {
	Outbound float64 `yaml:"outbound"`
	Inbound  float64 `yaml:"inbound"`
}

type SpawnSpec struct {
	X     float64  `yaml:"x"`
	Y     float64  `yaml:"y"`
	Z     float64  `yaml:"z"`
	Yaw   *float32 `yaml:"yaw,omitempty"`
	Pitch *float32 `yaml:"pitch,omitempty"`
}

type PortalSpec struct {
	FallbackDetectFrames     bool `yaml:"fallback_detect_frames"`
	MinInnerWidth            int  `yaml:"min_inner_width"`
	MinInnerHeight           int  `yaml:"min_inner_height"`
	MaxInnerWidth            int  `yaml:"max_inner_width"`
	MaxInnerHeight           int  `yaml:"max_inner_height"`
	AllowOversizeFrames      bool `yaml:"allow_oversize_frames"`
	WarmupTicks              int  `yaml:"warmup_ticks"`
	CooldownTicks            int  `yaml:"cooldown_ticks"`
	CreateReturnPortal       bool `yaml:"create_return_portal"`
	ReturnPortalSearchRadius int  `yaml:"return_portal_search_radius"`
}

type EndSpec struct {
	CreateArrivalPlatform  bool         `yaml:"create_arrival_platform"`
	PlatformRadius         int          `yaml:"platform_radius"`
	PlatformBlock          string       `yaml:"platform_block"`
	SpawnDragonOnArrival   bool         `yaml:"spawn_dragon_on_arrival"`
	MainIslandSearchRadius int          `yaml:"main_island_search_radius"`
	ExitFrom               dimension.ID `yaml:"exit_from"`
	ExitTo                 dimension.ID `yaml:"exit_to"`
}

type SpecialPortalSpec struct {
	Enabled         bool   `yaml:"enabled"`
	Item            string `yaml:"item"`
	CooldownTicks   int    `yaml:"cooldown_ticks"`
	ClearanceRadius int    `yaml:"clearance_radius"`
	EnsureReturn    bool   `yaml:"ensure_return"`
}

type RestoreSpec struct {
	UseSafeLocation  bool `yaml:"use_safe_location"`
	SafeSearchRadius int  `yaml:"safe_search_radius"`
}

type PlacementSpec struct {
	KillBlockingEntities bool    `yaml:"kill_blocking_entities"`
	KillBlockingRadius   float64 `yaml:"kill_blocking_radius"`
}

type StorageSpec struct {
	Backend string `yaml:"backend"` // json | sqlite
	Dir     string `yaml:"dir"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

// Parse decodes a yaml document on top of the defaults.
func Parse(b []byte) (Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("mwp.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("mwp.yaml: %w", err)
	}
	return cfg, nil
}

// Default is the configuration used when no file is given.
func Default() Config {
	cfg := defaults()
	cfg.Normalize()
	return cfg
}

func defaults() Config {
	return Config{
		HubDimensions:                    []dimension.ID{"multiverse:spawn"},
		DefaultDimensions:                []dimension.ID{dimension.Overworld, dimension.Nether, dimension.End},
		EnableCrossDimRedirect:           true,
		FailOpenOnMoveError:              true,
		EnablePortals:                    false,
		MaxTeleportDistance:              -1,
		ClampYToWorldBounds:              true,
		InventoryProfileForDefaultWorlds: true,
		InventoryProfileForUngrouped:     false,
		Portal: PortalSpec{
			FallbackDetectFrames:     false,
			MinInnerWidth:            2,
			MinInnerHeight:           3,
			MaxInnerWidth:            21,
			MaxInnerHeight:           21,
			AllowOversizeFrames:      true,
			WarmupTicks:              60,
			CooldownTicks:            60,
			CreateReturnPortal:       true,
			ReturnPortalSearchRadius: 128,
		},
		End: EndSpec{
			CreateArrivalPlatform:  true,
			PlatformRadius:         3,
			PlatformBlock:          "minecraft:end_stone",
			SpawnDragonOnArrival:   true,
			MainIslandSearchRadius: 128,
			ExitFrom:               dimension.End,
			ExitTo:                 dimension.Overworld,
		},
		SpecialPortal: SpecialPortalSpec{
			Enabled:         true,
			Item:            "minecraft:blaze_rod",
			CooldownTicks:   100,
			ClearanceRadius: 3,
			EnsureReturn:    true,
		},
		Restore: RestoreSpec{
			UseSafeLocation:  true,
			SafeSearchRadius: 16,
		},
		Placement: PlacementSpec{
			KillBlockingEntities: true,
			KillBlockingRadius:   0.75,
		},
		Storage: StorageSpec{
			Backend: "json",
			Dir:     "worldpositions",
		},
		RedirectDebounce: 400 * time.Millisecond,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.HubDimensions = normalizeIDs(c.HubDimensions)
	c.DefaultDimensions = normalizeIDs(c.DefaultDimensions)
	for i := range c.Groups {
		g := &c.Groups[i]
		g.ID = dimension.GroupID(strings.TrimSpace(string(g.ID)))
		g.Overworld = dimension.Normalize(string(g.Overworld))
		g.Nether = dimension.Normalize(string(g.Nether))
		g.End = dimension.Normalize(string(g.End))
		if g.NetherScale.Outbound == 0 {
			g.NetherScale.Outbound = 0.125
		}
		if g.NetherScale.Inbound == 0 {
			g.NetherScale.Inbound = 8.0
		}
		if g.PortalSearchRadius <= 0 {
			g.PortalSearchRadius = 64
		}
	}
	c.End.ExitFrom = dimension.Normalize(string(c.End.ExitFrom))
	c.End.ExitTo = dimension.Normalize(string(c.End.ExitTo))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		c.Storage.Dir = "worldpositions"
	}
	if c.Portal.WarmupTicks < 1 {
		c.Portal.WarmupTicks = 1
	}
	if c.Portal.CooldownTicks < 0 {
		c.Portal.CooldownTicks = 0
	}
	if c.Portal.ReturnPortalSearchRadius <= 0 {
		c.Portal.ReturnPortalSearchRadius = 128
	}
	if c.End.MainIslandSearchRadius <= 0 {
		c.End.MainIslandSearchRadius = 128
	}
	if c.SpecialPortal.ClearanceRadius <= 0 {
		c.SpecialPortal.ClearanceRadius = 3
	}
	if c.Restore.SafeSearchRadius <= 0 {
		c.Restore.SafeSearchRadius = 16
	}
}

func normalizeIDs(in []dimension.ID) []dimension.ID {
	out := make([]dimension.ID, 0, len(in))
	seen := map[dimension.ID]bool{}
	for _, id := range in {
		id = dimension.Normalize(string(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (c Config) Validate() error {
	c.Normalize()
	hubs := map[dimension.ID]bool{}
	for _, h := range c.HubDimensions {
		hubs[h] = true
	}
	owner := map[dimension.ID]dimension.GroupID{}
	ids := map[dimension.GroupID]bool{}
	for i, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("world_groups[%d] id must not be empty", i)
		}
		if strings.EqualFold(string(g.ID), "hub") {
			return fmt.Errorf("world_groups[%d] id %q is reserved", i, g.ID)
		}
		if ids[g.ID] {
			return fmt.Errorf("duplicate world group id: %s", g.ID)
		}
		ids[g.ID] = true
		if g.Overworld == "" {
			return fmt.Errorf("world group %s overworld must not be empty", g.ID)
		}
		if g.NetherScale.Outbound <= 0 || g.NetherScale.Inbound <= 0 {
			return fmt.Errorf("world group %s nether_scale must be > 0", g.ID)
		}
		for _, m := range g.Members() {
			if hubs[m] {
				return fmt.Errorf("%w: %s is a hub and a member of group %s", ErrAmbiguousMember, m, g.ID)
			}
			if prev, ok := owner[m]; ok {
				if prev == g.ID {
					return fmt.Errorf("world group %s lists %s twice", g.ID, m)
				}
				return fmt.Errorf("%w: %s is in groups %s and %s", ErrAmbiguousMember, m, prev, g.ID)
			}
			owner[m] = g.ID
		}
		if g.LinkPortals.Nether && g.Nether == "" {
			return fmt.Errorf("world group %s links nether portals but has no nether", g.ID)
		}
		if g.LinkPortals.End && g.End == "" {
			return fmt.Errorf("world group %s links end portals but has no end", g.ID)
		}
	}
	p := c.Portal
	if p.MinInnerWidth < 1 || p.MinInnerHeight < 1 {
		return fmt.Errorf("portal min inner size must be >= 1")
	}
	if p.MinInnerWidth > p.MaxInnerWidth || p.MinInnerHeight > p.MaxInnerHeight {
		return fmt.Errorf("portal min inner size must be <= max inner size")
	}
	if c.End.PlatformRadius < 0 {
		return fmt.Errorf("end platform_radius must be >= 0")
	}
	if c.SpecialPortal.CooldownTicks < 0 {
		return fmt.Errorf("special_portal cooldown_ticks must be >= 0")
	}
	if c.RedirectDebounce < 0 {
		return fmt.Errorf("redirect_debounce must be >= 0")
	}
	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage backend %q not supported", c.Storage.Backend)
	}
	return nil
}
