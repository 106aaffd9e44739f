package config

import (
	"strings"

	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/geometry"
	"worldmemory.ai/internal/sim/voxel"
)

// Members lists the configured dimensions of the group, overworld first.
func (g Group) Members() []dimension.ID {
	out := []dimension.ID{g.Overworld}
	if g.Nether != "" {
		out = append(out, g.Nether)
	}
	if g.End != "" {
		out = append(out, g.End)
	}
	return out
}

func (g Group) Has(dim dimension.ID) bool {
	return dim != "" && (dim == g.Overworld || dim == g.Nether || dim == g.End)
}

// Role reports which slot of the group dim fills.
func (g Group) Role(dim dimension.ID) (dimension.Kind, bool) {
	switch {
	case dim == "":
		return 0, false
	case dim == g.Overworld:
		return dimension.KindOverworld, true
	case dim == g.Nether:
		return dimension.KindNether, true
	case dim == g.End:
		return dimension.KindEnd, true
	}
	return 0, false
}

// Links reports whether the group links portals of kind.
func (g Group) Links(kind dimension.Kind) bool {
	switch kind {
	case dimension.KindNether:
		return g.LinkPortals.Nether
	case dimension.KindEnd:
		return g.LinkPortals.End
	}
	return false
}

// NetherFactor is the horizontal multiplier for a nether transfer leaving from.
func (g Group) NetherFactor(from dimension.ID) float64 {
	if from == g.Overworld {
		return g.NetherScale.Outbound
	}
	return g.NetherScale.Inbound
}

// SpawnPose resolves the fixed spawn, taking missing facing from facing.
func (g Group) SpawnPose(facing voxel.Pose) (voxel.Pose, bool) {
	if g.Spawn == nil {
		return voxel.Pose{}, false
	}
	p := voxel.Pose{X: g.Spawn.X, Y: g.Spawn.Y, Z: g.Spawn.Z, Yaw: facing.Yaw, Pitch: facing.Pitch}
	if g.Spawn.Yaw != nil {
		p.Yaw = *g.Spawn.Yaw
	}
	if g.Spawn.Pitch != nil {
		p.Pitch = *g.Spawn.Pitch
	}
	return p, true
}

func (c Config) GroupByMember(dim dimension.ID) (Group, bool) {
	for _, g := range c.Groups {
		if g.Has(dim) {
			return g, true
		}
	}
	return Group{}, false
}

// GroupByID matches exactly, then case-insensitively.
func (c Config) GroupByID(id dimension.GroupID) (Group, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	for _, g := range c.Groups {
		if strings.EqualFold(string(g.ID), string(id)) {
			return g, true
		}
	}
	return Group{}, false
}

func (c Config) IsHub(dim dimension.ID) bool { return contains(c.HubDimensions, dim) }

func (c Config) IsDefault(dim dimension.ID) bool { return contains(c.DefaultDimensions, dim) }

// IsRecognized reports whether dim is a hub, a default dimension or a group member.
func (c Config) IsRecognized(dim dimension.ID) bool {
	if c.IsHub(dim) || c.IsDefault(dim) {
		return true
	}
	_, ok := c.GroupByMember(dim)
	return ok
}

// InventoryGroup resolves the inventory profile id for dim and whether
// inventories are segregated under it. An empty id means no profile applies.
func (c Config) InventoryGroup(dim dimension.ID) (string, bool) {
	if g, ok := c.GroupByMember(dim); ok {
		return string(g.ID), g.InventoryProfile
	}
	if c.InventoryProfileForDefaultWorlds && c.IsDefault(dim) {
		return InventoryDefault, true
	}
	if c.InventoryProfileForUngrouped {
		return InventoryUngrouped, true
	}
	return "", false
}

// NextForPortal returns the paired dimension for a transfer of kind. Only
// overworld<->nether and overworld<->end are valid.
func (c Config) NextForPortal(g Group, from dimension.ID, kind dimension.Kind) (dimension.ID, bool) {
	var other dimension.ID
	switch kind {
	case dimension.KindNether:
		other = g.Nether
	case dimension.KindEnd:
		other = g.End
	default:
		return "", false
	}
	if other == "" || from == "" {
		return "", false
	}
	switch from {
	case g.Overworld:
		return other, true
	case other:
		return g.Overworld, true
	}
	return "", false
}

// Dimensions lists every configured dimension once, hubs first.
func (c Config) Dimensions() []dimension.ID {
	var out []dimension.ID
	seen := map[dimension.ID]bool{}
	add := func(ids ...dimension.ID) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(c.HubDimensions...)
	add(c.DefaultDimensions...)
	for _, g := range c.Groups {
		add(g.Members()...)
	}
	add(c.End.ExitFrom, c.End.ExitTo)
	return out
}

func (c Config) FrameRules() geometry.FrameRules {
	return geometry.FrameRules{
		MinWidth:      c.Portal.MinInnerWidth,
		MinHeight:     c.Portal.MinInnerHeight,
		MaxWidth:      c.Portal.MaxInnerWidth,
		MaxHeight:     c.Portal.MaxInnerHeight,
		AllowOversize: c.Portal.AllowOversizeFrames,
	}
}

func (c Config) Platform() geometry.PlatformOptions {
	block, ok := voxel.MaterialByName(c.End.PlatformBlock)
	if !ok || !block.IsSolid() {
		block = voxel.EndStone
	}
	return geometry.PlatformOptions{
		Enabled:        c.End.CreateArrivalPlatform,
		Radius:         c.End.PlatformRadius,
		Block:          block,
		IslandMaterial: voxel.EndStone,
		SearchRadius:   c.End.MainIslandSearchRadius,
	}
}

// RestoreSearch is the wide-search bound used when restoring saved positions.
func (c Config) RestoreSearch() geometry.SearchOptions {
	opts := geometry.DefaultSearch()
	opts.MaxRadius = c.Restore.SafeSearchRadius
	return opts
}

func contains(ids []dimension.ID, id dimension.ID) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
