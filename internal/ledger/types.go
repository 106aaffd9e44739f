package ledger

import (
	"time"

	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

// SavedPosition is a pose remembered for one dimension, always in that
// dimension's coordinate space.
type SavedPosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	CapturedAt time.Time
}

func At(p voxel.Pose, now time.Time) SavedPosition {
	return SavedPosition{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch, CapturedAt: now}
}

func (s SavedPosition) Pose() voxel.Pose {
	return voxel.Pose{X: s.X, Y: s.Y, Z: s.Z, Yaw: s.Yaw, Pitch: s.Pitch}
}

func (s SavedPosition) String() string { return s.Pose().String() }

// Entry is everything remembered for one client.
type Entry struct {
	Positions       map[dimension.ID]SavedPosition
	LastDefault     dimension.ID
	LastGroupMember map[dimension.GroupID]dimension.ID
}

func (e Entry) Empty() bool {
	return len(e.Positions) == 0 && e.LastDefault == "" && len(e.LastGroupMember) == 0
}

func (e Entry) Clone() Entry {
	out := Entry{LastDefault: e.LastDefault}
	if e.Positions != nil {
		out.Positions = make(map[dimension.ID]SavedPosition, len(e.Positions))
		for k, v := range e.Positions {
			out.Positions[k] = v
		}
	}
	if e.LastGroupMember != nil {
		out.LastGroupMember = make(map[dimension.GroupID]dimension.ID, len(e.LastGroupMember))
		for k, v := range e.LastGroupMember {
			out.LastGroupMember[k] = v
		}
	}
	return out
}

// LastKnown is the per-tick sample taken before the host gets a chance to
// move the client. Never persisted.
type LastKnown struct {
	Dimension       dimension.ID
	Pose            voxel.Pose
	InNetherPortal  bool
	InEndPortal     bool
	TeleportCooling bool
}
