package transition

import (
	"github.com/google/uuid"

	"worldmemory.ai/internal/sim/dimension"
	"worldmemory.ai/internal/sim/voxel"
)

type Cause uint8

const (
	CauseWorldChange Cause = iota
	CauseRespawn
	CausePortal
	CauseCommand
)

func (c Cause) String() string {
	switch c {
	case CauseRespawn:
		return "respawn"
	case CausePortal:
		return "portal"
	case CauseCommand:
		return "command"
	default:
		return "world_change"
	}
}

// Event is one host-observed dimension change. Alive is false only for a
// death respawn.
type Event struct {
	Client      uuid.UUID
	Origin      dimension.ID
	Destination dimension.ID
	Cause       Cause
	Alive       bool
	// OriginPose is the pose sampled just before the move, when the host
	// has one.
	OriginPose *voxel.Pose
}

type Outcome uint8

const (
	Suppressed Outcome = iota
	VanillaHonored
	Redirected
	Restored
	SpawnPlaced
	SkippedHub
	Corrected
)

var outcomeNames = [...]string{
	Suppressed:     "suppressed",
	VanillaHonored: "vanilla_honored",
	Redirected:     "redirected",
	Restored:       "restored",
	SpawnPlaced:    "spawn_placed",
	SkippedHub:     "skipped_hub",
	Corrected:      "corrected",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Result is where the client ended up. Err carries a failure that was
// absorbed by a fallback.
type Result struct {
	Outcome Outcome
	Final   dimension.ID
	Pose    voxel.Pose
	Err     error
}

// Observer is told about every handled event.
type Observer interface {
	ObserveOutcome(ev Event, res Result)
}
