package protocol

// Action names carried by ACT.
const (
	ActionMove    = "move"
	ActionDie     = "die"
	ActionUse     = "use"
	ActionIgnite  = "ignite"
	ActionTravel  = "travel"
	ActionCommand = "command"
)

// Command names carried by an ACT with action "command".
const (
	CommandGroup    = "group"
	CommandSurvival = "survival"
	CommandInfo     = "info"
)

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Action          string `json:"action"`

	// move
	Pose *Pose `json:"pose,omitempty"`

	// use / ignite
	Item string  `json:"item,omitempty"`
	At   *[3]int `json:"at,omitempty"`
	Face *[3]int `json:"face,omitempty"`

	// travel
	Dimension string `json:"dimension,omitempty"`

	// command
	Command string `json:"command,omitempty"`
	Group   string `json:"group,omitempty"`
}
