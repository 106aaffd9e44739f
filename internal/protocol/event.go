package protocol

// Event kinds pushed to clients.
const (
	EventPlacement = "placement"
	EventTransfer  = "transfer"
	EventOutcome   = "outcome"
	EventDeath     = "death"
	EventRespawn   = "respawn"
	EventItem      = "item"
)

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	Tick            int64  `json:"tick"`
	Dimension       string `json:"dimension,omitempty"`
	Pose            *Pose  `json:"pose,omitempty"`
	From            string `json:"from,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	Detail          string `json:"detail,omitempty"`
}
