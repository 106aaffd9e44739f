package protocol

// Pose is a position with facing in one dimension's coordinate space.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
}

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// ClientID resumes a known client; empty joins as a new one.
	ClientID string `json:"client_id,omitempty"`
	Name     string `json:"name"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ClientID        string   `json:"client_id"`
	Dimension       string   `json:"dimension"`
	Pose            Pose     `json:"pose"`
	Tick            int64    `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	Dimensions      []string `json:"dimensions"`
	Groups          []string `json:"groups,omitempty"`
}

type AckMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AckFor          string   `json:"ack_for"`
	Accepted        bool     `json:"accepted"`
	Code            string   `json:"code,omitempty"`
	Message         string   `json:"message,omitempty"`
	ServerTick      int64    `json:"server_tick,omitempty"`
	Dimension       string   `json:"dimension,omitempty"`
	Lines           []string `json:"lines,omitempty"`
}
