package protocol

import "darkarts.ai/internal/sim/world"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Account         string `json:"account"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	SessionID       string             `json:"session_id"`
	Thresholds      map[string]float64 `json:"thresholds,omitempty"`
}

// WORLD (client -> server): replaces the session's view of the world.
type WorldMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Snapshot        world.State `json:"snapshot"`
}

// Selector names a category and, optionally, a node type. Empty means None.
type Selector struct {
	Tag  string `json:"tag,omitempty"`
	Type string `json:"type,omitempty"`
}

// PLAN (client -> server)
type PlanMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	PlanID          string   `json:"plan_id"`
	Op              string   `json:"op"`
	Source          Selector `json:"source"`
	Dest            Selector `json:"dest,omitempty"`
	Target          string   `json:"target,omitempty"`
	MaxEnergy       float64  `json:"max_energy,omitempty"` // percent
	MaxSilver       float64  `json:"max_silver,omitempty"` // percent
	MinLevel        int      `json:"min_level,omitempty"`
}

// SET_THRESHOLD (client -> server)
type SetThresholdMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Kind            string  `json:"kind"`
	Value           float64 `json:"value"`
}

// MOVE (server -> client): one transfer the client should submit.
type MoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlanID          string `json:"plan_id"`
	From            string `json:"from"`
	To              string `json:"to"`
	Energy          int64  `json:"energy"`
	Silver          int64  `json:"silver"`
}

// PLAN_DONE (server -> client)
type PlanDoneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlanID          string `json:"plan_id"`
	BatchID         string `json:"batch_id,omitempty"`
	Sources         int    `json:"sources"`
	Moves           int    `json:"moves"`
	EnergySpent     int64  `json:"energy_spent"`
	SilverSpent     int64  `json:"silver_spent"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	PlanID          string `json:"plan_id,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
