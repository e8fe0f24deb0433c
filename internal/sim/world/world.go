package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Pirate owns every node nobody has claimed yet.
const Pirate = "0x0000000000000000000000000000000000000000"

// MaxLevel is the highest node level ("king" nodes in stats).
const MaxLevel = 4

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrUnreachable = errors.New("node unreachable")
)

type Coords struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeType int

const (
	TypePlanet NodeType = iota
	TypeAsteroid
	TypeFoundry
	TypeSpaceRip
	TypeQuasar
	TypeNone NodeType = 20
)

var nodeTypeLabels = map[NodeType]string{
	TypePlanet:   "Planet",
	TypeAsteroid: "Asteroid",
	TypeFoundry:  "Foundry",
	TypeSpaceRip: "SpaceRip",
	TypeQuasar:   "Quasar",
	TypeNone:     "None",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeLabels[t]; ok {
		return s
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

func ParseNodeType(s string) (NodeType, error) {
	for t, label := range nodeTypeLabels {
		if label == s {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown node type %q", s)
}

// Node is a read-only view of a world node.
type Node struct {
	ID       string   `json:"id"`
	Owner    string   `json:"owner"`
	Location *Coords  `json:"location,omitempty"`
	Type     NodeType `json:"type"`
	Level    int      `json:"level"`

	Energy    float64 `json:"energy"`
	EnergyCap float64 `json:"energy_cap"`
	Silver    float64 `json:"silver"`
	SilverCap float64 `json:"silver_cap"`

	// Defense is the resistance percentage; 100 is neutral.
	Defense float64 `json:"defense"`
	// Range is the base transfer range used by the cost oracle.
	Range float64 `json:"range"`
}

func (n Node) Known() bool { return n.ID != "" && n.Location != nil }

// Distance is the euclidean distance between two located nodes.
// Callers must check Known first.
func Distance(a, b Node) float64 {
	dx := a.Location.X - b.Location.X
	dy := a.Location.Y - b.Location.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Transfer is an unconfirmed move that the world has not yet accepted.
type Transfer struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Arrival is a voyage already en route.
type Arrival struct {
	From        string `json:"from"`
	To          string `json:"to"`
	ArrivalTime int64  `json:"arrival_time"` // unix seconds
}

// Move is a transfer request handed to the world.
type Move struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Energy int64  `json:"energy"`
	Silver int64  `json:"silver"`
}

// World is the query surface of the simulated world.
type World interface {
	Account() string
	Now() time.Time

	Node(id string) (Node, bool)
	OwnedNodes() []Node
	// NodesInRange lists nodes reachable from id when spending pct percent of its energy.
	NodesInRange(id string, pct float64) []Node

	// EnergyArriving returns how much of amount survives the trip from -> to.
	EnergyArriving(from, to string, dist, amount float64) (float64, error)
	// EnergyNeeded returns how much must leave from so that arriving reaches to.
	EnergyNeeded(from, to string, arriving float64) (float64, error)

	Unconfirmed() []Transfer
	Arrivals(id string) []Arrival
}

type Submitter interface {
	SubmitMove(ctx context.Context, m Move) error
}
