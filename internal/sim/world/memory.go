package world

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Decay constants of the in-memory cost model: energy halves every Range
// units of distance and each move burns 5% of the sender's capacity.
const (
	halfLifeBase = 0.5
	moveOverhead = 0.05
	minRangePct  = 5.0
)

// State is a serialisable world snapshot.
type State struct {
	Account     string     `json:"account"`
	Nodes       []Node     `json:"nodes"`
	Unconfirmed []Transfer `json:"unconfirmed,omitempty"`
	Arrivals    []Arrival  `json:"arrivals,omitempty"`
}

// Memory is an in-memory World and Submitter. Submitted moves are appended
// to the unconfirmed list until Confirm is called.
type Memory struct {
	mu sync.RWMutex

	account     string
	nodes       map[string]Node
	order       []string
	unconfirmed []Transfer
	arrivals    []Arrival

	clock func() time.Time
}

func NewMemory(st State) *Memory {
	m := &Memory{clock: time.Now}
	m.Load(st)
	return m
}

// SetClock overrides the time source (tests).
func (m *Memory) SetClock(fn func() time.Time) {
	m.mu.Lock()
	m.clock = fn
	m.mu.Unlock()
}

// Load replaces the whole state.
func (m *Memory) Load(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = st.Account
	m.nodes = make(map[string]Node, len(st.Nodes))
	m.order = m.order[:0]
	for _, n := range st.Nodes {
		if _, dup := m.nodes[n.ID]; !dup {
			m.order = append(m.order, n.ID)
		}
		m.nodes[n.ID] = n
	}
	m.unconfirmed = append([]Transfer(nil), st.Unconfirmed...)
	m.arrivals = append([]Arrival(nil), st.Arrivals...)
}

func (m *Memory) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		Account:     m.account,
		Unconfirmed: append([]Transfer(nil), m.unconfirmed...),
		Arrivals:    append([]Arrival(nil), m.arrivals...),
	}
	for _, id := range m.order {
		st.Nodes = append(st.Nodes, m.nodes[id])
	}
	return st
}

func (m *Memory) Account() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

func (m *Memory) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock()
}

func (m *Memory) Node(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

func (m *Memory) OwnedNodes() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Node
	for _, id := range m.order {
		if n := m.nodes[id]; n.Owner == m.account {
			out = append(out, n)
		}
	}
	return out
}

func (m *Memory) NodesInRange(id string, pct float64) []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.nodes[id]
	if !ok || !src.Known() || pct <= minRangePct {
		return nil
	}
	maxDist := src.Range * math.Log2(pct/minRangePct)
	var out []Node
	for _, oid := range m.order {
		if oid == id {
			continue
		}
		n := m.nodes[oid]
		if !n.Known() {
			continue
		}
		if Distance(src, n) <= maxDist {
			out = append(out, n)
		}
	}
	return out
}

func (m *Memory) EnergyArriving(from, to string, dist, amount float64) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, err := m.pairLocked(from, to)
	if err != nil {
		return 0, err
	}
	arriving := amount*math.Pow(halfLifeBase, dist/src.Range) - moveOverhead*src.EnergyCap
	if arriving < 0 {
		return 0, nil
	}
	return arriving, nil
}

func (m *Memory) EnergyNeeded(from, to string, arriving float64) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, err := m.pairLocked(from, to)
	if err != nil {
		return 0, err
	}
	dst := m.nodes[to]
	dist := Distance(src, dst)
	return (arriving + moveOverhead*src.EnergyCap) / math.Pow(halfLifeBase, dist/src.Range), nil
}

func (m *Memory) pairLocked(from, to string) (Node, error) {
	src, ok := m.nodes[from]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	dst, ok := m.nodes[to]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	if !src.Known() || !dst.Known() || src.Range <= 0 {
		return Node{}, fmt.Errorf("%w: %s -> %s", ErrUnreachable, from, to)
	}
	return src, nil
}

func (m *Memory) Unconfirmed() []Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transfer(nil), m.unconfirmed...)
}

func (m *Memory) Arrivals(id string) []Arrival {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Arrival
	for _, a := range m.arrivals {
		if a.To == id {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) SubmitMove(_ context.Context, mv Move) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[mv.From]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, mv.From)
	}
	if _, ok := m.nodes[mv.To]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, mv.To)
	}
	m.unconfirmed = append(m.unconfirmed, Transfer{From: mv.From, To: mv.To})
	return nil
}

// Confirm turns every unconfirmed move into an arrival due at the given time.
func (m *Memory) Confirm(arriveAt time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.unconfirmed)
	for _, t := range m.unconfirmed {
		m.arrivals = append(m.arrivals, Arrival{From: t.From, To: t.To, ArrivalTime: arriveAt.Unix()})
	}
	m.unconfirmed = m.unconfirmed[:0]
	sort.SliceStable(m.arrivals, func(i, j int) bool { return m.arrivals[i].ArrivalTime < m.arrivals[j].ArrivalTime })
	return n
}
