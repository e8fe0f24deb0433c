package alloc

import (
	"context"
	"math"
	"sort"

	"darkarts.ai/internal/sim/world"
)

// Candidate pairs a node with its distance from the node being planned for.
type Candidate struct {
	Node     world.Node
	Distance float64
}

// SortCandidates keeps the located nodes accepted by keep and orders them
// closest first. Equal distances keep their input order.
func SortCandidates(ref world.Node, nodes []world.Node, keep func(world.Node) bool) []Candidate {
	if !ref.Known() {
		return nil
	}
	out := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		if !n.Known() || n.ID == ref.ID {
			continue
		}
		if keep != nil && !keep(n) {
			continue
		}
		out = append(out, Candidate{Node: n, Distance: world.Distance(ref, n)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Cost is an amount of each resource.
type Cost struct {
	Energy int64 `json:"energy"`
	Silver int64 `json:"silver"`
}

// Budget caps what one source may commit during one call.
type Budget struct {
	Energy      int64
	Silver      int64
	TrackSilver bool
}

// NewBudget floors pct percent of the source's resources. silverPct <= 0
// leaves silver untracked.
func NewBudget(src world.Node, energyPct, silverPct float64) Budget {
	b := Budget{Energy: int64(math.Floor(energyPct * src.Energy / 100))}
	if silverPct > 0 {
		b.Silver = int64(math.Floor(silverPct * src.Silver / 100))
		b.TrackSilver = true
	}
	return b
}

// Plan parameterises the greedy loop for one operation.
type Plan struct {
	Name string
	// RequireClear skips destinations that already have something heading to them.
	RequireClear bool
	// Cost prices one transfer given what is left; false means "not worth it".
	Cost func(src, dst world.Node, left Cost) (Cost, bool)
}

// Result is what one source committed during one call.
type Result struct {
	Source      string       `json:"source"`
	Moves       []world.Move `json:"moves"`
	Visited     []string     `json:"visited,omitempty"`
	EnergySpent int64        `json:"energy_spent"`
	SilverSpent int64        `json:"silver_spent"`
	Skipped     string       `json:"skipped,omitempty"`
}

func (r Result) Count() int { return len(r.Moves) }

// greedy walks candidates in order, committing each affordable transfer
// until the energy budget runs out. Budget tracking is local: the world is
// never re-read for resource levels mid-loop.
func (e *Engine) greedy(ctx context.Context, batchID string, src world.Node, cands []Candidate, p Plan, b Budget) Result {
	res := Result{Source: src.ID}
	for _, c := range cands {
		left := Cost{Energy: b.Energy - res.EnergySpent, Silver: b.Silver - res.SilverSpent}
		if left.Energy <= 0 {
			break
		}
		dst := c.Node
		res.Visited = append(res.Visited, dst.ID)

		if p.RequireClear && !e.limiter.Clear(dst.ID) {
			e.log.Debug("destination busy", "plan", p.Name, "src", src.ID, "dst", dst.ID)
			continue
		}
		cost, ok := p.Cost(src, dst, left)
		if !ok || (cost.Energy <= 0 && cost.Silver <= 0) {
			continue
		}
		if cost.Energy > left.Energy || (b.TrackSilver && cost.Silver > left.Silver) {
			e.log.Debug("over budget", "plan", p.Name, "src", src.ID, "dst", dst.ID, "energy", cost.Energy, "energy_left", left.Energy)
			continue
		}

		m := world.Move{From: src.ID, To: dst.ID, Energy: cost.Energy, Silver: cost.Silver}
		if o := e.disp.Submit(ctx, batchID, m); !o.Accepted() {
			continue
		}
		res.Moves = append(res.Moves, m)
		res.EnergySpent += cost.Energy
		res.SilverSpent += cost.Silver
	}
	return res
}
