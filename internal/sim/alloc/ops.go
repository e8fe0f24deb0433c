package alloc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/threshold"
	"darkarts.ai/internal/sim/world"
)

const (
	OpCapture          = "capture"
	OpFeed             = "feed"
	OpDistributeEnergy = "distribute_energy"
	OpDistributeSilver = "distribute_silver"
)

var ErrUnknownOp = errors.New("unknown operation")

// Plan queues the named operation.
func (e *Engine) Plan(ctx context.Context, op string, r Request) (*Batch, error) {
	switch op {
	case OpCapture:
		return e.Capture(ctx, r)
	case OpFeed:
		return e.Feed(ctx, r)
	case OpDistributeEnergy:
		return e.DistributeEnergy(ctx, r)
	case OpDistributeSilver:
		return e.DistributeSilver(ctx, r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
}

// Request describes one bulk operation. Zero percentages fall back to the
// Energy and Silver thresholds; a zero MinLevel falls back to the
// operation default.
type Request struct {
	Source    Selector
	Dest      Selector
	Target    string // feed only
	EnergyPct float64
	SilverPct float64
	MinLevel  int
}

func (e *Engine) energyPct(r Request) float64 {
	if r.EnergyPct > 0 {
		return r.EnergyPct
	}
	return e.thresholds.Get(threshold.Energy).Points()
}

func (e *Engine) silverPct(r Request) float64 {
	if r.SilverPct > 0 {
		return r.SilverPct
	}
	return e.thresholds.Get(threshold.Silver).Points()
}

func (e *Engine) evaluate(src, dst world.Node, pct float64) int64 {
	if e.cfg.StrictProfitCheck {
		return e.calc.EvaluateStrict(src, dst, pct)
	}
	return e.calc.Evaluate(src, dst, pct)
}

// Capture sends lethal payloads from every selected source to pirate-held
// destinations in range.
func (e *Engine) Capture(ctx context.Context, r Request) (*Batch, error) {
	pct := e.energyPct(r)
	minLevel := r.MinLevel
	if minLevel <= 0 {
		minLevel = e.cfg.CaptureMinLevel
	}
	match := e.matcher(r.Dest)
	var runs []func(context.Context, string) Result
	for _, s := range e.Sources(r.Source) {
		id := s.ID
		runs = append(runs, func(ctx context.Context, batchID string) Result {
			return e.captureFrom(ctx, batchID, id, pct, minLevel, match)
		})
	}
	return e.enqueue(ctx, OpCapture, runs)
}

func (e *Engine) captureFrom(ctx context.Context, batchID, srcID string, pct float64, minLevel int, match func(world.Node) bool) Result {
	src, ok := e.world.Node(srcID)
	if !ok {
		return Result{Source: srcID, Skipped: "unknown source"}
	}
	// All or nothing: a source with anything in flight sits this call out.
	if n := e.limiter.Outbound(src.ID); n != 0 {
		e.log.Debug("capture skipped, source busy", "src", src.ID, "outstanding", n)
		return Result{Source: src.ID, Skipped: "outbound pending"}
	}
	me := e.world.Account()
	cands := SortCandidates(src, e.world.NodesInRange(src.ID, pct), func(n world.Node) bool {
		return n.Owner != me && n.Owner == world.Pirate && n.Level >= minLevel && match(n)
	})
	plan := Plan{
		Name:         OpCapture,
		RequireClear: true,
		Cost: func(src, dst world.Node, _ Cost) (Cost, bool) {
			lethal := dst.EnergyCap*e.cfg.CaptureLethalFraction + dst.Energy*(dst.Defense/100)
			need, err := e.world.EnergyNeeded(src.ID, dst.ID, lethal)
			if err != nil {
				return Cost{}, false
			}
			return Cost{Energy: int64(math.Ceil(need))}, true
		},
	}
	return e.greedy(ctx, batchID, src, cands, plan, NewBudget(src, pct, 0))
}

// Feed sends energy from every selected source that can reach the target,
// closest first. Each source is bounded by its own spend percentage only.
func (e *Engine) Feed(ctx context.Context, r Request) (*Batch, error) {
	target, ok := e.world.Node(r.Target)
	me := e.world.Account()
	if !ok || (target.Owner != me && target.Owner != world.Pirate) {
		e.log.Debug("feed target not feedable", "target", r.Target, "found", ok)
		return e.enqueue(ctx, OpFeed, nil)
	}
	pct := e.energyPct(r)
	var srcIDs []string
	for _, s := range e.Sources(r.Source) {
		for _, n := range e.world.NodesInRange(s.ID, pct) {
			if n.ID == target.ID {
				srcIDs = append(srcIDs, s.ID)
				break
			}
		}
	}
	if len(srcIDs) == 0 {
		return e.enqueue(ctx, OpFeed, nil)
	}
	run := func(ctx context.Context, batchID string) Result {
		return e.feedTarget(ctx, batchID, target.ID, srcIDs, pct)
	}
	return e.enqueue(ctx, OpFeed, []func(context.Context, string) Result{run})
}

func (e *Engine) feedTarget(ctx context.Context, batchID, targetID string, srcIDs []string, pct float64) Result {
	res := Result{Source: targetID}
	target, ok := e.world.Node(targetID)
	if !ok {
		res.Skipped = "unknown target"
		return res
	}
	srcs := make([]world.Node, 0, len(srcIDs))
	for _, id := range srcIDs {
		if n, ok := e.world.Node(id); ok {
			srcs = append(srcs, n)
		}
	}
	for _, c := range SortCandidates(target, srcs, nil) {
		src := c.Node
		res.Visited = append(res.Visited, src.ID)
		power := e.evaluate(src, target, pct)
		if power <= 0 {
			continue
		}
		m := world.Move{From: src.ID, To: target.ID, Energy: power}
		if o := e.disp.Submit(ctx, batchID, m); !o.Accepted() {
			continue
		}
		res.Moves = append(res.Moves, m)
		res.EnergySpent += power
	}
	return res
}

// DistributeEnergy spreads energy from each selected source to the owned
// destinations in range, closest first.
func (e *Engine) DistributeEnergy(ctx context.Context, r Request) (*Batch, error) {
	pct := e.energyPct(r)
	plan := Plan{
		Name:         OpDistributeEnergy,
		RequireClear: true,
		Cost: func(src, dst world.Node, _ Cost) (Cost, bool) {
			p := e.evaluate(src, dst, pct)
			return Cost{Energy: p}, p > 0
		},
	}
	return e.distribute(ctx, OpDistributeEnergy, r, plan, pct, 0)
}

// DistributeSilver tops up silver on the owned destinations in range,
// closest first, paying the energy to move it.
func (e *Engine) DistributeSilver(ctx context.Context, r Request) (*Batch, error) {
	pct := e.energyPct(r)
	plan := Plan{
		Name:         OpDistributeSilver,
		RequireClear: true,
		Cost: func(src, dst world.Node, left Cost) (Cost, bool) {
			silver := int64(math.Ceil(dst.SilverCap - dst.Silver))
			if silver > left.Silver {
				silver = left.Silver
			}
			if silver < e.cfg.MinSilverTransfer {
				return Cost{}, false
			}
			need, err := e.world.EnergyNeeded(src.ID, dst.ID, 1)
			if err != nil {
				return Cost{}, false
			}
			return Cost{Energy: int64(math.Ceil(need)), Silver: silver}, true
		},
	}
	return e.distribute(ctx, OpDistributeSilver, r, plan, pct, e.silverPct(r))
}

func (e *Engine) distribute(ctx context.Context, op string, r Request, plan Plan, pct, silverPct float64) (*Batch, error) {
	minLevel := r.MinLevel
	if minLevel <= 0 {
		minLevel = e.cfg.DistributeMinLevel
	}
	match := e.matcher(r.Dest)
	railroad := r.Dest.Tag == category.Railroads
	var runs []func(context.Context, string) Result
	for _, s := range e.Sources(r.Source) {
		id := s.ID
		runs = append(runs, func(ctx context.Context, batchID string) Result {
			src, ok := e.world.Node(id)
			if !ok {
				return Result{Source: id, Skipped: "unknown source"}
			}
			me := e.world.Account()
			cands := SortCandidates(src, e.world.NodesInRange(src.ID, pct), func(n world.Node) bool {
				return n.Owner == me && match(n)
			})
			// Railroads are exclusive delivery points: only the closest one is
			// served, and the level filter applies after that choice.
			if railroad && len(cands) > 1 {
				cands = cands[:1]
			}
			cands = slices.DeleteFunc(cands, func(c Candidate) bool { return c.Node.Level < minLevel })
			return e.greedy(ctx, batchID, src, cands, plan, NewBudget(src, pct, silverPct))
		})
	}
	return e.enqueue(ctx, op, runs)
}
