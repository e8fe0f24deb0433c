package profit

import (
	"log/slog"
	"math"

	"darkarts.ai/internal/sim/threshold"
	"darkarts.ai/internal/sim/world"
)

// strictMinSpend is the spend percentage at or below which strict
// evaluation refuses to plan anything.
const strictMinSpend = 10

// Calculator decides whether a single src -> dst transfer is worth making.
type Calculator struct {
	world      world.World
	thresholds *threshold.Store
	log        *slog.Logger
}

func New(w world.World, th *threshold.Store, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Calculator{world: w, thresholds: th, log: logger}
}

// Evaluate returns the energy to commit at src when sending spendPct percent
// of its energy to dst, or 0 if the landing amount misses the threshold.
// Oracle failures are reported as 0.
func (c *Calculator) Evaluate(src, dst world.Node, spendPct float64) int64 {
	if !src.Known() || !dst.Known() {
		return 0
	}
	offense := int64(math.Floor(src.Energy * spendPct / 100))
	if offense <= 0 {
		return 0
	}

	arriving, err := c.world.EnergyArriving(src.ID, dst.ID, world.Distance(src, dst), float64(offense))
	if err != nil {
		c.log.Debug("energy oracle failed", "src", src.ID, "dst", dst.ID, "error", err)
		return 0
	}
	landed := math.Floor(arriving)

	need := c.thresholds.Get(threshold.Feed)
	if dst.Owner != c.world.Account() {
		landed = math.Floor(arriving / defenseFactor(dst))
		if dst.Owner != world.Pirate {
			need = c.thresholds.Get(threshold.Attack)
		}
	}
	if dst.EnergyCap <= 0 {
		return 0
	}
	if !threshold.FromFraction(landed / dst.EnergyCap).AtLeast(need) {
		return 0
	}
	return offense
}

// EvaluateStrict is Evaluate that also refuses spend percentages at or below 10.
func (c *Calculator) EvaluateStrict(src, dst world.Node, spendPct float64) int64 {
	if spendPct <= strictMinSpend {
		return 0
	}
	return c.Evaluate(src, dst, spendPct)
}

// EvaluateBatch sums the potential of src against every destination at the
// configured Energy threshold. Reporting only.
func (c *Calculator) EvaluateBatch(src world.Node, dsts []world.Node) int64 {
	pct := c.thresholds.Get(threshold.Energy).Points()
	var sum int64
	for _, d := range dsts {
		if p := c.Evaluate(src, d, pct); p > 0 {
			sum += p
		}
	}
	return sum
}

func defenseFactor(n world.Node) float64 {
	if n.Defense <= 0 {
		return 1
	}
	return n.Defense / 100
}
