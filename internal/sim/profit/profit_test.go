package profit

import (
	"testing"

	"darkarts.ai/internal/sim/threshold"
	"darkarts.ai/internal/sim/world"
)

func at(x, y float64) *world.Coords { return &world.Coords{X: x, Y: y} }

func newCalc(t *testing.T, nodes ...world.Node) (*Calculator, *world.Memory) {
	t.Helper()
	base := []world.Node{
		{ID: "src", Owner: "me", Location: at(0, 0), Energy: 1000, EnergyCap: 1000, Range: 100, Defense: 100},
	}
	w := world.NewMemory(world.State{Account: "me", Nodes: append(base, nodes...)})
	th, err := threshold.NewStore(nil)
	if err != nil {
		t.Fatalf("threshold store: %v", err)
	}
	return New(w, th, nil), w
}

func node(t *testing.T, w *world.Memory, id string) world.Node {
	t.Helper()
	n, ok := w.Node(id)
	if !ok {
		t.Fatalf("missing node %s", id)
	}
	return n
}

func TestEvaluate_OwnedDestination(t *testing.T) {
	c, w := newCalc(t, world.Node{ID: "mine", Owner: "me", Location: at(100, 0), EnergyCap: 1000, Defense: 100})
	// 500 sent, 200 lands: 20% of capacity.
	if got := c.Evaluate(node(t, w, "src"), node(t, w, "mine"), 50); got != 500 {
		t.Fatalf("owned: got %d want 500", got)
	}
}

func TestEvaluate_HostileUsesAttackThreshold(t *testing.T) {
	c, w := newCalc(t,
		world.Node{ID: "weak", Owner: "enemy", Location: at(100, 0), EnergyCap: 1000, Defense: 200},
		world.Node{ID: "strong", Owner: "enemy", Location: at(100, 0), EnergyCap: 1000, Defense: 300},
	)
	src := node(t, w, "src")
	// 200 / 2 = 100 lands: exactly 10%.
	if got := c.Evaluate(src, node(t, w, "weak"), 50); got != 500 {
		t.Fatalf("weak: got %d want 500", got)
	}
	// 200 / 3 = 66 lands: 6.6% < 10%.
	if got := c.Evaluate(src, node(t, w, "strong"), 50); got != 0 {
		t.Fatalf("strong: got %d want 0", got)
	}
}

func TestEvaluate_PirateUsesFeedThreshold(t *testing.T) {
	c, w := newCalc(t, world.Node{ID: "pirate", Owner: world.Pirate, Location: at(100, 0), EnergyCap: 1000, Defense: 300})
	if got := c.Evaluate(node(t, w, "src"), node(t, w, "pirate"), 50); got != 500 {
		t.Fatalf("pirate: got %d want 500", got)
	}
}

func TestEvaluate_NeutralSignals(t *testing.T) {
	c, w := newCalc(t,
		world.Node{ID: "lost", Owner: "me", EnergyCap: 1000},
		world.Node{ID: "far", Owner: "me", Location: at(10000, 0), EnergyCap: 1000},
		world.Node{ID: "norange", Owner: "me", Location: at(1, 1), Energy: 1000, EnergyCap: 1000},
	)
	src := node(t, w, "src")
	if got := c.Evaluate(src, node(t, w, "lost"), 50); got != 0 {
		t.Fatalf("unknown location: got %d", got)
	}
	if got := c.Evaluate(src, node(t, w, "far"), 50); got != 0 {
		t.Fatalf("nothing lands: got %d", got)
	}
	// Oracle error (source without range) is absorbed.
	if got := c.Evaluate(node(t, w, "norange"), src, 50); got != 0 {
		t.Fatalf("oracle failure: got %d", got)
	}
	if got := c.EvaluateStrict(src, node(t, w, "src"), 10); got != 0 {
		t.Fatalf("strict: got %d", got)
	}
}

func TestEvaluateBatch(t *testing.T) {
	c, w := newCalc(t,
		world.Node{ID: "m1", Owner: "me", Location: at(100, 0), EnergyCap: 1000, Defense: 100},
		world.Node{ID: "m2", Owner: "me", Location: at(0, 100), EnergyCap: 1000, Defense: 100},
		world.Node{ID: "far", Owner: "me", Location: at(10000, 0), EnergyCap: 1000, Defense: 100},
	)
	src := node(t, w, "src")
	got := c.EvaluateBatch(src, []world.Node{node(t, w, "m1"), node(t, w, "m2"), node(t, w, "far")})
	// 85% of 1000 for each reachable destination.
	if got != 1700 {
		t.Fatalf("batch: got %d want 1700", got)
	}
}
