package ratelimit

import (
	"context"
	"testing"
	"time"

	"darkarts.ai/internal/sim/world"
)

func newWorld() *world.Memory {
	w := world.NewMemory(world.State{
		Account: "me",
		Nodes: []world.Node{
			{ID: "a", Owner: "me", Location: &world.Coords{}},
			{ID: "b", Owner: "me", Location: &world.Coords{X: 1}},
			{ID: "c", Owner: "me", Location: &world.Coords{X: 2}},
		},
	})
	w.SetClock(func() time.Time { return time.Unix(1000, 0) })
	return w
}

func TestLimiter_OutboundCeiling(t *testing.T) {
	w := newWorld()
	l := New(w, 0, nil)
	if l.Ceiling() != DefaultCeiling {
		t.Fatalf("default ceiling: %d", l.Ceiling())
	}
	for i := 0; i < 4; i++ {
		_ = w.SubmitMove(context.Background(), world.Move{From: "a", To: "b"})
	}
	if l.OutboundLimited("a") {
		t.Fatalf("4 outstanding should not limit")
	}
	_ = w.SubmitMove(context.Background(), world.Move{From: "a", To: "c"})
	if !l.OutboundLimited("a") {
		t.Fatalf("5 outstanding should limit")
	}
	if l.OutboundLimited("b") {
		t.Fatalf("b has no outbound transfers")
	}
}

func TestLimiter_InboundCountsFutureArrivalsOnly(t *testing.T) {
	w := newWorld()
	l := New(w, 5, nil)
	for i := 0; i < 3; i++ {
		_ = w.SubmitMove(context.Background(), world.Move{From: "a", To: "c"})
	}
	st := w.State()
	st.Arrivals = []world.Arrival{
		{From: "b", To: "c", ArrivalTime: 900},  // already landed
		{From: "b", To: "c", ArrivalTime: 1500}, // en route
	}
	w.Load(st)

	if got := l.Inbound("c"); got != 4 {
		t.Fatalf("inbound: got %d want 4", got)
	}
	if l.InboundLimited("c") {
		t.Fatalf("4 should not limit")
	}
	st.Arrivals = append(st.Arrivals, world.Arrival{From: "a", To: "c", ArrivalTime: 2000})
	w.Load(st)
	if !l.InboundLimited("c") {
		t.Fatalf("5 should limit")
	}
}

func TestLimiter_ClearSeesFreshState(t *testing.T) {
	w := newWorld()
	l := New(w, 5, nil)
	if !l.Clear("b") {
		t.Fatalf("b should start clear")
	}
	_ = w.SubmitMove(context.Background(), world.Move{From: "a", To: "b"})
	if l.Clear("b") {
		t.Fatalf("b has an unconfirmed inbound transfer")
	}
	w.Confirm(time.Unix(1100, 0))
	if l.Clear("b") {
		t.Fatalf("b has a pending arrival")
	}
	w.SetClock(func() time.Time { return time.Unix(1200, 0) })
	if !l.Clear("b") {
		t.Fatalf("arrival landed, b should be clear")
	}
}
