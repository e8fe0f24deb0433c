package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"darkarts.ai/internal/protocol"
	"darkarts.ai/internal/sim/alloc"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/world"
)

func startServer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	idx := category.NewIndex(category.NewMemoryStore(), nil)
	if _, err := idx.Load(ctx); err != nil {
		t.Fatalf("load index: %v", err)
	}
	if _, err := idx.Add(ctx, category.Artillery, "S"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := idx.Add(ctx, category.Feeders, "D"); err != nil {
		t.Fatalf("add: %v", err)
	}
	srv := httptest.NewServer(NewServer(Options{Index: idx, Engine: alloc.DefaultConfig()}).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn, wantType string, into any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read %s: %v", wantType, err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != wantType {
		t.Fatalf("want %s, got %s", wantType, msg)
	}
	if err := json.Unmarshal(msg, into); err != nil {
		t.Fatalf("decode %s: %v", wantType, err)
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Account: "me"})
	var w protocol.WelcomeMsg
	read(t, conn, protocol.TypeWelcome, &w)
	return w
}

func expectError(t *testing.T, conn *websocket.Conn, code string) protocol.ErrorMsg {
	t.Helper()
	var e protocol.ErrorMsg
	read(t, conn, protocol.TypeError, &e)
	if e.Code != code {
		t.Fatalf("error code %s want %s (%s)", e.Code, code, e.Message)
	}
	return e
}

func planMsg(id, op string) protocol.PlanMsg {
	return protocol.PlanMsg{
		Type:            protocol.TypePlan,
		ProtocolVersion: protocol.Version,
		PlanID:          id,
		Op:              op,
		Source:          protocol.Selector{Tag: "Artillery"},
		Dest:            protocol.Selector{Tag: "Feeders"},
		MaxEnergy:       50,
	}
}

func TestSession_PlanStreamsMoves(t *testing.T) {
	conn := dial(t, startServer(t))
	w := hello(t, conn)
	if w.SessionID == "" || w.Thresholds["Energy"] != 85 {
		t.Fatalf("welcome: %+v", w)
	}

	send(t, conn, planMsg("early", alloc.OpDistributeEnergy))
	if e := expectError(t, conn, protocol.ErrNoWorld); e.PlanID != "early" {
		t.Fatalf("plan id not echoed: %+v", e)
	}

	send(t, conn, protocol.WorldMsg{
		Type:            protocol.TypeWorld,
		ProtocolVersion: protocol.Version,
		Snapshot: world.State{Nodes: []world.Node{
			{ID: "S", Owner: "me", Location: &world.Coords{}, Energy: 1000, EnergyCap: 1000, Range: 100, Level: 3, Defense: 100},
			{ID: "D", Owner: "me", Location: &world.Coords{X: 100}, EnergyCap: 1000, Level: 2, Defense: 100},
		}},
	})
	send(t, conn, planMsg("p1", alloc.OpDistributeEnergy))

	var mv protocol.MoveMsg
	read(t, conn, protocol.TypeMove, &mv)
	if mv.PlanID != "p1" || mv.From != "S" || mv.To != "D" || mv.Energy != 500 {
		t.Fatalf("move: %+v", mv)
	}
	var done protocol.PlanDoneMsg
	read(t, conn, protocol.TypePlanDone, &done)
	if done.PlanID != "p1" || done.Moves != 1 || done.EnergySpent != 500 || done.BatchID == "" {
		t.Fatalf("plan done: %+v", done)
	}

	// D now has a transfer heading to it.
	send(t, conn, planMsg("p2", alloc.OpDistributeEnergy))
	read(t, conn, protocol.TypePlanDone, &done)
	if done.PlanID != "p2" || done.Moves != 0 {
		t.Fatalf("second plan should find nothing clear: %+v", done)
	}
}

func TestSession_Rejections(t *testing.T) {
	conn := dial(t, startServer(t))
	hello(t, conn)
	send(t, conn, protocol.WorldMsg{
		Type:            protocol.TypeWorld,
		ProtocolVersion: protocol.Version,
		Snapshot:        world.State{Account: "me", Nodes: []world.Node{{ID: "S", Owner: "me", Location: &world.Coords{}}}},
	})

	send(t, conn, planMsg("x1", "bombard"))
	expectError(t, conn, protocol.ErrUnknownOp)

	bad := planMsg("x2", alloc.OpCapture)
	bad.Source.Tag = "Cavalry"
	send(t, conn, bad)
	expectError(t, conn, protocol.ErrUnknownTag)

	feed := planMsg("x3", alloc.OpFeed)
	send(t, conn, feed)
	expectError(t, conn, protocol.ErrInvalidTarget)

	send(t, conn, protocol.SetThresholdMsg{Type: protocol.TypeSetThreshold, ProtocolVersion: protocol.Version, Kind: "Feed", Value: 0})
	expectError(t, conn, protocol.ErrBadThreshold)

	send(t, conn, protocol.SetThresholdMsg{Type: protocol.TypeSetThreshold, ProtocolVersion: protocol.Version, Kind: "Greed", Value: 3})
	expectError(t, conn, protocol.ErrBadThreshold)

	send(t, conn, map[string]string{"type": "PLAN", "protocol_version": "0.1"})
	expectError(t, conn, protocol.ErrProtoVersion)
}

func TestHandshake_RejectsBadVersion(t *testing.T) {
	conn := dial(t, startServer(t))
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.9", Account: "me"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy close, got %v", err)
	}
}
