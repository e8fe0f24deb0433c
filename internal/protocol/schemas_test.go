package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"darkarts.ai/internal/protocol"
	"darkarts.ai/internal/sim/world"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// validate round-trips v through JSON so typed messages are checked as sent.
func validate(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Fatalf("validate %s: %v", b, err)
	}
}

func raw(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("sample: %v", err)
	}
	return v
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate(t, compile(t, "hello.schema.json"), raw(t, `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "account":"0x00aa"
	}`))

	validate(t, compile(t, "world.schema.json"), raw(t, `{
	  "type":"WORLD",
	  "protocol_version":"1.0",
	  "snapshot":{
	    "account":"0x00aa",
	    "nodes":[
	      {"id":"p1","owner":"0x00aa","location":{"x":0,"y":0},"type":0,"level":3,"energy":900,"energy_cap":1000,"silver":0,"silver_cap":500,"defense":100,"range":250},
	      {"id":"p2","owner":"0x0000000000000000000000000000000000000000"}
	    ],
	    "unconfirmed":[{"from":"p1","to":"p2"}],
	    "arrivals":[{"from":"p1","to":"p2","arrival_time":1700000000}]
	  }
	}`))

	validate(t, compile(t, "plan.schema.json"), raw(t, `{
	  "type":"PLAN",
	  "protocol_version":"1.0",
	  "plan_id":"c1",
	  "op":"distribute_silver",
	  "source":{"tag":"Artillery"},
	  "dest":{"tag":"None","type":"Foundry"},
	  "max_energy":50,
	  "min_level":2
	}`))

	validate(t, compile(t, "set_threshold.schema.json"), raw(t, `{
	  "type":"SET_THRESHOLD",
	  "protocol_version":"1.0",
	  "kind":"Attack",
	  "value":12.5
	}`))
}

func TestSchemas_ServerMessages(t *testing.T) {
	validate(t, compile(t, "welcome.schema.json"), protocol.WelcomeMsg{
		Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "s1",
		Thresholds: map[string]float64{"Energy": 85, "Feed": 0.05},
	})
	validate(t, compile(t, "move.schema.json"), protocol.MoveMsg{
		Type: protocol.TypeMove, ProtocolVersion: protocol.Version, PlanID: "c1", From: "a", To: "b", Energy: 425,
	})
	validate(t, compile(t, "plan_done.schema.json"), protocol.PlanDoneMsg{
		Type: protocol.TypePlanDone, ProtocolVersion: protocol.Version, PlanID: "c1", BatchID: "b", Sources: 1, Moves: 2, EnergySpent: 645,
	})
	validate(t, compile(t, "error.schema.json"), protocol.NewError(protocol.ErrUnknownOp, `unknown operation: "bombard"`))
	validate(t, compile(t, "world.schema.json"), protocol.WorldMsg{
		Type: protocol.TypeWorld, ProtocolVersion: protocol.Version,
		Snapshot: world.State{Account: "me", Nodes: []world.Node{{ID: "a", Owner: "me", Location: &world.Coords{X: 1}}}},
	})
}

func TestSchemas_RejectBadPlan(t *testing.T) {
	s := compile(t, "plan.schema.json")
	bad := raw(t, `{"type":"PLAN","protocol_version":"1.0","plan_id":"c1","op":"bombard","source":{"tag":"Blitz"}}`)
	if err := s.Validate(bad); err == nil {
		t.Fatalf("expected unknown op to fail validation")
	}
	bad = raw(t, `{"type":"PLAN","protocol_version":"1.0","plan_id":"c1","op":"feed","source":{"tag":"Cavalry"}}`)
	if err := s.Validate(bad); err == nil {
		t.Fatalf("expected unknown tag to fail validation")
	}
}
