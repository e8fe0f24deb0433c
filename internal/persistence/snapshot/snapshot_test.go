package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"darkarts.ai/internal/sim/world"
)

func sampleState() world.State {
	return world.State{
		Account: "0xme",
		Nodes: []world.Node{
			{ID: "a", Owner: "0xme", Location: &world.Coords{X: 1, Y: 2}, Type: world.TypeFoundry, Level: 3, Energy: 500, EnergyCap: 1000, Range: 100},
			{ID: "b", Owner: world.Pirate, Energy: 10},
		},
		Unconfirmed: []world.Transfer{{From: "a", To: "b"}},
		Arrivals:    []world.Arrival{{From: "a", To: "b", ArrivalTime: 1700000000}},
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "world.snap.zst")
	in := New(sampleState(), time.Unix(1700000000, 0))
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header != in.Header || out.Header.Nodes != 2 {
		t.Fatalf("header: %+v", out.Header)
	}
	if len(out.State.Nodes) != 2 || out.State.Nodes[0].Location == nil || out.State.Nodes[0].Location.Y != 2 {
		t.Fatalf("nodes: %+v", out.State.Nodes)
	}
	if out.State.Nodes[1].Location != nil {
		t.Fatalf("unknown location should stay nil")
	}
	if out.State.Nodes[0].Type != world.TypeFoundry || len(out.State.Arrivals) != 1 {
		t.Fatalf("state: %+v", out.State)
	}
}

func TestReadSnapshot_RejectsOtherVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2.snap.zst")
	s := New(sampleState(), time.Now())
	s.Header.Version = 2
	if err := WriteSnapshot(path, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestReadState_JSONAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	raw, _ := json.Marshal(sampleState())
	jsonPath := filepath.Join(dir, "world.json")
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	st, err := ReadState(jsonPath)
	if err != nil || st.Account != "0xme" || len(st.Nodes) != 2 {
		t.Fatalf("json state: %+v err=%v", st, err)
	}

	zstPath := filepath.Join(dir, "world.snap.zst")
	if err := WriteSnapshot(zstPath, New(st, time.Now())); err != nil {
		t.Fatalf("write snap: %v", err)
	}
	st2, err := ReadState(zstPath)
	if err != nil || len(st2.Unconfirmed) != 1 {
		t.Fatalf("snap state: %+v err=%v", st2, err)
	}
}
