package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/dispatch"
	"darkarts.ai/internal/sim/world"
)

func openTemp(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "darkarts.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return s, path
}

func TestSQLiteIndex_KVSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	if _, ok, err := s.Get(ctx, category.PrimaryKey); err != nil || ok {
		t.Fatalf("empty get: ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, category.PrimaryKey, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, category.PrimaryKey, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, ok, err := s2.Get(ctx, category.PrimaryKey)
	if err != nil || !ok || string(got) != `{"a":2}` {
		t.Fatalf("get after reopen: %q ok=%v err=%v", got, ok, err)
	}
}

func TestSQLiteIndex_BacksCategoryIndex(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	defer s.Close()

	idx := category.NewIndex(s, nil)
	if _, err := idx.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := idx.Add(ctx, category.Feeders, "0xabc"); err != nil {
		t.Fatalf("add: %v", err)
	}

	again := category.NewIndex(s, nil)
	a, err := again.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !a.Contains(category.Feeders, "0xabc") {
		t.Fatalf("membership not persisted: %v", a)
	}
}

func TestSQLiteIndex_Moves(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	defer s.Close()

	at := time.Unix(1700000000, 0)
	outcomes := []dispatch.Outcome{
		{BatchID: "b1", Move: world.Move{From: "a", To: "b", Energy: 10}, Reason: dispatch.Accepted, Recorded: at},
		{BatchID: "b1", Move: world.Move{From: "a", To: "c", Energy: 5, Silver: 300}, Reason: dispatch.Accepted, Recorded: at},
		{BatchID: "b2", Move: world.Move{From: "d", To: "d"}, Reason: dispatch.SelfMove, Recorded: at},
		{BatchID: "b2", Move: world.Move{From: "d", To: "e"}, Reason: dispatch.SubmitError, Error: "boom", Recorded: at},
	}
	for _, o := range outcomes {
		if err := s.RecordDispatch(o); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rows, err := s.Moves(ctx, MoveFilter{BatchID: "b1"})
	if err != nil {
		t.Fatalf("moves: %v", err)
	}
	if len(rows) != 2 || rows[0].To != "c" || rows[0].Silver != 300 {
		t.Fatalf("batch rows: %+v", rows)
	}
	rows, err = s.Moves(ctx, MoveFilter{From: "d", Limit: 1})
	if err != nil {
		t.Fatalf("moves: %v", err)
	}
	if len(rows) != 1 || rows[0].Reason != string(dispatch.SubmitError) || rows[0].Error != "boom" {
		t.Fatalf("filtered rows: %+v", rows)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqMove}

	_ = s.RecordDispatch(dispatch.Outcome{})
	_ = s.RecordDispatch(dispatch.Outcome{})

	st := s.Stats()
	if st.DropMoveTotal != 2 {
		t.Fatalf("DropMoveTotal=%d want=2", st.DropMoveTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_ClosedRejectsKV(t *testing.T) {
	s, _ := openTemp(t)
	_ = s.Close()
	if err := s.Put(context.Background(), "k", []byte("v")); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := s.RecordDispatch(dispatch.Outcome{}); err != nil {
		t.Fatalf("record after close should be a no-op: %v", err)
	}
}

func TestSQLiteIndex_FailedReadKeepsQueuedMoves(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	at := time.Unix(1700000000, 0)
	for i := 0; i < 10; i++ {
		if err := s.RecordDispatch(dispatch.Outcome{BatchID: "b", Move: world.Move{From: "a", To: "b", Energy: int64(i)}, Reason: dispatch.Accepted, Recorded: at}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 20; i++ {
		_, _, _ = s.Get(cancelled, category.PrimaryKey)
	}

	rows, err := s.Moves(context.Background(), MoveFilter{BatchID: "b"})
	if err != nil {
		t.Fatalf("moves: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("indexed %d of 10 rows (dropped=%d)", len(rows), s.Stats().DropMoveTotal)
	}
	if d := s.Stats().DropMoveTotal; d != 0 {
		t.Fatalf("DropMoveTotal=%d want=0", d)
	}
}
