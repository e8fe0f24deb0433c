package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	dispatchlog "darkarts.ai/internal/persistence/log"
	"darkarts.ai/internal/persistence/snapshot"
	"darkarts.ai/internal/sim/dispatch"
	"darkarts.ai/internal/sim/world"
)

// replay re-applies logged dispatch outcomes to a world file and reports
// what each batch did. Accepted moves are resubmitted to an in-memory world
// so moves against nodes the file does not know are caught.
func main() {
	var (
		worldPath = flag.String("world", "", "world state (.json) or snapshot (.snap.zst)")
		dataDir   = flag.String("data", "./data", "runtime data directory holding dispatch/*.jsonl.zst")
		batch     = flag.String("batch", "", "only replay this batch_id")
		since     = flag.String("since", "", "only replay outcomes at or after this RFC3339 time")
		confirm   = flag.Bool("confirm", false, "turn replayed moves into arrivals at the time of the last outcome")
		out       = flag.String("out", "", "write the resulting world as a snapshot")
	)
	flag.Parse()

	if *worldPath == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	st, err := snapshot.ReadState(*worldPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read world:", err)
		os.Exit(1)
	}
	f := filter{batch: *batch}
	if *since != "" {
		f.since, err = time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
	}
	outcomes, err := dispatchlog.ReadDispatch(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read dispatch log:", err)
		os.Exit(1)
	}

	w := world.NewMemory(st)
	sums, last := replay(context.Background(), w, outcomes, f)
	if *confirm && !last.IsZero() {
		w.Confirm(last)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, s := range sums {
		_ = enc.Encode(s)
	}
	if *out != "" {
		if err := snapshot.WriteSnapshot(*out, snapshot.New(w.State(), time.Now())); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
	}
	for _, s := range sums {
		if s.Unknown > 0 {
			os.Exit(3)
		}
	}
}

type filter struct {
	batch string
	since time.Time
}

func (f filter) match(o dispatch.Outcome) bool {
	if f.batch != "" && o.BatchID != f.batch {
		return false
	}
	return f.since.IsZero() || !o.Recorded.Before(f.since)
}

type summary struct {
	BatchID  string         `json:"batch_id"`
	First    time.Time      `json:"first"`
	Last     time.Time      `json:"last"`
	Accepted int            `json:"accepted"`
	Energy   int64          `json:"energy"`
	Silver   int64          `json:"silver"`
	Rejected map[string]int `json:"rejected,omitempty"`
	// Unknown counts accepted moves the world file cannot place.
	Unknown int `json:"unknown,omitempty"`
}

func replay(ctx context.Context, w *world.Memory, outcomes []dispatch.Outcome, f filter) ([]*summary, time.Time) {
	byBatch := map[string]*summary{}
	var last time.Time
	for _, o := range outcomes {
		if !f.match(o) {
			continue
		}
		s := byBatch[o.BatchID]
		if s == nil {
			s = &summary{BatchID: o.BatchID, First: o.Recorded}
			byBatch[o.BatchID] = s
		}
		s.Last = o.Recorded
		if o.Recorded.After(last) {
			last = o.Recorded
		}
		if !o.Accepted() {
			if s.Rejected == nil {
				s.Rejected = map[string]int{}
			}
			s.Rejected[string(o.Reason)]++
			continue
		}
		if err := w.SubmitMove(ctx, o.Move); err != nil {
			s.Unknown++
			continue
		}
		s.Accepted++
		s.Energy += o.Move.Energy
		s.Silver += o.Move.Silver
	}
	out := make([]*summary, 0, len(byBatch))
	for _, s := range byBatch {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].First.Equal(out[j].First) {
			return out[i].First.Before(out[j].First)
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out, last
}
