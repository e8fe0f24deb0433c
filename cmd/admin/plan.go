package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	dispatchlog "darkarts.ai/internal/persistence/log"
	"darkarts.ai/internal/persistence/snapshot"
	"darkarts.ai/internal/sim/alloc"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/dispatch"
	"darkarts.ai/internal/sim/world"
)

// planCmd runs one bulk operation against a world file and prints the report.
func planCmd(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	c := commonFlags(fs)
	worldPath := fs.String("world", "", "world state (.json) or snapshot (.snap.zst) (required)")
	op := fs.String("op", "", "capture|feed|distribute_energy|distribute_silver")
	srcTag := fs.String("source", "", "source category (Blitz, Feeders, Artillery, Railroads, None)")
	srcType := fs.String("source-type", "", "source node type (Planet, Asteroid, Foundry, SpaceRip, Quasar)")
	dstTag := fs.String("dest", "", "destination category")
	dstType := fs.String("dest-type", "", "destination node type")
	target := fs.String("target", "", "feed target node id")
	energy := fs.Float64("energy", 0, "max energy percent per source (0 = Energy threshold)")
	silver := fs.Float64("silver", 0, "max silver percent per source (0 = Silver threshold)")
	minLevel := fs.Int("min-level", 0, "minimum destination level (0 = operation default)")
	stats := fs.Bool("stats", false, "print stats for -source instead of planning")
	outPath := fs.String("out", "", "write the resulting world snapshot here (optional)")
	noRecord := fs.Bool("no-record", false, "do not index or log dispatch outcomes")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	src, err := alloc.ParseSelector(*srcTag, *srcType)
	if err != nil {
		fmt.Fprintln(os.Stderr, "source:", err)
		os.Exit(2)
	}
	dst, err := alloc.ParseSelector(*dstTag, *dstType)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dest:", err)
		os.Exit(2)
	}

	t := c.tuning()
	l := c.logger(t)
	defer l.Close()

	st, err := snapshot.ReadState(*worldPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read world:", err)
		os.Exit(1)
	}
	w := world.NewMemory(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := openIndex(c.db())
	defer store.Close()
	idx := category.NewIndex(store, l.Logger)
	if _, err := idx.Load(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "load units:", err)
		os.Exit(1)
	}

	th, err := t.ThresholdStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, "thresholds:", err)
		os.Exit(2)
	}

	deps := alloc.Deps{World: w, Thresholds: th, Index: idx, Logger: l.Logger}
	if !*noRecord {
		dlog := dispatchlog.NewDispatchLog(*c.dataDir)
		defer dlog.Close()
		deps.Recorder = dispatch.Recorders{store, dlog}
	}
	e := alloc.New(deps, t.Engine())
	go func() { _ = e.Run(ctx) }()
	defer e.Stop()

	if *stats {
		printJSON(e.Stats(src))
		return
	}

	batch, err := e.Plan(ctx, *op, alloc.Request{
		Source:    src,
		Dest:      dst,
		Target:    *target,
		EnergyPct: *energy,
		SilverPct: *silver,
		MinLevel:  *minLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "plan:", err)
		os.Exit(2)
	}
	rep, err := batch.Wait(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wait:", err)
		os.Exit(1)
	}
	printJSON(rep)

	if p := strings.TrimSpace(*outPath); p != "" {
		if err := snapshot.WriteSnapshot(p, snapshot.New(w.State(), time.Now())); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
	}
}
