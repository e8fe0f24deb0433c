package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"darkarts.ai/internal/logging"
	"darkarts.ai/internal/persistence/indexdb"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/threshold"
	"darkarts.ai/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "units":
			unitsCmd(os.Args[2:])
			return
		case "thresholds":
			thresholdsCmd(os.Args[2:])
			return
		case "plan":
			planCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin units|thresholds|plan|snapshot|db|state [flags]")
	os.Exit(2)
}

// common flags shared by the commands that touch local state.
type common struct {
	dataDir *string
	dbPath  *string
	config  *string
}

func commonFlags(fs *flag.FlagSet) common {
	return common{
		dataDir: fs.String("data", "./data", "runtime data directory"),
		dbPath:  fs.String("db", "", "sqlite db path (default <data>/index/darkarts.sqlite)"),
		config:  fs.String("config", "", "tuning.yaml path (optional)"),
	}
}

func (c common) db() string {
	if p := strings.TrimSpace(*c.dbPath); p != "" {
		return p
	}
	return filepath.Join(*c.dataDir, "index", "darkarts.sqlite")
}

func (c common) tuning() tuning.Tuning {
	if strings.TrimSpace(*c.config) == "" {
		return tuning.Defaults()
	}
	t, err := tuning.Load(*c.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	return t
}

func (c common) logger(t tuning.Tuning) *logging.Logger {
	l, err := logging.New(logging.Options{File: t.Log.File})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	lvl, _ := tuning.ParseLevel(t.Log.Level)
	l.Level.Set(lvl)
	return l
}

func openIndex(path string) *indexdb.SQLiteIndex {
	s, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	return s
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func unitsCmd(args []string) {
	fs := flag.NewFlagSet("units", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	op := "list"
	if fs.NArg() > 0 {
		op = fs.Arg(0)
	}
	t := c.tuning()
	l := c.logger(t)
	defer l.Close()

	store := openIndex(c.db())
	defer store.Close()

	ctx := context.Background()
	idx := category.NewIndex(store, l.Logger)
	if _, err := idx.Load(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "load units:", err)
		os.Exit(1)
	}

	switch op {
	case "list":
		printJSON(idx.Snapshot())
	case "backup":
		a, err := idx.Backup(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "backup:", err)
			os.Exit(1)
		}
		printJSON(a)
	case "add", "remove":
		if fs.NArg() < 3 {
			fmt.Fprintf(os.Stderr, "usage: admin units %s <Tag> <node id>...\n", op)
			os.Exit(2)
		}
		tag, err := category.ParseTag(fs.Arg(1))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		for _, id := range fs.Args()[2:] {
			var changed bool
			if op == "add" {
				changed, err = idx.Add(ctx, tag, id)
			} else {
				changed, err = idx.Remove(ctx, tag, id)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", op, id, err)
				os.Exit(1)
			}
			if !changed {
				fmt.Printf("%s: unchanged\n", id)
			}
		}
		printJSON(idx.Snapshot())
	case "wipe":
		if err := idx.Wipe(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "wipe:", err)
			os.Exit(1)
		}
		printJSON(idx.Snapshot())
	case "restore":
		a, err := idx.Restore(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
		printJSON(a)
	default:
		fmt.Fprintf(os.Stderr, "unknown units op %q (list|backup|add|remove|wipe|restore)\n", op)
		os.Exit(2)
	}
}

func thresholdsCmd(args []string) {
	fs := flag.NewFlagSet("thresholds", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	th, err := c.tuning().ThresholdStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, "thresholds:", err)
		os.Exit(2)
	}
	all := th.All()
	for _, k := range threshold.Kinds {
		v := all[k]
		fmt.Printf("%-8s %s (raw %d)\n", k, v, v.Raw)
	}
}
