package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"darkarts.ai/internal/persistence/indexdb"
	dispatchlog "darkarts.ai/internal/persistence/log"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	c := commonFlags(fs)
	limit := fs.Int("limit", 20, "result limit")
	batch := fs.String("batch", "", "batch_id filter")
	from := fs.String("from", "", "source node filter")
	_ = fs.Parse(args)

	q := "moves"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	switch q {
	case "moves":
		s := openIndex(c.db())
		defer s.Close()
		rows, err := s.Moves(context.Background(), indexdb.MoveFilter{BatchID: *batch, From: *from, Limit: *limit})
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}
	case "log":
		// The JSONL log keeps rows the index may have dropped under load.
		outcomes, err := dispatchlog.ReadDispatch(*c.dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read log:", err)
			os.Exit(1)
		}
		n := 0
		for i := len(outcomes) - 1; i >= 0 && (*limit <= 0 || n < *limit); i-- {
			o := outcomes[i]
			if (*batch != "" && o.BatchID != *batch) || (*from != "" && o.Move.From != *from) {
				continue
			}
			printJSON(o)
			n++
		}
	case "push":
		files, err := dispatchlog.Files(filepath.Join(*c.dataDir, "dispatch"), "dispatch")
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			return
		}
		if err := mirrorFiles(*c.dataDir, files...); err != nil {
			fmt.Fprintln(os.Stderr, "mirror:", err)
			os.Exit(1)
		}
		printJSON(map[string]any{"pushed": len(files)})
	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (moves|log|push)\n", q)
		os.Exit(2)
	}
}
