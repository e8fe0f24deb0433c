package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"darkarts.ai/internal/persistence/archive"
	"darkarts.ai/internal/persistence/r2s3"
	"darkarts.ai/internal/persistence/snapshot"
)

func snapshotCmd(args []string) {
	op := ""
	if len(args) > 0 {
		op, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	in := fs.String("in", "", "input path")
	out := fs.String("out", "", "output .snap.zst path (pack)")
	dataDir := fs.String("data", "./data", "runtime data directory (pack -archive/-mirror)")
	doArchive := fs.Bool("archive", false, "also copy the packed snapshot under <data>/archives/<account>/<day>/")
	doMirror := fs.Bool("mirror", false, "upload the archived copy offsite (DARKARTS_R2_* env)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}

	switch op {
	case "pack":
		if strings.TrimSpace(*out) == "" {
			fmt.Fprintln(os.Stderr, "missing -out")
			os.Exit(2)
		}
		st, err := snapshot.ReadState(*in)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		snap := snapshot.New(st, time.Now())
		if err := snapshot.WriteSnapshot(*out, snap); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
		if !*doArchive && !*doMirror {
			printJSON(snap.Header)
			return
		}
		dst, err := archive.Snapshot(*dataDir, *out, snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "archive:", err)
			os.Exit(1)
		}
		if *doMirror {
			if err := mirrorFiles(*dataDir, dst); err != nil {
				fmt.Fprintln(os.Stderr, "mirror:", err)
				os.Exit(1)
			}
		}
		printJSON(map[string]any{"header": snap.Header, "archived": dst, "mirrored": *doMirror})
	case "inspect":
		snap, err := snapshot.ReadSnapshot(*in)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		printJSON(map[string]any{
			"header":      snap.Header,
			"taken_at":    time.Unix(snap.Header.TakenAt, 0).UTC().Format(time.RFC3339),
			"unconfirmed": len(snap.State.Unconfirmed),
			"arrivals":    len(snap.State.Arrivals),
		})
	case "unpack":
		snap, err := snapshot.ReadSnapshot(*in)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		printJSON(snap.State)
	default:
		fmt.Fprintln(os.Stderr, "usage: admin snapshot pack|inspect|unpack -in <path> [-out <path>]")
		os.Exit(2)
	}
}

// mirrorFiles uploads paths (all under dataDir) and waits for completion.
func mirrorFiles(dataDir string, paths ...string) error {
	cfg, prefix := r2s3.ConfigFromEnv()
	client, err := r2s3.New(cfg)
	if err != nil {
		return err
	}
	m := r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{Prefix: prefix, QueueCapacity: len(paths) + 1})
	for _, p := range paths {
		m.Enqueue(p)
	}
	m.Close()
	if st := m.Stats(); st.Uploaded != uint64(len(paths)) {
		return fmt.Errorf("uploaded %d of %d (failed=%d)", st.Uploaded, len(paths), st.Failed)
	}
	return nil
}
