package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"
)

var adminViews = []string{"units", "thresholds", "index", "mirror"}

// stateCmd prints one or more admin views of a running server:
//
//	admin state [-url http://127.0.0.1:8080] [units|thresholds|index|mirror ...]
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	views := fs.Args()
	if len(views) == 0 {
		views = []string{"units"}
	}
	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/")
	cl := &http.Client{Timeout: 5 * time.Second}

	out := map[string]json.RawMessage{}
	for _, v := range views {
		if !slices.Contains(adminViews, v) {
			fmt.Fprintf(os.Stderr, "unknown view %q (%s)\n", v, strings.Join(adminViews, "|"))
			os.Exit(2)
		}
		body, err := fetchView(cl, base+"/admin/v1/"+v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", v, err)
			os.Exit(1)
		}
		out[v] = body
	}
	if len(out) == 1 {
		printJSON(out[views[0]])
		return
	}
	printJSON(out)
}

func fetchView(cl *http.Client, u string) (json.RawMessage, error) {
	resp, err := cl.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return raw, nil
}
