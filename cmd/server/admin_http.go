package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"darkarts.ai/internal/persistence/indexdb"
	"darkarts.ai/internal/persistence/r2s3"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/threshold"
)

type adminDeps struct {
	units      *category.Index
	thresholds *threshold.Store
	index      any
	mirror     *r2s3.Mirror
}

// registerAdmin mounts local-only read endpoints.
func registerAdmin(mux *http.ServeMux, d adminDeps) {
	mux.HandleFunc("/admin/v1/units", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, d.units.Snapshot())
	}))
	mux.HandleFunc("/admin/v1/thresholds", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		for k, v := range d.thresholds.All() {
			out[string(k)] = map[string]any{"percent": v.Points(), "raw": v.Raw}
		}
		writeJSON(rw, http.StatusOK, out)
	}))
	mux.HandleFunc("/admin/v1/index", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		s, ok := d.index.(*indexdb.SQLiteIndex)
		if !ok {
			writeJSON(rw, http.StatusOK, map[string]any{"backend": "memory"})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"backend": "sqlite", "stats": s.Stats()})
	}))
	mux.HandleFunc("/admin/v1/mirror", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"enabled": d.mirror != nil, "stats": d.mirror.Stats()})
	}))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
