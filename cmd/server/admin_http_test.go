package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/threshold"
)

func newAdminMux(t *testing.T) *http.ServeMux {
	t.Helper()
	ctx := context.Background()
	units := category.NewIndex(category.NewMemoryStore(), nil)
	if _, err := units.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := units.Add(ctx, category.Blitz, "0x01"); err != nil {
		t.Fatalf("add: %v", err)
	}
	th, err := threshold.NewStore(nil)
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	idx, err := openRuntimeIndex(t.TempDir(), true)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	mux := http.NewServeMux()
	registerAdmin(mux, adminDeps{units: units, thresholds: th, index: idx})
	return mux
}

func get(mux *http.ServeMux, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestAdmin_UnitsFromLoopback(t *testing.T) {
	mux := newAdminMux(t)
	rr := get(mux, "/admin/v1/units", "127.0.0.1:40000")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got map[string][]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got["Blitz"]) != 1 || got["Blitz"][0] != "0x01" {
		t.Fatalf("units: %v", got)
	}
	if _, ok := got["Railroads"]; !ok {
		t.Fatalf("every tag should be present: %v", got)
	}
}

func TestAdmin_RejectsRemote(t *testing.T) {
	mux := newAdminMux(t)
	if rr := get(mux, "/admin/v1/thresholds", "203.0.113.7:5555"); rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr := get(mux, "/admin/v1/thresholds", "[::1]:5555"); rr.Code != http.StatusOK {
		t.Fatalf("ipv6 loopback status=%d", rr.Code)
	}
}

func TestAdmin_IndexBackend(t *testing.T) {
	mux := newAdminMux(t)
	rr := get(mux, "/admin/v1/index", "127.0.0.1:1")
	var got map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got["backend"] != "memory" {
		t.Fatalf("backend: %v", got)
	}
}

func TestAdmin_MirrorDisabled(t *testing.T) {
	mux := newAdminMux(t)
	rr := get(mux, "/admin/v1/mirror", "127.0.0.1:1")
	var got struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil || got.Enabled {
		t.Fatalf("mirror: %s err=%v", rr.Body.String(), err)
	}
}

func TestBuildMirror_OffByDefault(t *testing.T) {
	t.Setenv("DARKARTS_R2_MIRROR", "")
	m, err := buildMirror(t.TempDir(), nil)
	if err != nil || m != nil {
		t.Fatalf("mirror=%v err=%v", m, err)
	}
	t.Setenv("DARKARTS_R2_MIRROR", "true")
	if _, err := buildMirror(t.TempDir(), nil); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
