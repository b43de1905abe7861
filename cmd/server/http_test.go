package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/persistence/chunkdb"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/tuning"
	"voxelcraft.ai/blockentity/internal/sim/world"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestServer(t *testing.T) (*httptest.Server, chan snapshot.SnapshotV1) {
	t.Helper()
	t.Setenv("VC_ENABLE_ADMIN_HTTP", "true")
	l := logrus.New()
	l.SetOutput(io.Discard)

	root := findRepoRootForServerTests(t)
	reg, err := registry.Load(filepath.Join(root, "configs"))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tune, err := tuning.Load(filepath.Join(root, "configs", "server.yaml"))
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	tune.TickRateHz = 50
	w, err := world.New(world.Config{ID: "http-test", Tuning: tune}, reg, l)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	store, err := chunkdb.Open(filepath.Join(t.TempDir(), "chunks.sqlite"), l)
	if err != nil {
		t.Fatalf("chunkdb: %v", err)
	}
	w.SetChunkStore(store)
	snaps := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(snaps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	srv := httptest.NewServer(newMux(w, store, l))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = store.Close()
	})
	return srv, snaps
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`voxelcraft_world_tick{world="http-test"}`,
		`voxelcraft_world_queue_depth{world="http-test",queue="inbox"}`,
		`voxelcraft_chunkdb_saves_total{world="http-test",result="ok"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestAdminSnapshot(t *testing.T) {
	srv, snaps := newTestServer(t)

	resp, err := http.Get(srv.URL + "/admin/v1/snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status: %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/admin/v1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != 200 || !out.OK {
		t.Fatalf("snapshot: status=%d ok=%v", resp.StatusCode, out.OK)
	}
	select {
	case snap := <-snaps:
		if snap.Header.WorldID != "http-test" {
			t.Fatalf("snapshot header: %+v", snap.Header)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot delivered")
	}

	resp, err = http.Get(srv.URL + "/admin/v1/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var state struct {
		WorldID string `json:"world_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&state)
	resp.Body.Close()
	if state.WorldID != "http-test" {
		t.Fatalf("state: %+v", state)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:443":   false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
