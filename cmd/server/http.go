package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"voxelcraft.ai/blockentity/internal/persistence/chunkdb"
	"voxelcraft.ai/blockentity/internal/sim/world"
	"voxelcraft.ai/blockentity/internal/transport/ws"
)

// newMux serves the client websocket plus health, metrics and the local
// admin surface. store may be nil.
func newMux(w *world.World, store *chunkdb.Store, log logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, store)
	})

	enableAdminHTTP := envBool("VC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			resp := struct {
				WorldID string         `json:"world_id"`
				Tick    uint64         `json:"tick"`
				Metrics world.Metrics  `json:"metrics"`
				Store   *chunkdb.Stats `json:"store,omitempty"`
			}{
				WorldID: w.ID(),
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			if store != nil {
				st := store.Stats()
				resp.Store = &st
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := w.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})
	} else {
		log.Info("admin endpoints disabled (VC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, log).Handler())
	return mux
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, w *world.World, store *chunkdb.Store) {
	m := w.Metrics()
	id := w.ID()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(rw, "# HELP voxelcraft_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_tick gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_hours Game hours elapsed.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_hours gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_hours{world=%q} %.3f\n", id, m.Hours)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_players Connected players.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_players gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_players{world=%q} %d\n", id, m.Players)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_loaded_chunks Loaded chunk count.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_loaded_chunks gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_loaded_chunks{world=%q} %d\n", id, m.LoadedChunks)
	fmt.Fprintf(rw, "voxelcraft_world_dirty_chunks{world=%q} %d\n", id, m.DirtyChunks)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_item_entities Dropped item entities.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_item_entities gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_item_entities{world=%q} %d\n", id, m.ItemEntities)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "voxelcraft_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "voxelcraft_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_step_ms gauge\n")
	fmt.Fprintf(rw, "voxelcraft_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	fmt.Fprintf(rw, "# HELP voxelcraft_world_blocks_total Block changes since start.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_world_blocks_total counter\n")
	fmt.Fprintf(rw, "voxelcraft_world_blocks_total{world=%q,op=%q} %d\n", id, "placed", m.Counters.Placed)
	fmt.Fprintf(rw, "voxelcraft_world_blocks_total{world=%q,op=%q} %d\n", id, "broken", m.Counters.Broken)
	fmt.Fprintf(rw, "voxelcraft_world_blocks_total{world=%q,op=%q} %d\n", id, "changed", m.Counters.Changed)

	fmt.Fprintf(rw, "# HELP voxelcraft_dialog_packet_drops_total Container packets dropped by error code.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_dialog_packet_drops_total counter\n")
	codes := maps.Keys(m.PacketDrops)
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(rw, "voxelcraft_dialog_packet_drops_total{world=%q,code=%q} %d\n", id, code, m.PacketDrops[code])
	}
	fmt.Fprintf(rw, "voxelcraft_ws_send_drops_total{world=%q} %d\n", id, m.SendDrops)

	if store == nil {
		return
	}
	st := store.Stats()
	fmt.Fprintf(rw, "# HELP voxelcraft_chunkdb_saves_total Chunk save results.\n")
	fmt.Fprintf(rw, "# TYPE voxelcraft_chunkdb_saves_total counter\n")
	fmt.Fprintf(rw, "voxelcraft_chunkdb_saves_total{world=%q,result=%q} %d\n", id, "ok", st.Saved)
	fmt.Fprintf(rw, "voxelcraft_chunkdb_saves_total{world=%q,result=%q} %d\n", id, "failed", st.Failed)
	fmt.Fprintf(rw, "voxelcraft_chunkdb_pending{world=%q} %d\n", id, st.Pending)
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
