package world

import (
	"context"
	"errors"
	"time"

	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
)

// Metrics is a read-only view of the world loop, published after every tick
// for HTTP handlers and tests.
type Metrics struct {
	Tick         uint64  `json:"tick"`
	Hours        float64 `json:"hours"`
	Players      int     `json:"players"`
	LoadedChunks int     `json:"loaded_chunks"`
	DirtyChunks  int     `json:"dirty_chunks"`
	ItemEntities int     `json:"item_entities"`
	SendDrops    int     `json:"send_drops"`
	// PacketDrops counts container packets the dialog server dropped, by
	// error code.
	PacketDrops map[string]int      `json:"packet_drops,omitempty"`
	Counters    snapshot.CountersV1 `json:"counters"`
	QueueDepths QueueDepths         `json:"queue_depths"`
	StepMS      float64             `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) Metrics() Metrics {
	m, _ := w.metrics.Load().(Metrics)
	return m
}

func (w *World) publishMetrics(started time.Time) {
	dirty := 0
	for _, c := range w.chunks {
		if c.dirty {
			dirty++
		}
	}
	w.metrics.Store(Metrics{
		Tick:         w.tick.Load(),
		Hours:        w.hours,
		Players:      len(w.players),
		LoadedChunks: len(w.chunks),
		DirtyChunks:  dirty,
		ItemEntities: len(w.items),
		SendDrops:    w.sendDrops,
		PacketDrops:  w.dialogs.Dropped(),
		Counters:     w.counters,
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS: float64(time.Since(started).Microseconds()) / 1000,
	})
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to export a snapshot to the
// sink now. It is safe to call from other goroutines.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan adminSnapshotResp, 1)
	select {
	case w.admin <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshot(req adminSnapshotReq) {
	tick := w.tick.Load()
	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case w.snapshotSink <- w.ExportSnapshot():
		default:
			errStr = "snapshot sink backpressure"
		}
	}
	select {
	case req.Resp <- adminSnapshotResp{Tick: tick, Err: errStr}:
	default:
		// Caller gave up; never block the loop.
	}
}
