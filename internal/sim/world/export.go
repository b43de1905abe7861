package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/registry"
)

// ExportSnapshot captures the loaded chunks and the dropped items. It must
// run on the world goroutine (or before Run starts).
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    w.tick.Load(),
			Hours:   w.hours,
		},
		Seed:         w.tune.Seed,
		TickRate:     w.tune.TickRateHz,
		HoursPerTick: w.tune.HoursPerTick,
		Items:        w.reg.Items.Mapping.Codes(),
		Counters:     w.counters,
	}
	for _, key := range sortedKeys(w.chunks) {
		snap.Chunks = append(snap.Chunks, w.encodeChunk(w.chunks[key]))
	}
	for _, it := range w.DroppedItems() {
		ie := snapshot.ItemEntityV1{
			EntityID:    it.ID,
			Pos:         [3]float64{it.Pos.X(), it.Pos.Y(), it.Pos.Z()},
			Item:        it.Stack.Ref.Code,
			Count:       it.Stack.Count,
			CreatedTick: it.CreatedTick,
		}
		if len(it.Stack.Attrs) > 0 {
			raw, err := attr.EncodeNBT(it.Stack.Attrs)
			if err != nil {
				w.log.WithError(err).WithField("item", it.ID).Warn("item attributes not exported")
			} else {
				ie.Attrs = raw
			}
		}
		snap.ItemEntities = append(snap.ItemEntities, ie)
	}
	return snap
}

// ImportSnapshot replaces the loaded world with snap. Entity records are
// remapped from the snapshot's item table to the live registry, and every
// imported chunk is marked dirty so the store picks it up. Call it before
// Run.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("world: snapshot version %d, want %d", snap.Header.Version, snapshot.Version)
	}
	if snap.Seed != w.tune.Seed {
		w.log.WithFields(logrus.Fields{"snapshot": snap.Seed, "config": w.tune.Seed}).Warn("snapshot seed differs from config")
	}
	for _, key := range sortedKeys(w.chunks) {
		for _, e := range w.chunks[key].entities {
			if hi, ok := e.(container.HasInventory); ok {
				w.dialogs.ContainerUnloaded(hi.Container())
			}
		}
	}
	w.chunks = map[geom.ChunkKey]*chunk{}
	w.items = map[string]*ItemEntity{}
	w.tick.Store(snap.Header.Tick)
	w.hours = snap.Header.Hours
	w.counters = snap.Counters

	mapping := registry.NewMapping(snap.Items)
	for _, sc := range snap.Chunks {
		key := geom.ChunkKey{CX: sc.CX, CY: sc.CY, CZ: sc.CZ}
		c := newChunk(key)
		c.touched = snap.Header.Tick
		w.chunks[key] = c
		w.restoreChunk(c, sc, mapping)
		c.dirty = !c.noSave
	}
	for _, ie := range snap.ItemEntities {
		stack := inventory.NewStack(ie.Item, ie.Count)
		if len(ie.Attrs) > 0 {
			if t, err := attr.DecodeNBT(ie.Attrs); err == nil {
				stack.Attrs = t
			}
		}
		if id, ok := w.reg.ItemID(ie.Item); ok {
			stack.Ref.ID = id
		}
		w.items[ie.EntityID] = &ItemEntity{
			ID:          ie.EntityID,
			Pos:         mgl64.Vec3{ie.Pos[0], ie.Pos[1], ie.Pos[2]},
			Stack:       stack,
			CreatedTick: ie.CreatedTick,
		}
	}
	w.log.WithFields(logrus.Fields{"tick": snap.Header.Tick, "chunks": len(snap.Chunks), "items": len(snap.ItemEntities)}).Info("snapshot imported")
	return nil
}

func (w *World) offerSnapshot(tick uint64) {
	if w.snapshotSink == nil {
		return
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot():
	default:
		w.log.WithField("tick", tick).Warn("snapshot writer busy, snapshot skipped")
	}
}
