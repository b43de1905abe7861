package world

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/behaviors"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/encoding"
)

const chunkVolume = geom.ChunkSize * geom.ChunkSize * geom.ChunkSize

type chunk struct {
	key      geom.ChunkKey
	blocks   map[geom.Vec3i]string
	entities map[geom.Vec3i]behaviors.Entity
	dirty    bool
	// touched is the last tick a player reached into the chunk.
	touched uint64
	// noSave is set when the stored copy could not be read; saving the
	// empty replacement would overwrite it.
	noSave bool
}

func newChunk(key geom.ChunkKey) *chunk {
	return &chunk{
		key:      key,
		blocks:   map[geom.Vec3i]string{},
		entities: map[geom.Vec3i]behaviors.Entity{},
	}
}

func localIndex(key geom.ChunkKey, pos geom.Vec3i) int {
	lx := pos.X - key.CX*geom.ChunkSize
	ly := pos.Y - key.CY*geom.ChunkSize
	lz := pos.Z - key.CZ*geom.ChunkSize
	return lx + lz*geom.ChunkSize + ly*geom.ChunkSize*geom.ChunkSize
}

func posAt(key geom.ChunkKey, i int) geom.Vec3i {
	lx := i % geom.ChunkSize
	lz := (i / geom.ChunkSize) % geom.ChunkSize
	ly := i / (geom.ChunkSize * geom.ChunkSize)
	return geom.Vec3i{
		X: key.CX*geom.ChunkSize + lx,
		Y: key.CY*geom.ChunkSize + ly,
		Z: key.CZ*geom.ChunkSize + lz,
	}
}

// chunkAt returns the loaded chunk owning pos, loading it from the store
// first if needed.
func (w *World) chunkAt(pos geom.Vec3i) *chunk {
	key := pos.Chunk()
	if c, ok := w.chunks[key]; ok {
		return c
	}
	c := newChunk(key)
	c.touched = w.tick.Load()
	w.chunks[key] = c
	if w.store == nil {
		return c
	}
	saved, mapping, ok, err := w.store.LoadChunk(key)
	if err != nil {
		c.noSave = true
		w.log.WithError(err).WithField("chunk", key).Error("chunk load failed, chunk will not be saved")
		return c
	}
	if ok {
		w.restoreChunk(c, saved, mapping)
	}
	return c
}

// storedChunk returns the chunk owning pos when it is loaded or the store
// has it. Unlike chunkAt it never makes an empty chunk.
func (w *World) storedChunk(pos geom.Vec3i) (*chunk, bool) {
	key := pos.Chunk()
	if c, ok := w.chunks[key]; ok {
		return c, true
	}
	if w.store == nil {
		return nil, false
	}
	saved, mapping, ok, err := w.store.LoadChunk(key)
	if err != nil {
		w.log.WithError(err).WithField("chunk", key).Warn("chunk load failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c := newChunk(key)
	c.touched = w.tick.Load()
	w.chunks[key] = c
	w.restoreChunk(c, saved, mapping)
	return c, true
}

// restoreChunk fills c from a stored chunk. Entities are loaded, bound to the
// world and then remapped from the mapping they were saved under. A record
// that cannot be decoded loads as a fresh entity.
func (w *World) restoreChunk(c *chunk, saved snapshot.ChunkV1, mapping registry.Mapping) {
	log := w.log.WithField("chunk", c.key)
	blocks, err := encoding.DecodePalette(saved.Palette, saved.Runs, chunkVolume)
	if err != nil {
		c.noSave = true
		log.WithError(err).Error("chunk blocks unreadable, chunk will not be saved")
		return
	}
	for i, b := range blocks {
		if b != "" {
			c.blocks[posAt(c.key, i)] = b
		}
	}
	for _, ev := range saved.Entities {
		pos := geom.FromArray(ev.Pos)
		if pos.Chunk() != c.key {
			log.WithField("pos", pos).Warn("entity outside its chunk skipped")
			continue
		}
		e, ok := behaviors.New(ev.Block, pos)
		if !ok {
			log.WithFields(logrus.Fields{"pos": pos, "block": ev.Block}).Warn("entity for plain block skipped")
			continue
		}
		rec, err := attr.DecodeNBT(ev.Record)
		if err != nil {
			log.WithError(err).WithField("pos", pos).Warn("entity record unreadable, loaded empty")
			rec = attr.New()
		}
		e.Load(rec)
		c.entities[pos] = e
		c.blocks[pos] = ev.Block
		e.Init(w)
		if hi, ok := e.(container.HasInventory); ok {
			hi.Container().RemapIds(mapping, w.reg.Items.Mapping)
		}
		w.showContents(e)
	}
}

func (w *World) encodeChunk(c *chunk) snapshot.ChunkV1 {
	codes := make([]string, chunkVolume)
	for pos, b := range c.blocks {
		codes[localIndex(c.key, pos)] = b
	}
	palette, runs := encoding.EncodePalette(codes)
	out := snapshot.ChunkV1{CX: c.key.CX, CY: c.key.CY, CZ: c.key.CZ, Palette: palette, Runs: runs}
	for _, pos := range sortedPositions(c.entities) {
		e := c.entities[pos]
		raw, err := attr.EncodeNBT(e.Save())
		if err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{"pos": pos, "block": e.Block()}).Error("entity record not encodable, skipped")
			continue
		}
		out.Entities = append(out.Entities, snapshot.EntityV1{Pos: pos.ToArray(), Block: e.Block(), Record: raw})
	}
	return out
}

func (w *World) saveChunk(c *chunk) {
	if w.store == nil || c.noSave {
		c.dirty = false
		return
	}
	w.store.SaveChunk(w.encodeChunk(c), w.reg.Items.Mapping)
	c.dirty = false
}

func (w *World) saveDirty() {
	for _, key := range sortedKeys(w.chunks) {
		if c := w.chunks[key]; c.dirty {
			w.saveChunk(c)
		}
	}
}

func (w *World) saveAll() {
	for _, key := range sortedKeys(w.chunks) {
		w.saveChunk(w.chunks[key])
	}
}

// flushPersistNow saves the chunks entities asked to persist this tick.
func (w *World) flushPersistNow() {
	if len(w.persistNow) == 0 {
		return
	}
	keys := maps.Keys(w.persistNow)
	slices.SortFunc(keys, chunkLess)
	for _, key := range keys {
		if c, ok := w.chunks[key]; ok && c.dirty {
			w.saveChunk(c)
		}
	}
	maps.Clear(w.persistNow)
}

// unloadIdle saves and drops chunks nobody touched for UnloadAfterTicks.
// A chunk with an open dialog counts as touched. Without a store only empty
// chunks are dropped.
func (w *World) unloadIdle(tick uint64) {
	after := uint64(w.tune.UnloadAfterTicks)
	if after == 0 {
		return
	}
	for _, key := range sortedKeys(w.chunks) {
		c := w.chunks[key]
		if tick-c.touched < after || w.chunkHeld(c) {
			continue
		}
		if w.store == nil {
			if len(c.blocks) == 0 {
				delete(w.chunks, key)
			}
			continue
		}
		w.saveChunk(c)
		for _, pos := range sortedPositions(c.entities) {
			if hi, ok := c.entities[pos].(container.HasInventory); ok {
				w.dialogs.ContainerUnloaded(hi.Container())
			}
		}
		delete(w.chunks, key)
		w.audit(AuditEntry{Actor: "world", Action: AuditUnload, Pos: [3]int{key.CX, key.CY, key.CZ}})
	}
}

func (w *World) chunkHeld(c *chunk) bool {
	for _, e := range c.entities {
		if hi, ok := e.(container.HasInventory); ok && len(w.dialogs.Holders(hi.Container())) > 0 {
			return true
		}
	}
	return false
}

func chunkLess(a, b geom.ChunkKey) bool {
	if a.CX != b.CX {
		return a.CX < b.CX
	}
	if a.CY != b.CY {
		return a.CY < b.CY
	}
	return a.CZ < b.CZ
}

func sortedKeys(m map[geom.ChunkKey]*chunk) []geom.ChunkKey {
	keys := maps.Keys(m)
	slices.SortFunc(keys, chunkLess)
	return keys
}

func posLess(a, b geom.Vec3i) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.X < b.X
}

func sortedPositions[V any](m map[geom.Vec3i]V) []geom.Vec3i {
	ps := maps.Keys(m)
	slices.SortFunc(ps, posLess)
	return ps
}
