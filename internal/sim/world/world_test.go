package world

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/behaviors"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/dialog"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/mesh"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/tuning"
	"voxelcraft.ai/blockentity/internal/transition"
)

type memStore struct {
	chunks   map[geom.ChunkKey]snapshot.ChunkV1
	mappings map[geom.ChunkKey]registry.Mapping
	saves    int
}

func newMemStore() *memStore {
	return &memStore{chunks: map[geom.ChunkKey]snapshot.ChunkV1{}, mappings: map[geom.ChunkKey]registry.Mapping{}}
}

func (s *memStore) LoadChunk(key geom.ChunkKey) (snapshot.ChunkV1, registry.Mapping, bool, error) {
	c, ok := s.chunks[key]
	return c, s.mappings[key], ok, nil
}

func (s *memStore) SaveChunk(c snapshot.ChunkV1, m registry.Mapping) {
	key := geom.ChunkKey{CX: c.CX, CY: c.CY, CZ: c.CZ}
	s.chunks[key] = c
	s.mappings[key] = m
	s.saves++
}

type memAudit struct{ entries []AuditEntry }

func (a *memAudit) WriteAudit(e AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) actions() []string {
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func testRegistry(t *testing.T, appleID int32) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(
		[]registry.ItemDef{
			{Code: "apple", ID: appleID},
			{Code: "stone"},
			{Code: "chest"},
			{Code: "crate", MaxStack: 1},
		},
		[]string{"chest", "crate", "loot-chest", "stone", "wood-oak", "ash-oak", "display-case"},
		map[string]registry.LootTable{"ruins": {Rolls: 1, Entries: []registry.LootEntry{{Item: "stone", Min: 2, Max: 2, Weight: 1}}}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func testTuning() tuning.Tuning {
	tune := tuning.Defaults()
	tune.Seed = 7
	tune.HoursPerTick = 1
	tune.TransitionEveryTicks = 1
	tune.SaveEveryTicks = 1000
	tune.UnloadAfterTicks = 0
	tune.Dialogs = map[string]dialog.Info{"chest": {Title: "Chest", Columns: 4}}
	tune.Transitions = map[string]transition.Rule{
		behaviors.RuleWoodChar: {From: "wood-*", To: "ash-*", Hours: 24},
	}
	return tune
}

func newTestWorld(t *testing.T, reg *registry.Registry, tune tuning.Tuning, store ChunkStore) (*World, *memAudit) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	w, err := New(Config{ID: "test", Tuning: tune}, reg, l)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	if store != nil {
		w.SetChunkStore(store)
	}
	audit := &memAudit{}
	w.SetAuditLogger(audit)
	return w, audit
}

func join(t *testing.T, w *World, creative bool) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 256)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "p", Creative: creative, Out: out, Resp: resp}}, nil, nil)
	select {
	case r := <-resp:
		return r.Welcome.PlayerID, out
	default:
		t.Fatalf("no welcome")
		return "", nil
	}
}

func blockFrame(t *testing.T, pid, op string, pos geom.Vec3i, block string) FrameEnvelope {
	t.Helper()
	b, err := json.Marshal(protocol.BlockMsg{
		Type:            protocol.TypeBlock,
		ProtocolVersion: protocol.Version,
		Op:              op,
		Pos:             pos.ToArray(),
		Block:           block,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return FrameEnvelope{PlayerID: pid, Type: protocol.TypeBlock, Frame: b}
}

func containerFrame(t *testing.T, pid string, pkt protocol.Packet) FrameEnvelope {
	t.Helper()
	b, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return FrameEnvelope{PlayerID: pid, Type: protocol.TypeContainer, Frame: b}
}

func step(w *World, frames ...FrameEnvelope) { w.StepOnce(nil, nil, frames) }

// drainPackets returns the container packets queued for a player.
func drainPackets(out chan []byte) []protocol.Packet {
	var pkts []protocol.Packet
	for {
		select {
		case b := <-out:
			if pkt, err := protocol.Decode(b); err == nil {
				pkts = append(pkts, pkt)
			}
		default:
			return pkts
		}
	}
}

func coreAt(t *testing.T, w *World, pos geom.Vec3i) *container.Core {
	t.Helper()
	e, ok := w.Entity(pos)
	if !ok {
		t.Fatalf("no entity at %s", pos)
	}
	hi, ok := e.(container.HasInventory)
	if !ok {
		t.Fatalf("entity at %s has no inventory", pos)
	}
	return hi.Container()
}

func TestPlaceAndBreakChest(t *testing.T) {
	w, audit := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, _ := join(t, w, true)
	pos := geom.Vec3i{X: 1, Y: 64, Z: 1}

	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	if got := w.Block(pos); got != "chest" {
		t.Fatalf("block: %q", got)
	}
	core := coreAt(t, w, pos)
	_ = core.Inventory().Set(0, inventory.NewStack("apple", 3))
	_ = core.Inventory().Set(5, inventory.NewStack("stone", 1))

	step(w, blockFrame(t, pid, protocol.BlockBreak, pos, ""))
	if got := w.Block(pos); got != "" {
		t.Fatalf("block after break: %q", got)
	}
	if _, ok := w.Entity(pos); ok {
		t.Fatalf("entity survived break")
	}
	// Two slots plus the chest itself.
	if n := len(w.DroppedItems()); n != 3 {
		t.Fatalf("drops: %d", n)
	}
	acts := audit.actions()
	if len(acts) != 2 || acts[0] != AuditPlace || acts[1] != AuditBreak {
		t.Fatalf("audit: %v", acts)
	}
}

func TestPlace_SurvivalSpendsCursorItem(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, _ := join(t, w, false)
	pos := geom.Vec3i{X: 2, Y: 64, Z: 2}

	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	if w.Block(pos) != "" {
		t.Fatalf("placed without an item")
	}

	w.players[pid].cursor = inventory.NewStack("chest", 2)
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	if w.Block(pos) != "chest" {
		t.Fatalf("not placed")
	}
	if c := w.players[pid].cursor; c.Count != 1 {
		t.Fatalf("cursor: %v", c)
	}

	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	if c := w.players[pid].cursor; c.Count != 1 {
		t.Fatalf("occupied place spent an item: %v", c)
	}
}

func TestCrate_ContentsTravelWithItem(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	creative, _ := join(t, w, true)
	survival, _ := join(t, w, false)
	a := geom.Vec3i{X: 0, Y: 64, Z: 0}
	b := geom.Vec3i{X: 40, Y: 64, Z: 0}

	step(w, blockFrame(t, creative, protocol.BlockPlace, a, "crate"))
	_ = coreAt(t, w, a).Inventory().Set(2, inventory.NewStack("stone", 5))
	step(w, blockFrame(t, creative, protocol.BlockBreak, a, ""))

	drops := w.DroppedItems()
	if len(drops) != 1 || drops[0].Stack.Ref.Code != "crate" {
		t.Fatalf("drops: %+v", drops)
	}
	w.players[survival].cursor = drops[0].Stack
	step(w, blockFrame(t, survival, protocol.BlockPlace, b, "crate"))
	got := coreAt(t, w, b).GetSlot(2)
	if got.IsEmpty() || got.Ref.Code != "stone" || got.Count != 5 {
		t.Fatalf("restored slot: %v", got)
	}
}

func TestLootChest_RolledOnPlace(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, _ := join(t, w, true)
	pos := geom.Vec3i{X: 3, Y: 64, Z: 3}

	f := blockFrame(t, pid, protocol.BlockPlace, pos, "loot-chest")
	var m protocol.BlockMsg
	_ = json.Unmarshal(f.Frame, &m)
	m.Loot = "ruins"
	f.Frame, _ = json.Marshal(m)
	step(w, f)

	s := coreAt(t, w, pos).GetSlot(0)
	if s.IsEmpty() || s.Loot != "" || s.Ref.Code != "stone" || s.Count != 2 {
		t.Fatalf("rolled slot: %v", s)
	}
}

func TestTransition_WoodBurnsToAsh(t *testing.T) {
	w, audit := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, out := join(t, w, true)
	pos := geom.Vec3i{X: 5, Y: 64, Z: 5}

	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "wood-oak"))
	for i := 0; i < 30 && w.Block(pos) != "ash-oak"; i++ {
		step(w)
	}
	if got := w.Block(pos); got != "ash-oak" {
		t.Fatalf("block after 30h: %q", got)
	}
	if _, ok := w.Entity(pos); ok {
		t.Fatalf("ash kept an entity")
	}
	last := audit.entries[len(audit.entries)-1]
	if last.Action != AuditTransition || last.From != "wood-oak" || last.To != "ash-oak" || last.Reason != behaviors.RuleWoodChar {
		t.Fatalf("audit: %+v", last)
	}

	var sets []string
	for len(out) > 0 {
		var bm protocol.BlockMsg
		if json.Unmarshal(<-out, &bm) == nil && bm.Type == protocol.TypeBlock {
			sets = append(sets, bm.Block)
		}
	}
	if len(sets) != 2 || sets[1] != "ash-oak" {
		t.Fatalf("block broadcasts: %v", sets)
	}
}

func TestDialog_OpenCloseAudited(t *testing.T) {
	w, audit := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, out := join(t, w, false)
	pos := geom.Vec3i{X: 1, Y: 1, Z: 1}
	w.players[pid].cursor = inventory.NewStack("chest", 1)
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	drainPackets(out)

	step(w, containerFrame(t, pid, protocol.Packet{Pos: pos, Msg: protocol.OpenInventoryMsg{}}))
	pkts := drainPackets(out)
	if len(pkts) != 1 {
		t.Fatalf("open answer: %+v", pkts)
	}
	open, ok := pkts[0].Msg.(protocol.OpenInventoryMsg)
	if !ok || open.Title != "Chest" || open.Snapshot == nil {
		t.Fatalf("open: %+v", pkts[0].Msg)
	}
	if st := w.Dialogs().State(pid, coreAt(t, w, pos).ID()); st != dialog.Open {
		t.Fatalf("state: %v", st)
	}

	step(w, containerFrame(t, pid, protocol.Packet{Pos: pos, Msg: protocol.CloseInventoryMsg{}}))
	acts := audit.actions()
	if n := len(acts); n < 3 || acts[n-2] != AuditOpen || acts[n-1] != AuditClose {
		t.Fatalf("audit: %v", acts)
	}
}

func TestBreak_ClosesOpenDialogs(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, out := join(t, w, true)
	pos := geom.Vec3i{X: 9, Y: 9, Z: 9}
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	step(w, containerFrame(t, pid, protocol.Packet{Pos: pos, Msg: protocol.OpenInventoryMsg{}}))
	drainPackets(out)

	step(w, blockFrame(t, pid, protocol.BlockBreak, pos, ""))
	pkts := drainPackets(out)
	if len(pkts) != 1 {
		t.Fatalf("packets: %+v", pkts)
	}
	if _, ok := pkts[0].Msg.(protocol.CloseInventoryMsg); !ok {
		t.Fatalf("want close, got %T", pkts[0].Msg)
	}
}

func TestSaveReload_RemapsIds(t *testing.T) {
	store := newMemStore()
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), store)
	pid, _ := join(t, w, true)
	pos := geom.Vec3i{X: -3, Y: 70, Z: 12}
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	_ = coreAt(t, w, pos).Inventory().Set(4, inventory.NewStack("apple", 7))
	w.saveAll()
	if store.saves == 0 {
		t.Fatalf("nothing saved")
	}

	// The next run's registry numbers apple differently.
	w2, _ := newTestWorld(t, testRegistry(t, 50), testTuning(), store)
	if got := w2.Block(pos); got != "chest" {
		t.Fatalf("reloaded block: %q", got)
	}
	s := coreAt(t, w2, pos).GetSlot(4)
	if s.IsEmpty() || s.Ref.Code != "apple" || s.Ref.ID != 50 || s.Count != 7 {
		t.Fatalf("reloaded slot: %+v", s)
	}
}

func TestUnloadIdle_SavesAndDrops(t *testing.T) {
	store := newMemStore()
	tune := testTuning()
	tune.SaveEveryTicks = 1
	tune.UnloadAfterTicks = 3
	w, audit := newTestWorld(t, testRegistry(t, 0), tune, store)
	pid, _ := join(t, w, true)
	pos := geom.Vec3i{X: 100, Y: 0, Z: 0}
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))

	for i := 0; i < 5; i++ {
		step(w)
	}
	if _, ok := w.chunks[pos.Chunk()]; ok {
		t.Fatalf("idle chunk still loaded")
	}
	if _, ok := store.chunks[pos.Chunk()]; !ok {
		t.Fatalf("unloaded chunk not saved")
	}
	if acts := audit.actions(); acts[len(acts)-1] != AuditUnload {
		t.Fatalf("audit: %v", acts)
	}
	if w.Block(pos) != "chest" {
		t.Fatalf("chunk did not reload")
	}
}

func TestExportImport(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, _ := join(t, w, true)
	pos := geom.Vec3i{X: 4, Y: 4, Z: 4}
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos, "chest"))
	_ = coreAt(t, w, pos).Inventory().Set(1, inventory.NewStack("stone", 9))
	step(w, blockFrame(t, pid, protocol.BlockPlace, pos.Add(geom.Vec3i{X: 1}), "stone"))
	step(w, blockFrame(t, pid, protocol.BlockBreak, pos.Add(geom.Vec3i{X: 1}), ""))

	snap := w.ExportSnapshot()
	if snap.Header.WorldID != "test" || len(snap.Chunks) != 1 || len(snap.ItemEntities) != 1 {
		t.Fatalf("export: header=%+v chunks=%d items=%d", snap.Header, len(snap.Chunks), len(snap.ItemEntities))
	}

	w2, _ := newTestWorld(t, testRegistry(t, 50), testTuning(), nil)
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w2.CurrentTick() != snap.Header.Tick {
		t.Fatalf("tick: %d", w2.CurrentTick())
	}
	if s := coreAt(t, w2, pos).GetSlot(1); s.IsEmpty() || s.Count != 9 || s.Ref.Code != "stone" {
		t.Fatalf("imported slot: %+v", s)
	}
	if items := w2.DroppedItems(); len(items) != 1 || items[0].Stack.Ref.Code != "stone" {
		t.Fatalf("imported items: %+v", items)
	}

	snap.Header.Version = 99
	if err := w2.ImportSnapshot(snap); err == nil {
		t.Fatalf("future version accepted")
	}
}

func TestMetricsAndAdminSnapshot(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, _ := join(t, w, true)
	step(w, blockFrame(t, pid, protocol.BlockPlace, geom.Vec3i{X: 1}, "chest"))
	m := w.Metrics()
	if m.Tick != 2 || m.Players != 1 || m.LoadedChunks != 1 || m.Counters.Placed != 1 {
		t.Fatalf("metrics: %+v", m)
	}

	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)
	resp := make(chan adminSnapshotResp, 1)
	w.handleAdminSnapshot(adminSnapshotReq{Resp: resp})
	if r := <-resp; r.Err != "" || r.Tick != 2 {
		t.Fatalf("admin snapshot: %+v", r)
	}
	if snap := <-sink; len(snap.Chunks) != 1 {
		t.Fatalf("snapshot chunks: %d", len(snap.Chunks))
	}
	w.handleAdminSnapshot(adminSnapshotReq{Resp: resp})
	w.handleAdminSnapshot(adminSnapshotReq{Resp: resp})
	if r := <-resp; r.Err != "" {
		t.Fatalf("first of two: %+v", r)
	}
}

func caseTuning() tuning.Tuning {
	tune := testTuning()
	tune.Layouts = map[string]mesh.Layout{"display-case": {Name: "display-case", Slots: make([]mesh.Place, 4)}}
	return tune
}

func contents(pkts []protocol.Packet) int {
	n := 0
	for _, p := range pkts {
		if m, ok := p.Msg.(protocol.CustomMsg); ok && m.ID == dialog.ContentsPacket {
			n++
		}
	}
	return n
}

func TestDisplayCase_ContentsReachEveryPlayer(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), caseTuning(), nil)
	builder, _ := join(t, w, true)
	_, out := join(t, w, false)
	pos := geom.Vec3i{X: 3, Y: 64, Z: 3}
	step(w, blockFrame(t, builder, protocol.BlockPlace, pos, "display-case"))
	if n := contents(drainPackets(out)); n != 1 {
		t.Fatalf("contents on place: %d", n)
	}

	_ = coreAt(t, w, pos).Inventory().Set(0, inventory.NewStack("apple", 1))
	pkts := drainPackets(out)
	if len(pkts) != 1 {
		t.Fatalf("delta to watcher: %+v", pkts)
	}
	if u, ok := pkts[0].Msg.(protocol.SlotUpdateMsg); !ok || u.Slot != 0 || u.Stack == nil {
		t.Fatalf("delta: %#v", pkts[0].Msg)
	}

	// A late joiner hears of the block before its contents.
	_, late := join(t, w, false)
	first := <-late
	var bm protocol.BlockMsg
	if err := json.Unmarshal(first, &bm); err != nil || bm.Type != protocol.TypeBlock || bm.Block != "display-case" {
		t.Fatalf("first frame: %s", first)
	}
	if n := contents(drainPackets(late)); n != 1 {
		t.Fatalf("contents on join: %d", n)
	}
}

func TestChest_ContentsNotShown(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), caseTuning(), nil)
	builder, _ := join(t, w, true)
	_, out := join(t, w, false)
	pos := geom.Vec3i{X: 3, Y: 64, Z: 3}
	step(w, blockFrame(t, builder, protocol.BlockPlace, pos, "chest"))
	_ = coreAt(t, w, pos).Inventory().Set(0, inventory.NewStack("apple", 1))
	if pkts := drainPackets(out); len(pkts) != 0 {
		t.Fatalf("chest leaked to a bystander: %+v", pkts)
	}
}

func TestDrop_LandsInContainerBelow(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	builder, _ := join(t, w, true)
	chestPos := geom.Vec3i{X: 0, Y: 64, Z: 0}
	stonePos := geom.Vec3i{X: 0, Y: 65, Z: 0}
	step(w, blockFrame(t, builder, protocol.BlockPlace, chestPos, "chest"))
	step(w, blockFrame(t, builder, protocol.BlockPlace, stonePos, "stone"))
	step(w, blockFrame(t, builder, protocol.BlockBreak, stonePos, ""))

	if items := w.DroppedItems(); len(items) != 0 {
		t.Fatalf("drop spawned: %+v", items)
	}
	s := coreAt(t, w, chestPos).GetSlot(0)
	if s.IsEmpty() || s.Ref.Code != "stone" || s.Count != 1 {
		t.Fatalf("chest slot 0: %v", s)
	}

	// A survival player's open dialog keeps the chest shut to drops.
	reader, _ := join(t, w, false)
	step(w, containerFrame(t, reader, protocol.Packet{Pos: chestPos, Msg: protocol.OpenInventoryMsg{}}))
	step(w, blockFrame(t, builder, protocol.BlockPlace, stonePos, "stone"))
	step(w, blockFrame(t, builder, protocol.BlockBreak, stonePos, ""))
	if items := w.DroppedItems(); len(items) != 1 || items[0].Stack.Ref.Code != "stone" {
		t.Fatalf("gated drop: %+v", items)
	}
	if s := coreAt(t, w, chestPos).GetSlot(0); s.Count != 1 {
		t.Fatalf("gated chest took the drop: %v", s)
	}
}

func TestOpenable_UnbuiltTargetMakesNoChunk(t *testing.T) {
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), nil)
	pid, _ := join(t, w, false)
	far := geom.Vec3i{X: 9000, Y: -400, Z: 12000}
	step(w, containerFrame(t, pid, protocol.Packet{Pos: far, Msg: protocol.OpenInventoryMsg{}}))
	if _, ok := w.chunks[far.Chunk()]; ok {
		t.Fatalf("packet target created a chunk")
	}
	if n := w.Dialogs().Dropped()[protocol.ErrNoContainer]; n != 1 {
		t.Fatalf("dropped: %v", w.Dialogs().Dropped())
	}
}

func TestOpenable_LoadsStoredChunk(t *testing.T) {
	store := newMemStore()
	w, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), store)
	builder, _ := join(t, w, true)
	pos := geom.Vec3i{X: 40, Y: 64, Z: 40}
	step(w, blockFrame(t, builder, protocol.BlockPlace, pos, "chest"))
	w.saveAll()

	w2, _ := newTestWorld(t, testRegistry(t, 0), testTuning(), store)
	pid, out := join(t, w2, false)
	step(w2, containerFrame(t, pid, protocol.Packet{Pos: pos, Msg: protocol.OpenInventoryMsg{}}))
	pkts := drainPackets(out)
	if len(pkts) != 1 {
		t.Fatalf("open answer: %+v", pkts)
	}
	if _, ok := pkts[0].Msg.(protocol.OpenInventoryMsg); !ok {
		t.Fatalf("want open, got %T", pkts[0].Msg)
	}
}

func TestUnloadIdle_DropsEmptyChunksWithoutStore(t *testing.T) {
	tune := testTuning()
	tune.SaveEveryTicks = 1
	tune.UnloadAfterTicks = 3
	w, _ := newTestWorld(t, testRegistry(t, 0), tune, nil)
	builder, _ := join(t, w, true)
	built := geom.Vec3i{X: 1, Y: 64, Z: 1}
	empty := geom.Vec3i{X: 500, Y: 64, Z: 500}
	step(w, blockFrame(t, builder, protocol.BlockPlace, built, "chest"))
	_ = w.Block(empty)

	for i := 0; i < 5; i++ {
		step(w)
	}
	if _, ok := w.chunks[empty.Chunk()]; ok {
		t.Fatalf("empty chunk kept")
	}
	if _, ok := w.chunks[built.Chunk()]; !ok {
		t.Fatalf("unsaved chunk dropped")
	}
}
