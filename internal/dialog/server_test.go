package dialog

import (
	"io"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/registry"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testWorld struct {
	reg *registry.Registry
}

func (w *testWorld) Side() container.Side                             { return container.SideServer }
func (w *testWorld) Seed() int64                                      { return 1 }
func (w *testWorld) Items() registry.Resolver                         { return w.reg }
func (w *testWorld) Logger() logrus.FieldLogger                       { return quietLogger() }
func (w *testWorld) MarkDirty(geom.Vec3i, bool)                       {}
func (w *testWorld) DropItem(mgl64.Vec3, *inventory.ItemStack) string { return "" }

type chest struct {
	*container.Core
}

func (chest) DialogClass() string { return "chest" }

type sent struct {
	player string
	pkt    protocol.Packet
}

type testHost struct {
	targets map[geom.Vec3i]Openable
	out     []sent
}

func (h *testHost) Openable(pos geom.Vec3i) (Openable, bool) {
	o, ok := h.targets[pos]
	return o, ok
}

func (h *testHost) Send(player string, pkt protocol.Packet) {
	h.out = append(h.out, sent{player, pkt})
}

func (h *testHost) reset() { h.out = nil }

func (h *testHost) count(id protocol.PacketID) int {
	n := 0
	for _, s := range h.out {
		if s.pkt.Msg.PacketID() == id {
			n++
		}
	}
	return n
}

type testPlayer struct {
	id       string
	creative bool
	cursor   *inventory.ItemStack
}

func (p *testPlayer) ID() string                       { return p.id }
func (p *testPlayer) Creative() bool                   { return p.creative }
func (p *testPlayer) Cursor() *inventory.ItemStack     { return p.cursor.Clone() }
func (p *testPlayer) SetCursor(s *inventory.ItemStack) { p.cursor = s.Clone() }

var chestPos = geom.Vec3i{X: 4, Y: 64, Z: -2}

func setup(t *testing.T) (*Server, *testHost, chest) {
	t.Helper()
	reg, err := registry.Build([]registry.ItemDef{{Code: "a"}, {Code: "b"}, {Code: "c"}}, nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	core := container.New("chest", chestPos, 4)
	core.Initialize(&testWorld{reg: reg})
	c := chest{core}
	host := &testHost{targets: map[geom.Vec3i]Openable{chestPos: c}}
	srv := NewServer(host, map[string]Info{"chest": {Title: "Chest", Columns: 4}}, quietLogger())
	return srv, host, c
}

func packet(m protocol.Message) protocol.Packet { return protocol.Packet{Pos: chestPos, Msg: m} }

func TestScenarioB_OpenCloseWithoutMutationSendsNoDeltas(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if got := srv.State("P1", c.ID()); got != Open {
		t.Fatalf("state after open: %s", got)
	}
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))
	if n := host.count(protocol.IDSlotUpdate); n != 0 {
		t.Fatalf("deltas: %d", n)
	}
	if srv.State("P1", c.ID()) != Closed {
		t.Fatalf("session not closed")
	}
}

func TestScenarioC_DeltaBeforeCloseAck(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	_ = c.Inventory().Set(2, inventory.NewStack("c", 1))
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))

	if len(host.out) != 3 {
		t.Fatalf("packets: %d", len(host.out))
	}
	delta, ok := host.out[1].pkt.Msg.(protocol.SlotUpdateMsg)
	if !ok || delta.Slot != 2 || delta.Stack == nil {
		t.Fatalf("delta: %#v", host.out[1].pkt.Msg)
	}
	if s := container.DecodeStack(delta.Stack.Tree); !s.Equal(inventory.NewStack("c", 1)) {
		t.Fatalf("delta stack: %v", s)
	}
	if _, ok := host.out[2].pkt.Msg.(protocol.CloseInventoryMsg); !ok {
		t.Fatalf("last packet should be close ack: %#v", host.out[2].pkt.Msg)
	}
}

func TestScenarioE_OutOfRangeSlotDropped(t *testing.T) {
	srv, _, c := setup(t)
	_ = c.Inventory().Set(0, inventory.NewStack("a", 5))
	p := &testPlayer{id: "P1", cursor: inventory.NewStack("b", 2)}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	before := c.Inventory().Snapshot()

	srv.Handle(p, packet(protocol.PutMsg{Slot: 99, Count: 1}))
	srv.Handle(p, packet(protocol.TakeMsg{Slot: -1, Count: 1}))

	after := c.Inventory().Snapshot()
	for i := range before {
		if !before[i].Equal(after[i]) {
			t.Fatalf("slot %d changed: %v", i, after[i])
		}
	}
	if n := srv.Dropped()[protocol.ErrSlotOutOfRange]; n != 2 {
		t.Fatalf("dropped out-of-range: %d", n)
	}
	if !p.cursor.Equal(inventory.NewStack("b", 2)) {
		t.Fatalf("cursor changed: %v", p.cursor)
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	srv.Close("P1", c.Core)
	srv.Close("P1", c.Core)
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))
	if n := host.count(protocol.IDCloseInventory); n != 1 {
		t.Fatalf("close acks: %d", n)
	}
}

func TestDoubleOpen_TogglesClosed(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if srv.State("P1", c.ID()) != Closed {
		t.Fatalf("double open should close")
	}
	if len(srv.Holders(c.Core)) != 0 {
		t.Fatalf("holders left: %v", srv.Holders(c.Core))
	}
	if host.count(protocol.IDCloseInventory) != 1 {
		t.Fatalf("toggle should acknowledge the close")
	}
	if c.Gated() {
		t.Fatalf("gate not released")
	}
}

func TestGate_NonCreativeOnly(t *testing.T) {
	srv, _, c := setup(t)
	survival := &testPlayer{id: "S"}
	creative := &testPlayer{id: "C", creative: true}

	srv.Handle(creative, packet(protocol.OpenInventoryMsg{}))
	if c.Gated() {
		t.Fatalf("creative player gated the container")
	}
	srv.Handle(survival, packet(protocol.OpenInventoryMsg{}))
	if c.TryInsert(inventory.NewStack("a", 1)) {
		t.Fatalf("insert accepted while gated")
	}
	srv.Handle(survival, packet(protocol.CloseInventoryMsg{}))
	if !c.TryInsert(inventory.NewStack("a", 1)) {
		t.Fatalf("insert refused after close")
	}
}

func TestReopen_SnapshotOnlyWhenStale(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if host.count(protocol.IDOpenInventory) != 1 {
		t.Fatalf("first open must snapshot")
	}
	_ = c.Inventory().Set(1, inventory.NewStack("a", 2))
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))

	host.reset()
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if host.count(protocol.IDOpenInventory) != 0 {
		t.Fatalf("fresh view got a snapshot")
	}
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))

	_ = c.Inventory().Set(3, inventory.NewStack("b", 1))
	host.reset()
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if host.count(protocol.IDOpenInventory) != 1 {
		t.Fatalf("stale view did not get a snapshot")
	}
	open := host.out[0].pkt.Msg.(protocol.OpenInventoryMsg)
	if open.Title != "Chest" || open.Columns != 4 || open.DialogClass != "chest" {
		t.Fatalf("metadata: %#v", open)
	}
	slots := container.DecodeSlots(open.Snapshot.Tree, 4)
	if !slots[3].Equal(inventory.NewStack("b", 1)) || !slots[1].Equal(inventory.NewStack("a", 2)) {
		t.Fatalf("snapshot: %v", slots)
	}
}

func TestContainerRemoved_ForceClosesAndStopsDeltas(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	srv.ContainerRemoved(c.Core)
	if srv.State("P1", c.ID()) != Closed {
		t.Fatalf("session survived removal")
	}
	if host.count(protocol.IDCloseInventory) != 1 {
		t.Fatalf("player not told about forced close")
	}
	host.reset()
	_ = c.Inventory().Set(0, inventory.NewStack("a", 1))
	if len(host.out) != 0 {
		t.Fatalf("delta pushed after removal: %v", host.out)
	}
}

func TestPlayerLeft_ClosesSilently(t *testing.T) {
	srv, host, c := setup(t)
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	host.reset()
	srv.PlayerLeft("P1")
	if len(host.out) != 0 {
		t.Fatalf("packets sent to departed player")
	}
	if c.Gated() || srv.State("P1", c.ID()) != Closed {
		t.Fatalf("session or gate left behind")
	}
}

func TestSlotOps_MoveBetweenCursorAndSlot(t *testing.T) {
	srv, _, c := setup(t)
	_ = c.Inventory().Set(0, inventory.NewStack("a", 5))
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))

	srv.Handle(p, packet(protocol.SplitMsg{Slot: 0}))
	if !p.cursor.Equal(inventory.NewStack("a", 3)) || !c.GetSlot(0).Equal(inventory.NewStack("a", 2)) {
		t.Fatalf("split: cursor=%v slot=%v", p.cursor, c.GetSlot(0))
	}
	srv.Handle(p, packet(protocol.PutMsg{Slot: 2, Count: 1}))
	if !c.GetSlot(2).Equal(inventory.NewStack("a", 1)) || p.cursor.Count != 2 {
		t.Fatalf("put: cursor=%v slot=%v", p.cursor, c.GetSlot(2))
	}
	srv.Handle(p, packet(protocol.TakeMsg{Slot: 0, Count: 0}))
	if !p.cursor.Equal(inventory.NewStack("a", 4)) || c.GetSlot(0) != nil {
		t.Fatalf("take all: cursor=%v slot=%v", p.cursor, c.GetSlot(0))
	}
}

func TestSlotOps_WithoutSessionDropped(t *testing.T) {
	srv, _, c := setup(t)
	_ = c.Inventory().Set(0, inventory.NewStack("a", 5))
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.TakeMsg{Slot: 0, Count: 1}))
	if c.GetSlot(0).Count != 5 || p.cursor != nil {
		t.Fatalf("take applied without a session")
	}
	if srv.Dropped()[protocol.ErrNoSession] != 1 {
		t.Fatalf("drop not counted: %v", srv.Dropped())
	}
}

func TestHandleFrame_DropsUndecodable(t *testing.T) {
	srv, _, _ := setup(t)
	p := &testPlayer{id: "P1"}
	srv.HandleFrame(p, []byte(`{"type":"CONTAINER","id":700,"pos":[4,64,-2]}`))
	srv.HandleFrame(p, []byte(`{`))
	srv.Handle(p, protocol.Packet{Pos: geom.Vec3i{}, Msg: protocol.OpenInventoryMsg{}})
	d := srv.Dropped()
	if d[protocol.ErrBadPacketID] != 1 || d[protocol.ErrMalformed] != 1 || d[protocol.ErrNoContainer] != 1 {
		t.Fatalf("dropped: %v", d)
	}
}

type facingChest struct {
	chest
	yaw byte
}

func (f facingChest) SnapshotExtras() []protocol.CustomMsg {
	return []protocol.CustomMsg{{ID: protocol.MustCustom(0), Payload: *protocol.NewBlob(attrYaw(f.yaw))}}
}

func TestOpen_SendsExtrasWithSnapshot(t *testing.T) {
	srv, host, c := setup(t)
	host.targets[chestPos] = facingChest{chest: c, yaw: 90}
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if len(host.out) != 2 {
		t.Fatalf("packets: %d", len(host.out))
	}
	if host.out[1].pkt.Msg.PacketID() != protocol.MustCustom(0) {
		t.Fatalf("extra not sent after snapshot: %#v", host.out[1].pkt.Msg)
	}

	// Reopening an unchanged container skips the snapshot and its extras.
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))
	host.reset()
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if len(host.out) != 0 {
		t.Fatalf("fresh view got %d packets", len(host.out))
	}
}

func attrYaw(yaw byte) attr.Tree { return attr.New().SetInt("yaw", int64(yaw)) }

func TestShow_ContentsThenDeltasWithoutDialog(t *testing.T) {
	srv, host, c := setup(t)
	srv.ShowContents("chest")
	_ = c.Inventory().Set(0, inventory.NewStack("a", 2))
	host.reset()

	p := &testPlayer{id: "P1"}
	srv.Show(p, c)
	if host.count(ContentsPacket) != 1 {
		t.Fatalf("contents: %+v", host.out)
	}
	m := host.out[0].pkt.Msg.(protocol.CustomMsg)
	class, inv, ok := decodeContents(m)
	if !ok || class != "chest" || container.SlotCount(inv) != 4 {
		t.Fatalf("contents payload: %q %v", class, ok)
	}
	srv.Show(p, c)
	if host.count(ContentsPacket) != 1 {
		t.Fatalf("unchanged contents resent")
	}

	_ = c.Inventory().Set(1, inventory.NewStack("b", 1))
	if host.count(protocol.IDSlotUpdate) != 1 || host.out[len(host.out)-1].player != "P1" {
		t.Fatalf("delta to viewer: %+v", host.out)
	}

	// Opening after watching needs no snapshot.
	host.reset()
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	if host.count(protocol.IDOpenInventory) != 0 {
		t.Fatalf("snapshot on open: %+v", host.out)
	}
	if got := srv.Audience(c.Core); len(got) != 1 || got[0] != "P1" {
		t.Fatalf("audience: %v", got)
	}
}

func TestShow_OpenedDialogKeepsWatchingAfterClose(t *testing.T) {
	srv, host, c := setup(t)
	srv.ShowContents("chest")
	p := &testPlayer{id: "P1"}
	srv.Handle(p, packet(protocol.OpenInventoryMsg{}))
	srv.Handle(p, packet(protocol.CloseInventoryMsg{}))
	host.reset()

	_ = c.Inventory().Set(3, inventory.NewStack("c", 1))
	if host.count(protocol.IDSlotUpdate) != 1 {
		t.Fatalf("delta after close: %+v", host.out)
	}
	if len(srv.Holders(c.Core)) != 0 {
		t.Fatalf("viewer counted as holder")
	}
}

func TestShow_StopsOnLeaveAndRemoval(t *testing.T) {
	srv, host, c := setup(t)
	srv.ShowContents("chest")
	a, b := &testPlayer{id: "A"}, &testPlayer{id: "B"}
	srv.Show(a, c)
	srv.Show(b, c)

	srv.PlayerLeft("A")
	host.reset()
	_ = c.Inventory().Set(0, inventory.NewStack("a", 1))
	if len(host.out) != 1 || host.out[0].player != "B" {
		t.Fatalf("after leave: %+v", host.out)
	}

	srv.ContainerRemoved(c.Core)
	host.reset()
	_ = c.Inventory().Set(1, inventory.NewStack("a", 1))
	if len(host.out) != 0 {
		t.Fatalf("after removal: %+v", host.out)
	}
}

func TestShow_IgnoresClassesNotShown(t *testing.T) {
	srv, host, c := setup(t)
	srv.Show(&testPlayer{id: "P1"}, c)
	if len(host.out) != 0 || srv.Shows(c) {
		t.Fatalf("hidden class shown: %+v", host.out)
	}
}
