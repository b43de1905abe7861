package dialog

import (
	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
)

// View is the client's local dialog for one container.
type View struct {
	Pos     geom.Vec3i
	Class   string
	Title   string
	Columns uint8
	State   State
	Inv     *inventory.Inventory
}

// CustomFunc handles a container-specific packet on the client.
type CustomFunc func(pos geom.Vec3i, m protocol.CustomMsg)

// Client keeps mirror inventories of the containers the player has seen and
// at most one open dialog.
type Client struct {
	send    func(protocol.Packet)
	classes map[string]Info
	log     logrus.FieldLogger

	view    *View
	mirrors map[geom.Vec3i]*inventory.Inventory
	// shown holds the class of every mirror kept current by ContentsPacket.
	shown map[geom.Vec3i]string
	// acks counts Close packets sent whose acknowledgement has not come back.
	acks    map[geom.Vec3i]int
	custom  map[protocol.PacketID]CustomFunc
	dropped int
}

func NewClient(send func(protocol.Packet), classes map[string]Info, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		send:    send,
		classes: classes,
		log:     log.WithField("component", "dialog-client"),
		mirrors: map[geom.Vec3i]*inventory.Inventory{},
		shown:   map[geom.Vec3i]string{},
		acks:    map[geom.Vec3i]int{},
		custom:  map[protocol.PacketID]CustomFunc{},
	}
}

// HandleCustom registers fn for a custom packet id.
func (c *Client) HandleCustom(id protocol.PacketID, fn CustomFunc) {
	if id.Range() != protocol.RangeCustom {
		return
	}
	c.custom[id] = fn
}

// Interact toggles the dialog of the container at pos. Opening builds the
// local dialog at once from the mirror (or an empty inventory of slots) and
// tells the server; a stale mirror is fixed by the snapshot that follows.
func (c *Client) Interact(pos geom.Vec3i, class string, slots int) {
	if c.view != nil && c.view.Pos == pos {
		c.Close()
		return
	}
	if c.view != nil {
		c.Close()
	}
	inv := c.mirror(pos, slots)
	in, ok := c.classes[class]
	if !ok {
		in = Info{Title: class}
	}
	c.view = &View{Pos: pos, Class: class, Title: in.Title, Columns: in.Columns, State: Opening, Inv: inv}
	c.send(protocol.Packet{Pos: pos, Msg: protocol.OpenInventoryMsg{}})
	c.view.State = Open
}

// Close tears down the local dialog and tells the server.
func (c *Client) Close() {
	if c.view == nil {
		return
	}
	v := c.view
	v.State = Closing
	c.view = nil
	c.acks[v.Pos]++
	c.send(protocol.Packet{Pos: v.Pos, Msg: protocol.CloseInventoryMsg{}})
	v.State = Closed
}

// Current returns the open dialog, or nil.
func (c *Client) Current() *View { return c.view }

// Mirror returns the local copy of the container at pos, if one was synced.
func (c *Client) Mirror(pos geom.Vec3i) (*inventory.Inventory, bool) {
	inv, ok := c.mirrors[pos]
	return inv, ok
}

// Forget drops the mirror of a container that left the client's view.
func (c *Client) Forget(pos geom.Vec3i) {
	if c.view != nil && c.view.Pos == pos {
		c.view.State = Closed
		c.view = nil
	}
	delete(c.mirrors, pos)
	delete(c.shown, pos)
	delete(c.acks, pos)
}

// Shown returns the class of a container whose contents the server keeps
// this client up to date with, dialog or not.
func (c *Client) Shown(pos geom.Vec3i) (string, bool) {
	class, ok := c.shown[pos]
	return class, ok
}

// Put, Take and Split send raw slot operations for the open dialog.
func (c *Client) Put(slot, count int)  { c.slotOp(protocol.PutMsg{Slot: slot, Count: count}) }
func (c *Client) Take(slot, count int) { c.slotOp(protocol.TakeMsg{Slot: slot, Count: count}) }
func (c *Client) Split(slot int)       { c.slotOp(protocol.SplitMsg{Slot: slot}) }

func (c *Client) slotOp(m protocol.Message) {
	if c.view == nil {
		return
	}
	c.send(protocol.Packet{Pos: c.view.Pos, Msg: m})
}

// Dropped counts server packets that could not apply.
func (c *Client) Dropped() int { return c.dropped }

// Handle applies a packet from the server. Packets that do not apply are
// dropped without error.
func (c *Client) Handle(pkt protocol.Packet) {
	switch m := pkt.Msg.(type) {
	case protocol.OpenInventoryMsg:
		c.applyOpen(pkt.Pos, m)
	case protocol.SlotUpdateMsg:
		inv, ok := c.mirrors[pkt.Pos]
		if !ok || !inv.InRange(m.Slot) {
			c.drop("delta for unknown slot", pkt.Pos)
			return
		}
		var s *inventory.ItemStack
		if m.Stack != nil {
			s = container.DecodeStack(m.Stack.Tree)
		}
		_ = inv.Set(m.Slot, s)
	case protocol.CloseInventoryMsg:
		if c.acks[pkt.Pos] > 0 {
			c.acks[pkt.Pos]--
			return
		}
		// Unsolicited: the server closed the dialog.
		if c.view != nil && c.view.Pos == pkt.Pos {
			c.view.State = Closed
			c.view = nil
		}
	case protocol.CustomMsg:
		if m.ID == ContentsPacket {
			c.applyContents(pkt.Pos, m)
			return
		}
		fn, ok := c.custom[m.ID]
		if !ok {
			c.drop("no custom handler", pkt.Pos)
			return
		}
		fn(pkt.Pos, m)
	default:
		c.drop("client-bound packet not accepted", pkt.Pos)
	}
}

func (c *Client) applyOpen(pos geom.Vec3i, m protocol.OpenInventoryMsg) {
	var inv *inventory.Inventory
	if m.Snapshot != nil {
		n := container.SlotCount(m.Snapshot.Tree)
		inv = c.mirror(pos, n)
		inv.Replace(container.DecodeSlots(m.Snapshot.Tree, inv.Len()))
	} else {
		inv = c.mirror(pos, 0)
	}
	if c.view != nil && c.view.Pos == pos {
		c.view.Inv = inv
		c.view.Class = m.DialogClass
		c.view.Title = m.Title
		c.view.Columns = m.Columns
		return
	}
	// Server-initiated open.
	if c.view != nil {
		c.Close()
	}
	c.view = &View{Pos: pos, Class: m.DialogClass, Title: m.Title, Columns: m.Columns, State: Open, Inv: inv}
}

func (c *Client) applyContents(pos geom.Vec3i, m protocol.CustomMsg) {
	class, tree, ok := decodeContents(m)
	n := container.SlotCount(tree)
	if !ok || n == 0 {
		c.drop("bad contents", pos)
		return
	}
	inv := c.mirror(pos, n)
	inv.Replace(container.DecodeSlots(tree, inv.Len()))
	c.shown[pos] = class
	if c.view != nil && c.view.Pos == pos {
		c.view.Inv = inv
	}
}

// mirror returns the mirror at pos, replacing it when the slot count changed.
func (c *Client) mirror(pos geom.Vec3i, slots int) *inventory.Inventory {
	inv, ok := c.mirrors[pos]
	if ok && (slots == 0 || inv.Len() == slots) {
		return inv
	}
	inv = inventory.New(slots)
	c.mirrors[pos] = inv
	return inv
}

func (c *Client) drop(reason string, pos geom.Vec3i) {
	c.dropped++
	c.log.WithField("pos", pos.String()).Debug("packet dropped: " + reason)
}
