package behaviors

import (
	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/dialog"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
)

const displaySlots = 4

// DisplayCase shows its items on the client through a mesh layout. Its
// facing is the yaw of the player who placed it; creative players can turn it.
type DisplayCase struct {
	base
	core *container.Core
	yaw  float64
}

func newDisplayCase(b base) *DisplayCase {
	return &DisplayCase{base: b, core: container.New(b.class, b.pos, displaySlots)}
}

func (d *DisplayCase) Container() *container.Core { return d.core }
func (d *DisplayCase) DialogClass() string        { return d.core.Class }
func (d *DisplayCase) Yaw() float64               { return d.yaw }

func (d *DisplayCase) Load(rec attr.Tree) {
	loadInventory(d.core, rec)
	d.yaw, _ = rec.Float(keyYaw)
}

func (d *DisplayCase) Init(h Host) {
	d.bind(h)
	d.core.Initialize(h)
}

func (d *DisplayCase) Placed(source *inventory.ItemStack, yaw float64) {
	d.yaw = yaw
	d.core.OnPlaced(source)
	d.dirty(true)
}

func (d *DisplayCase) Broken() *inventory.ItemStack {
	d.core.OnRemoved()
	return inventory.NewStack(d.block, 1)
}

func (d *DisplayCase) Save() attr.Tree {
	return attr.New().
		SetTree(container.InventoryKey, d.core.Serialize()).
		SetFloat(keyYaw, d.yaw)
}

// SnapshotExtras tells a freshly synced client which way the case faces.
func (d *DisplayCase) SnapshotExtras() []protocol.CustomMsg {
	return []protocol.CustomMsg{{ID: FacingPacket, Payload: yawBlob(d.yaw)}}
}

// HandleCustom accepts TurnPacket from creative players and pushes the new
// facing to everyone holding or watching the case.
func (d *DisplayCase) HandleCustom(p dialog.Player, m protocol.CustomMsg) {
	if m.ID != TurnPacket || !p.Creative() {
		return
	}
	yaw, ok := DecodeYaw(m)
	if !ok || yaw == d.yaw {
		return
	}
	d.yaw = yaw
	d.dirty(false)
	if d.host != nil {
		d.host.Notify(d.pos, protocol.CustomMsg{ID: FacingPacket, Payload: yawBlob(yaw)})
	}
}
