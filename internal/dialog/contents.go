package dialog

import (
	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/protocol"
)

// ContentsPacket carries a full copy of a container that shows its contents
// in the world, such as a display case, to players without an open dialog.
// Block entities use custom offsets below it.
var ContentsPacket = protocol.MustCustom(255)

const keyClass = "class"

func contentsMsg(class string, core *container.Core) protocol.CustomMsg {
	t := attr.New().
		SetStr(keyClass, class).
		SetTree(container.InventoryKey, core.Serialize())
	return protocol.CustomMsg{ID: ContentsPacket, Payload: *protocol.NewBlob(t)}
}

// decodeContents reads a ContentsPacket payload.
func decodeContents(m protocol.CustomMsg) (class string, inv attr.Tree, ok bool) {
	class, _ = m.Payload.Tree.Str(keyClass)
	inv, ok = m.Payload.Tree.Tree(container.InventoryKey)
	return class, inv, ok && class != ""
}
