// Package behaviors holds the concrete block entities. Each one is thin glue
// over the shared frameworks: it picks the capabilities it needs (inventory,
// dialog, display, transition) and wires placement and removal to them.
package behaviors

import (
	"strings"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/transition"
)

// Host is the world as a block entity sees it.
type Host interface {
	container.World
	container.LootRoller
	// Hours is the world calendar time.
	Hours() float64
	Rule(name string) (transition.Rule, bool)
	FuelHours(code string) (float64, bool)
	// Notify sends a custom packet to every player holding or watching the
	// container at pos.
	Notify(pos geom.Vec3i, m protocol.CustomMsg)
}

// Entity is a world-positioned block entity. The world calls Load (for saved
// entities) before Init, and Placed only for entities a player put down.
type Entity interface {
	Block() string
	Pos() geom.Vec3i
	Load(t attr.Tree)
	Init(h Host)
	Placed(source *inventory.ItemStack, yaw float64)
	// Broken runs once when the block is removed. It returns the block's own
	// item to drop, or nil.
	Broken() *inventory.ItemStack
	Save() attr.Tree
}

// Ticker is implemented by entities with work on every transition check.
type Ticker interface {
	Tick(now float64)
}

// Custom packet ids of the display case.
var (
	FacingPacket = protocol.MustCustom(0)
	TurnPacket   = protocol.MustCustom(1)
)

// Record keys next to container.InventoryKey.
const (
	keyTransition = "transition"
	keyYaw        = "yaw"
)

// DialogClass is the dialog class of the container a block code places, the
// key of its dialog and layout settings. Many block codes share one class:
// every lit firepit is a "firepit".
func DialogClass(block string) (string, bool) {
	switch {
	case block == "chest", block == "loot-chest", block == "crate", block == "display-case":
		return block, true
	case strings.HasPrefix(block, "firepit-lit-"):
		return "firepit", true
	case strings.HasPrefix(block, "pile-"):
		return "pile", true
	}
	return "", false
}

// New builds the entity for a block code, or reports false for plain blocks.
func New(block string, pos geom.Vec3i) (Entity, bool) {
	class, _ := DialogClass(block)
	b := base{block: block, class: class, pos: pos}
	switch {
	case block == "chest":
		return newChest(b), true
	case block == "loot-chest":
		return newLootChest(b), true
	case block == "crate":
		return newCrate(b), true
	case block == "display-case":
		return newDisplayCase(b), true
	case strings.HasPrefix(block, "firepit-lit-"):
		return newFirepit(b), true
	case strings.HasPrefix(block, "wood-"):
		return newSmoldering(b), true
	case strings.HasPrefix(block, "pile-"):
		return newPile(b), true
	}
	return nil, false
}

type base struct {
	block string
	class string
	pos   geom.Vec3i
	host  Host
}

func (b *base) Block() string   { return b.block }
func (b *base) Pos() geom.Vec3i { return b.pos }
func (b *base) bind(h Host)     { b.host = h }
func (b *base) dirty(now bool) {
	if b.host != nil {
		b.host.MarkDirty(b.pos, now)
	}
}

// timed is the transition capability shared by decaying entities. A saved
// record waits in saved until Init knows the calendar.
type timed struct {
	rule  string
	timer *transition.Timer
	saved attr.Tree
}

func (t *timed) loadTimer(rec attr.Tree) {
	t.saved, _ = rec.Tree(keyTransition)
}

func (t *timed) initTimer(h Host) {
	if t.rule == "" {
		return
	}
	rule, ok := h.Rule(t.rule)
	if !ok {
		// The scheduler disables timers of unknown rules on their first check.
		rule = transition.Rule{Name: t.rule}
	}
	t.timer = transition.Load(t.saved, rule, h.Hours())
	t.saved = nil
}

func (t *timed) Transition() *transition.Timer { return t.timer }

func (t *timed) saveTimer(rec attr.Tree) {
	if t.timer != nil {
		rec.SetTree(keyTransition, t.timer.Encode())
	}
}

func loadInventory(c *container.Core, rec attr.Tree) {
	if inv, ok := rec.Tree(container.InventoryKey); ok {
		c.Deserialize(inv)
	}
}

func yawBlob(yaw float64) protocol.Blob {
	return *protocol.NewBlob(attr.New().SetFloat(keyYaw, yaw))
}

// DecodeYaw reads the payload of FacingPacket and TurnPacket.
func DecodeYaw(m protocol.CustomMsg) (float64, bool) {
	return m.Payload.Tree.Float(keyYaw)
}

// TurnMsg is the TurnPacket a creative client sends to rotate a display case.
func TurnMsg(yaw float64) protocol.CustomMsg {
	return protocol.CustomMsg{ID: TurnPacket, Payload: yawBlob(yaw)}
}
