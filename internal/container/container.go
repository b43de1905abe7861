// Package container binds a slot inventory to a world position: placement
// seeding, removal drops, record (de)serialization and id remapping.
//
// Nothing here may fail an entity load. A reference that cannot be resolved
// leaves its slot pending or empty and the rest of the container loads.
package container

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/registry"
)

type Side int

const (
	SideServer Side = iota
	SideClient
)

// World is what a container needs from its host.
type World interface {
	Side() Side
	Seed() int64
	Items() registry.Resolver
	Logger() logrus.FieldLogger
	// MarkDirty flags the chunk owning pos for saving; persistNow requests an
	// immediate write instead of waiting for the next save interval.
	MarkDirty(pos geom.Vec3i, persistNow bool)
	// DropItem spawns a dropped-item entity and returns its id.
	DropItem(at mgl64.Vec3, stack *inventory.ItemStack) string
}

// LootRoller is implemented by worlds that can roll deferred loot.
type LootRoller interface {
	RollLoot(table string, rng *rand.Rand) []*inventory.ItemStack
}

// HasInventory is the capability of block entities that own a Core.
type HasInventory interface {
	Container() *Core
}

type Core struct {
	Class string
	Pos   geom.Vec3i

	// SuppressDrops keeps OnRemoved from spilling contents, for containers
	// whose contents travel inside the block's own item (see SealInto).
	SuppressDrops bool

	inv   *inventory.Inventory
	world World
	items registry.Resolver
	rng   *rand.Rand
	log   logrus.FieldLogger
	gates map[string]struct{}

	removed bool
}

func New(class string, pos geom.Vec3i, slots int) *Core {
	return &Core{
		Class: class,
		Pos:   pos,
		inv:   inventory.New(slots),
		log:   logrus.StandardLogger(),
		gates: map[string]struct{}{},
	}
}

// ID is unique per world: "<class>-<x>/<y>/<z>".
func (c *Core) ID() string { return InventoryID(c.Class, c.Pos) }

func InventoryID(class string, pos geom.Vec3i) string {
	return fmt.Sprintf("%s-%d/%d/%d", class, pos.X, pos.Y, pos.Z)
}

func (c *Core) Inventory() *inventory.Inventory { return c.inv }

func (c *Core) Container() *Core { return c }

func (c *Core) Initialized() bool { return c.world != nil }

// Initialize binds the container to w and resolves pending references.
// Unresolvable codes stay pending; they never fail the load.
func (c *Core) Initialize(w World) {
	first := c.world == nil
	c.world = w
	c.items = w.Items()
	c.log = w.Logger().WithField("container", c.ID())
	c.rng = rand.New(rand.NewSource(w.Seed() ^ posSeed(c.Pos)))
	if first && w.Side() == SideServer {
		c.inv.OnContentChanged(func(int, *inventory.ItemStack, *inventory.ItemStack) {
			c.MarkDirty(false)
		})
	}
	c.resolvePending()
}

func (c *Core) resolvePending() {
	if c.items == nil {
		return
	}
	for _, i := range c.inv.NonEmpty() {
		s, _ := c.inv.Read(i)
		if s.Loot != "" || s.Ref.Resolved() || s.Ref.Code == "" {
			continue
		}
		id, ok := c.items.ItemID(s.Ref.Code)
		if !ok {
			c.log.WithField("slot", i).Debugf("item %q unresolved, slot pending", s.Ref.Code)
			continue
		}
		s.Ref.ID = id
		_ = c.inv.Set(i, s)
	}
}

func (c *Core) OnContentChanged(fn inventory.Listener) { c.inv.OnContentChanged(fn) }

// GetSlot returns a copy of slot i. Out-of-range indices return nil.
func (c *Core) GetSlot(i int) *inventory.ItemStack {
	s, err := c.inv.Read(i)
	if err != nil {
		return nil
	}
	return s
}

func (c *Core) MarkDirty(persistNow bool) {
	if c.world == nil || c.removed {
		return
	}
	c.world.MarkDirty(c.Pos, persistNow)
}

// OnPlaced seeds slots from the placing item's stored contents. A nil source
// (world generation) leaves the container as it is.
func (c *Core) OnPlaced(source *inventory.ItemStack) {
	if source == nil {
		return
	}
	contents, ok := source.Attrs.Tree(ContentsKey)
	if !ok {
		return
	}
	c.Deserialize(contents)
	c.MarkDirty(true)
}

// OnRemoved spills every non-empty slot at the block's visual center, once.
// Clients and drop-suppressing containers do nothing.
func (c *Core) OnRemoved() []string {
	if c.world == nil || c.world.Side() != SideServer || c.removed {
		return nil
	}
	var dropped []string
	if !c.SuppressDrops {
		dropped = c.DropContentsAt(c.Pos.Center())
	}
	c.removed = true
	return dropped
}

// DropContentsAt spawns one dropped item per non-empty slot and clears it.
// Unrolled loot placeholders are not items and are discarded.
func (c *Core) DropContentsAt(at mgl64.Vec3) []string {
	if c.world == nil {
		return nil
	}
	var ids []string
	for _, i := range c.inv.NonEmpty() {
		s, _ := c.inv.Read(i)
		if s.Loot == "" {
			if id := c.world.DropItem(at, s); id != "" {
				ids = append(ids, id)
			}
		}
		_ = c.inv.Clear(i)
	}
	return ids
}

// SealInto stores the contents in item's attributes so OnPlaced can restore them.
func (c *Core) SealInto(item *inventory.ItemStack) {
	if item == nil || c.inv.IsEmpty() {
		return
	}
	item.Attrs = item.Attrs.Clone()
	if item.Attrs == nil {
		item.Attrs = attr.New()
	}
	item.Attrs.SetTree(ContentsKey, c.Serialize())
}

// TryInsert adds s whole or not at all. It fails while the container is gated
// by an open dialog or when the stack does not fit.
func (c *Core) TryInsert(s *inventory.ItemStack) bool {
	if s.IsEmpty() || c.Gated() {
		return false
	}
	limit := c.StackLimit(s)
	room := 0
	for _, cur := range c.inv.Snapshot() {
		switch {
		case cur.IsEmpty():
			room += limit
		case cur.SameItem(s):
			room += max(limit-cur.Count, 0)
		}
	}
	if room < s.Count {
		return false
	}
	return c.inv.Insert(s, limit) == 0
}

// StackLimit is the registry max stack for s, or the default when unbound.
func (c *Core) StackLimit(s *inventory.ItemStack) int {
	if c.items == nil || s.Ref.Code == "" {
		return inventory.DefaultMaxStack
	}
	return c.items.MaxStack(s.Ref.Code)
}

// Gate blocks direct insertion while holder keeps it.
func (c *Core) Gate(holder string)   { c.gates[holder] = struct{}{} }
func (c *Core) Ungate(holder string) { delete(c.gates, holder) }
func (c *Core) Gated() bool          { return len(c.gates) > 0 }

func (c *Core) Removed() bool { return c.removed }

func posSeed(p geom.Vec3i) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d,%d,%d", p.X, p.Y, p.Z)
	return int64(h.Sum64())
}
