package behaviors

import (
	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/inventory"
)

const (
	chestSlots = 16
	crateSlots = 9
)

// Chest is a plain openable container that spills its contents when broken.
type Chest struct {
	base
	core *container.Core
}

func newChest(b base) *Chest {
	return &Chest{base: b, core: container.New(b.class, b.pos, chestSlots)}
}

func (c *Chest) Container() *container.Core { return c.core }
func (c *Chest) DialogClass() string        { return c.core.Class }

func (c *Chest) Load(rec attr.Tree) { loadInventory(c.core, rec) }

func (c *Chest) Init(h Host) {
	c.bind(h)
	c.core.Initialize(h)
}

func (c *Chest) Placed(source *inventory.ItemStack, _ float64) { c.core.OnPlaced(source) }

func (c *Chest) Broken() *inventory.ItemStack {
	c.core.OnRemoved()
	return inventory.NewStack(c.block, 1)
}

func (c *Chest) Save() attr.Tree {
	return attr.New().SetTree(container.InventoryKey, c.core.Serialize())
}

// LootChest is a chest whose first slot may hold an unrolled loot table. The
// table is rolled when the world remaps the chest's ids on load.
type LootChest struct {
	Chest
}

func newLootChest(b base) *LootChest {
	return &LootChest{Chest: *newChest(b)}
}

// SeedLoot stores a placeholder for table. It does nothing on a chest that
// already holds items.
func (c *LootChest) SeedLoot(table string) bool {
	if !c.core.Inventory().IsEmpty() {
		return false
	}
	_ = c.core.Inventory().Set(0, &inventory.ItemStack{Loot: table, Count: 1})
	return true
}

// Broken leaves no block item: an old chest does not survive being broken.
func (c *LootChest) Broken() *inventory.ItemStack {
	c.core.OnRemoved()
	return nil
}

// Crate keeps its contents when broken: they travel sealed inside the crate
// item and come back out when it is placed again.
type Crate struct {
	base
	core *container.Core
}

func newCrate(b base) *Crate {
	core := container.New(b.class, b.pos, crateSlots)
	core.SuppressDrops = true
	return &Crate{base: b, core: core}
}

func (c *Crate) Container() *container.Core { return c.core }
func (c *Crate) DialogClass() string        { return c.core.Class }

func (c *Crate) Load(rec attr.Tree) { loadInventory(c.core, rec) }

func (c *Crate) Init(h Host) {
	c.bind(h)
	c.core.Initialize(h)
}

func (c *Crate) Placed(source *inventory.ItemStack, _ float64) { c.core.OnPlaced(source) }

func (c *Crate) Broken() *inventory.ItemStack {
	item := inventory.NewStack(c.block, 1)
	c.core.SealInto(item)
	c.core.OnRemoved()
	return item
}

func (c *Crate) Save() attr.Tree {
	return attr.New().SetTree(container.InventoryKey, c.core.Serialize())
}
