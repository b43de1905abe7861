package container

import (
	"math/rand"
	"strconv"
	"strings"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/registry"
)

// Record keys. Field names are stable across versions.
const (
	InventoryKey = "inventory"
	ContentsKey  = "contents"

	slotPrefix   = "slot_"
	keyType      = "type"
	keyCount     = "count"
	keyAttrs     = "attributes"
	keyLoot      = "loot"
	keyTombstone = "empty"
)

func SlotKey(i int) string { return slotPrefix + strconv.Itoa(i) }

// SlotCount is one past the highest slot key in t.
func SlotCount(t attr.Tree) int {
	n := 0
	for _, k := range t.Keys() {
		idx, ok := strings.CutPrefix(k, slotPrefix)
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(idx); err == nil && i >= n {
			n = i + 1
		}
	}
	return n
}

// Serialize writes one child per slot in index order. Empty slots write a
// tombstone so indices stay aligned.
func (c *Core) Serialize() attr.Tree {
	return EncodeSlots(c.inv.Snapshot())
}

func EncodeSlots(stacks []*inventory.ItemStack) attr.Tree {
	out := attr.New()
	for i, s := range stacks {
		out.SetTree(SlotKey(i), EncodeStack(s))
	}
	return out
}

func EncodeStack(s *inventory.ItemStack) attr.Tree {
	if s.IsEmpty() {
		return attr.New().SetInt(keyTombstone, 1)
	}
	t := attr.New().SetInt(keyCount, int64(s.Count))
	switch {
	case s.Ref.Code != "":
		t.SetStr(keyType, s.Ref.Code)
	case s.Ref.ID != 0:
		t.SetInt(keyType, int64(s.Ref.ID))
	}
	if s.Loot != "" {
		t.SetStr(keyLoot, s.Loot)
	}
	if len(s.Attrs) > 0 {
		t.SetTree(keyAttrs, s.Attrs.Clone())
	}
	return t
}

// DecodeStack parses one slot child. Malformed entries decode as empty.
func DecodeStack(t attr.Tree) *inventory.ItemStack {
	if t == nil || t.Has(keyTombstone) {
		return nil
	}
	count, ok := t.Int(keyCount)
	if !ok || count <= 0 {
		return nil
	}
	s := &inventory.ItemStack{Count: int(count)}
	if code, ok := t.Str(keyType); ok && code != "" {
		s.Ref.Code = code
	} else if id, ok := t.Int(keyType); ok && id > 0 {
		s.Ref.ID = int32(id)
	}
	s.Loot, _ = t.Str(keyLoot)
	if s.Ref.IsZero() && s.Loot == "" {
		return nil
	}
	if a, ok := t.Tree(keyAttrs); ok && len(a) > 0 {
		s.Attrs = a.Clone()
	}
	return s
}

// DecodeSlots decodes n slots from an inventory tree. Missing slots are empty;
// slots beyond n are ignored.
func DecodeSlots(t attr.Tree, n int) []*inventory.ItemStack {
	out := make([]*inventory.ItemStack, n)
	for i := 0; i < n; i++ {
		child, ok := t.Tree(SlotKey(i))
		if !ok {
			continue
		}
		out[i] = DecodeStack(child)
	}
	return out
}

// Deserialize replaces the slot contents from t. Once the container is bound
// to a registry, a code the registry does not know empties its slot; before
// that it stays pending until Initialize.
func (c *Core) Deserialize(t attr.Tree) {
	stacks := DecodeSlots(t, c.inv.Len())
	for i, s := range stacks {
		if s == nil || c.items == nil || s.Loot != "" {
			continue
		}
		if !c.resolve(s) {
			c.log.WithField("slot", i).Warnf("unknown item %s, slot emptied", s.Ref)
			stacks[i] = nil
		}
	}
	c.inv.Replace(stacks)
}

func (c *Core) resolve(s *inventory.ItemStack) bool {
	if s.Ref.Code != "" {
		id, ok := c.items.ItemID(s.Ref.Code)
		if !ok {
			return false
		}
		s.Ref.ID = id
		return true
	}
	code, ok := c.items.ItemCode(s.Ref.ID)
	if !ok {
		return false
	}
	s.Ref.Code = code
	return true
}

// RemapIds rewrites every stored reference from the old registry generation
// to the new one. A reference missing from either table empties its slot.
// Loot placeholders are rolled here, exactly once, from the container's own
// random source.
func (c *Core) RemapIds(old, new registry.Mapping) {
	c.rollDeferred()
	for _, i := range c.inv.NonEmpty() {
		s, _ := c.inv.Read(i)
		if s.Loot != "" {
			continue
		}
		code := s.Ref.Code
		if code == "" {
			var ok bool
			if code, ok = old.Code(s.Ref.ID); !ok {
				c.log.WithField("slot", i).Warnf("id %d missing from saved mapping, slot emptied", s.Ref.ID)
				_ = c.inv.Clear(i)
				continue
			}
		}
		id, ok := new.ID(code)
		if !ok {
			c.log.WithField("slot", i).Warnf("item %q missing from registry, slot emptied", code)
			_ = c.inv.Clear(i)
			continue
		}
		s.Ref = inventory.Ref{Code: code, ID: id}
		_ = c.inv.Set(i, s)
	}
}

func (c *Core) rollDeferred() {
	roller, _ := c.world.(LootRoller)
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(posSeed(c.Pos)))
	}
	for _, i := range c.inv.NonEmpty() {
		s, _ := c.inv.Read(i)
		if s.Loot == "" {
			continue
		}
		_ = c.inv.Clear(i)
		if roller == nil {
			c.log.WithField("slot", i).Warnf("no loot roller, placeholder %s dropped", s.Loot)
			continue
		}
		rolled := roller.RollLoot(s.Loot, c.rng)
		for n, r := range rolled {
			if n == 0 {
				_ = c.inv.Set(i, r)
				continue
			}
			if left := c.inv.Insert(r, c.StackLimit(r)); left > 0 {
				c.log.WithField("slot", i).Debugf("loot overflow: %d x %s discarded", left, r.Ref)
			}
		}
	}
}
