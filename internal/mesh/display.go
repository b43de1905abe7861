package mesh

import (
	"strconv"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelcraft.ai/blockentity/internal/inventory"
)

// Place is where one slot's item sits inside its block.
type Place struct {
	Offset   [3]float32 `yaml:"offset"`
	Rotation float64    `yaml:"rotation"`
}

// Layout positions the slots of a display class. With Facing set, every slot
// turns with the yaw of the last placing interaction instead of its own
// fixed rotation.
type Layout struct {
	Name   string  `yaml:"-"`
	Facing bool    `yaml:"facing"`
	Slots  []Place `yaml:"slots"`
}

// Display binds an inventory to the shared cache. It listens for content
// changes and, when a slot's identity changes, drops only that slot's entry.
type Display struct {
	cache  *Cache
	inv    *inventory.Inventory
	layout Layout

	mu     sync.Mutex
	facing uint8
}

func NewDisplay(cache *Cache, inv *inventory.Inventory, layout Layout) *Display {
	d := &Display{cache: cache, inv: inv, layout: layout}
	inv.OnContentChanged(d.onChange)
	return d
}

func (d *Display) onChange(i int, old, next *inventory.ItemStack) {
	if old.IsEmpty() || old.SameItem(next) {
		return
	}
	d.cache.InvalidateKey(d.Params(i).key(old.Identity()))
}

// SetFacing records the yaw of the latest placing interaction.
func (d *Display) SetFacing(yaw float64) {
	d.mu.Lock()
	d.facing = Bucket(yaw)
	d.mu.Unlock()
}

func (d *Display) Facing() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.facing
}

// Params returns the render parameters of slot i.
func (d *Display) Params(i int) Params {
	p := Params{Role: d.layout.Name + "/" + strconv.Itoa(i)}
	var place Place
	if i < len(d.layout.Slots) {
		place = d.layout.Slots[i]
	}
	p.Offset = mgl32.Vec3{place.Offset[0], place.Offset[1], place.Offset[2]}
	if d.layout.Facing {
		p.Rotation = d.Facing()
	} else {
		p.Rotation = Bucket(place.Rotation)
	}
	return p
}

// Meshes returns one mesh per slot, nil for empty slots. Slots are copied
// under the inventory lock; builds run after it is released.
func (d *Display) Meshes() ([]*Mesh, error) {
	stacks := d.inv.Snapshot()
	out := make([]*Mesh, len(stacks))
	for i, s := range stacks {
		if s.IsEmpty() {
			continue
		}
		m, err := d.cache.GetOrBuild(s, d.Params(i))
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
