package behaviors

import (
	"strings"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
)

// Transition rule names used by the entities below; server.yaml defines them.
const (
	RuleFirepitBurnout = "firepit-burnout"
	RuleWoodChar       = "wood-char"
	RulePileRot        = "pile-rot"
)

// Firepit burns out after its rule's hours. Fuel put in its slot is burned
// one item at a time, each pushing the burnout back.
type Firepit struct {
	base
	timed
	core *container.Core
}

func newFirepit(b base) *Firepit {
	return &Firepit{
		base:  b,
		timed: timed{rule: RuleFirepitBurnout},
		core:  container.New(b.class, b.pos, 1),
	}
}

func (f *Firepit) Container() *container.Core { return f.core }
func (f *Firepit) DialogClass() string        { return f.core.Class }

func (f *Firepit) Load(rec attr.Tree) {
	loadInventory(f.core, rec)
	f.loadTimer(rec)
}

func (f *Firepit) Init(h Host) {
	f.bind(h)
	f.core.Initialize(h)
	f.initTimer(h)
}

func (f *Firepit) Placed(*inventory.ItemStack, float64) { f.dirty(true) }

func (f *Firepit) Broken() *inventory.ItemStack {
	f.core.OnRemoved()
	return nil
}

func (f *Firepit) Save() attr.Tree {
	rec := attr.New().SetTree(container.InventoryKey, f.core.Serialize())
	f.saveTimer(rec)
	return rec
}

// Tick burns one fuel item once less than an hour of fire is left.
func (f *Firepit) Tick(now float64) {
	if f.timer == nil || f.host == nil || !f.timer.Due(now+1) {
		return
	}
	fuel := f.core.GetSlot(0)
	if fuel.IsEmpty() {
		return
	}
	hours, ok := f.host.FuelHours(fuel.Ref.Code)
	if !ok {
		return
	}
	if _, err := f.core.Inventory().Take(0, 1); err != nil {
		return
	}
	if err := f.timer.Extend(hours); err == nil {
		f.dirty(false)
	}
}

// Smoldering wood chars into ash. It has no inventory.
type Smoldering struct {
	base
	timed
}

func newSmoldering(b base) *Smoldering {
	return &Smoldering{base: b, timed: timed{rule: RuleWoodChar}}
}

func (s *Smoldering) Load(rec attr.Tree) { s.loadTimer(rec) }

func (s *Smoldering) Init(h Host) {
	s.bind(h)
	s.initTimer(h)
}

func (s *Smoldering) Placed(*inventory.ItemStack, float64) { s.dirty(true) }
func (s *Smoldering) Broken() *inventory.ItemStack         { return nil }

func (s *Smoldering) Save() attr.Tree {
	rec := attr.New()
	s.saveTimer(rec)
	return rec
}

// Pile is a small heap of food. Fresh piles rot now and then once their
// rule's hours have passed; rotten ones just hold items.
type Pile struct {
	base
	timed
	core *container.Core
	yaw  float64
}

func newPile(b base) *Pile {
	p := &Pile{base: b, core: container.New(b.class, b.pos, 2)}
	if strings.HasSuffix(b.block, "-fresh") {
		p.rule = RulePileRot
	}
	return p
}

func (p *Pile) Container() *container.Core { return p.core }
func (p *Pile) DialogClass() string        { return p.core.Class }
func (p *Pile) Yaw() float64               { return p.yaw }

func (p *Pile) Load(rec attr.Tree) {
	loadInventory(p.core, rec)
	p.loadTimer(rec)
	p.yaw, _ = rec.Float(keyYaw)
}

func (p *Pile) Init(h Host) {
	p.bind(h)
	p.core.Initialize(h)
	p.initTimer(h)
}

func (p *Pile) Placed(source *inventory.ItemStack, yaw float64) {
	p.yaw = yaw
	p.core.OnPlaced(source)
	p.dirty(true)
}

func (p *Pile) Broken() *inventory.ItemStack {
	p.core.OnRemoved()
	return nil
}

func (p *Pile) Save() attr.Tree {
	rec := attr.New().
		SetTree(container.InventoryKey, p.core.Serialize()).
		SetFloat(keyYaw, p.yaw)
	p.saveTimer(rec)
	return rec
}

func (p *Pile) SnapshotExtras() []protocol.CustomMsg {
	return []protocol.CustomMsg{{ID: FacingPacket, Payload: yawBlob(p.yaw)}}
}

// Carry is the record a replacement entity inherits when old transitions into
// another block: everything except the fired timer.
func Carry(old Entity) attr.Tree {
	rec := old.Save()
	delete(rec, keyTransition)
	return rec
}
