package world

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/behaviors"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/sim/encoding"
	"voxelcraft.ai/blockentity/internal/transition"
)

var (
	ErrUnknownBlock = errors.New("unknown block")
	ErrOccupied     = errors.New("position occupied")
	ErrNothingThere = errors.New("nothing to break")
	ErrNoItem       = errors.New("cursor does not hold the block")
)

type facing interface {
	Yaw() float64
}

// Block returns the block code at pos, "" for air.
func (w *World) Block(pos geom.Vec3i) string {
	return w.chunkAt(pos).blocks[pos]
}

// Entity returns the block entity at pos.
func (w *World) Entity(pos geom.Vec3i) (behaviors.Entity, bool) {
	e, ok := w.chunkAt(pos).entities[pos]
	return e, ok
}

// place puts block at pos for p. Survival players spend one matching item
// from their cursor, and that item seeds the new entity (a sealed crate
// comes back with its contents). Creative players may place from nothing
// and may seed a loot chest with a table.
func (w *World) place(p *player, pos geom.Vec3i, block string, yaw float64, loot string) error {
	if !w.reg.HasBlock(block) {
		return fmt.Errorf("%w: %q", ErrUnknownBlock, block)
	}
	c := w.chunkAt(pos)
	if c.blocks[pos] != "" {
		return fmt.Errorf("%w at %s", ErrOccupied, pos)
	}
	var source *inventory.ItemStack
	if !p.cursor.IsEmpty() && p.cursor.Ref.Code == block {
		source = p.cursor.Clone()
		source.Count = 1
	}
	if !p.creative {
		if source == nil {
			return ErrNoItem
		}
		p.cursor.Count--
		if p.cursor.Count <= 0 {
			p.cursor = nil
		}
	}

	c.blocks[pos] = block
	c.dirty = true
	if e, ok := behaviors.New(block, pos); ok {
		c.entities[pos] = e
		e.Init(w)
		e.Placed(source, yaw)
		if loot != "" {
			w.seedLoot(p, e, loot)
		}
	}
	w.counters.Placed++
	w.audit(AuditEntry{Actor: p.id, Action: AuditPlace, Pos: pos.ToArray(), To: block})
	w.broadcastBlock(pos, block)
	if e, ok := c.entities[pos]; ok {
		w.showContents(e)
	}
	return nil
}

func (w *World) seedLoot(p *player, e behaviors.Entity, table string) {
	lc, ok := e.(*behaviors.LootChest)
	if !ok || !p.creative {
		w.log.WithFields(logrus.Fields{"player": p.id, "block": e.Block()}).Debug("loot seed ignored")
		return
	}
	if !lc.SeedLoot(table) {
		return
	}
	cur := w.reg.Items.Mapping
	lc.Container().RemapIds(cur, cur)
	lc.Container().MarkDirty(true)
}

// breakBlock removes the block at pos. Block entities decide what they
// leave behind; a plain block drops its own item when one exists.
func (w *World) breakBlock(actor string, pos geom.Vec3i) error {
	c := w.chunkAt(pos)
	block := c.blocks[pos]
	if block == "" {
		return fmt.Errorf("%w at %s", ErrNothingThere, pos)
	}
	if e, ok := c.entities[pos]; ok {
		if hi, ok := e.(container.HasInventory); ok {
			w.dialogs.ContainerRemoved(hi.Container())
		}
		if item := e.Broken(); item != nil {
			w.DropItem(pos.Center(), item)
		}
		delete(c.entities, pos)
	} else if _, ok := w.reg.Item(block); ok {
		w.DropItem(pos.Center(), inventory.NewStack(block, 1))
	}
	delete(c.blocks, pos)
	c.dirty = true
	w.counters.Broken++
	w.audit(AuditEntry{Actor: actor, Action: AuditBreak, Pos: pos.ToArray(), From: block})
	w.broadcastBlock(pos, "")
	return nil
}

// replaceBlock swaps the block at pos for a transition target. The new
// entity inherits the old record minus its timer; when the target has no
// entity the old one is broken and spills what it held.
func (w *World) replaceBlock(c *chunk, pos geom.Vec3i, to, rule string) {
	from := c.blocks[pos]
	old := c.entities[pos]
	next, hasNext := behaviors.New(to, pos)

	var carried attr.Tree
	if old != nil {
		if hi, ok := old.(container.HasInventory); ok {
			w.dialogs.ContainerRemoved(hi.Container())
		}
		if hasNext {
			carried = behaviors.Carry(old)
		} else {
			old.Broken()
		}
		delete(c.entities, pos)
	}

	c.blocks[pos] = to
	if hasNext {
		if carried != nil {
			next.Load(carried)
		}
		c.entities[pos] = next
		next.Init(w)
	}
	c.dirty = true
	w.persistNow[c.key] = struct{}{}
	w.counters.Changed++
	w.log.WithFields(logrus.Fields{"pos": pos, "from": from, "to": to, "rule": rule}).Debug("block transitioned")
	w.audit(AuditEntry{Actor: "world", Action: AuditTransition, Pos: pos.ToArray(), From: from, To: to, Reason: rule})
	w.broadcastBlock(pos, to)
	if hasNext {
		w.showContents(next)
	}
}

// checkTransitions ticks every loaded entity and fires due timers, in chunk
// then position order so a seeded run replays the same way.
func (w *World) checkTransitions() {
	now := w.hours
	for _, key := range sortedKeys(w.chunks) {
		c := w.chunks[key]
		for _, pos := range sortedPositions(c.entities) {
			e := c.entities[pos]
			if t, ok := e.(behaviors.Ticker); ok {
				t.Tick(now)
			}
			ht, ok := e.(transition.HasTransition)
			if !ok {
				continue
			}
			timer := ht.Transition()
			if timer == nil {
				continue
			}
			before := timer.Status
			target, fired := w.sched.Check(now, timer, e.Block())
			if !fired {
				if timer.Status != before {
					c.dirty = true
				}
				continue
			}
			w.replaceBlock(c, pos, target, timer.Rule)
		}
	}
}

func (w *World) broadcastBlock(pos geom.Vec3i, block string) {
	w.broadcast(w.blockMsg(pos, block))
}

func (w *World) blockMsg(pos geom.Vec3i, block string) protocol.BlockMsg {
	m := protocol.BlockMsg{
		Type:            protocol.TypeBlock,
		ProtocolVersion: protocol.Version,
		Op:              protocol.BlockSet,
		Pos:             pos.ToArray(),
		Block:           block,
	}
	if block == "" {
		m.Block = encoding.Air
	}
	if f, ok := w.chunkAt(pos).entities[pos].(facing); ok {
		m.Yaw = f.Yaw()
	}
	return m
}
