package world

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"voxelcraft.ai/blockentity/internal/dialog"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
)

type player struct {
	id       string
	name     string
	creative bool
	cursor   *inventory.ItemStack
	out      chan []byte
}

func (p *player) ID() string                       { return p.id }
func (p *player) Creative() bool                   { return p.creative }
func (p *player) Cursor() *inventory.ItemStack     { return p.cursor.Clone() }
func (p *player) SetCursor(s *inventory.ItemStack) { p.cursor = s.Clone() }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingFrames []FrameEnvelope

	for {
		select {
		case <-ctx.Done():
			w.saveAll()
			return ctx.Err()
		case <-w.stop:
			w.saveAll()
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingFrames = append(pendingFrames, env)
		case req := <-w.admin:
			w.handleAdminSnapshot(req)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingFrames)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingFrames = pendingFrames[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by one tick with the same ordering as Run.
// Tests drive the world through it.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, frames []FrameEnvelope) uint64 {
	tick := w.tick.Load()
	w.step(joins, leaves, frames)
	return tick
}

func (w *World) step(joins []JoinRequest, leaves []string, frames []FrameEnvelope) {
	started := time.Now()
	tick := w.tick.Load()
	for _, req := range joins {
		w.handleJoin(req)
	}
	for _, id := range leaves {
		w.handleLeave(id)
	}
	for _, env := range frames {
		w.handleFrame(env)
	}

	w.hours += w.tune.HoursPerTick
	if tick > 0 && tick%uint64(w.tune.TransitionEveryTicks) == 0 {
		w.checkTransitions()
	}
	if tick > 0 && tick%uint64(w.tune.SaveEveryTicks) == 0 {
		w.saveDirty()
		w.unloadIdle(tick)
	}
	w.flushPersistNow()
	if n := w.tune.SnapshotEveryTicks; n > 0 && tick > 0 && tick%uint64(n) == 0 {
		w.offerSnapshot(tick)
	}
	w.tick.Add(1)
	w.publishMetrics(started)
}

func (w *World) handleJoin(req JoinRequest) {
	p := &player{
		id:       uuid.NewString(),
		name:     req.Name,
		creative: req.Creative,
		out:      req.Out,
	}
	w.players[p.id] = p
	w.log.WithFields(logrus.Fields{"player": p.id, "name": p.name, "creative": p.creative}).Info("player joined")
	if req.Resp != nil {
		w.welcome(p, req.Resp)
	}
	w.showLoaded(p)
}

func (w *World) welcome(p *player, out chan<- JoinResponse) {
	resp := JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        p.id,
		RegistryDigest:  w.reg.Items.Mapping.Digest(),
		WorldParams: protocol.WorldParams{
			TickRateHz:   w.tune.TickRateHz,
			Seed:         w.tune.Seed,
			ChunkSize:    geom.ChunkSize,
			HoursPerTick: w.tune.HoursPerTick,
		},
	}}
	select {
	case out <- resp:
	default:
	}
}

// handleLeave closes the player's dialogs without telling the departed peer.
func (w *World) handleLeave(id string) {
	if _, ok := w.players[id]; !ok {
		return
	}
	w.dialogs.PlayerLeft(id)
	delete(w.players, id)
	w.log.WithField("player", id).Info("player left")
}

func (w *World) handleFrame(env FrameEnvelope) {
	p, ok := w.players[env.PlayerID]
	if !ok {
		return
	}
	switch env.Type {
	case protocol.TypeContainer:
		w.handleContainerFrame(p, env.Frame)
	case protocol.TypeBlock:
		var m protocol.BlockMsg
		if err := json.Unmarshal(env.Frame, &m); err != nil {
			w.log.WithError(err).WithField("player", p.id).Debug("bad block frame dropped")
			return
		}
		w.handleBlock(p, m)
	default:
		w.log.WithFields(logrus.Fields{"player": p.id, "type": env.Type}).Debug("unknown frame dropped")
	}
}

// handleContainerFrame hands the packet to the dialog server and audits the
// sessions it opened or closed.
func (w *World) handleContainerFrame(p *player, frame []byte) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		w.dialogs.HandleFrame(p, frame)
		return
	}
	o, ok := w.Openable(pkt.Pos)
	if !ok {
		w.dialogs.Handle(p, pkt)
		return
	}
	core := o.Container()
	before := w.dialogs.State(p.id, core.ID())
	w.dialogs.Handle(p, pkt)
	after := w.dialogs.State(p.id, core.ID())
	if before == after {
		return
	}
	action := AuditOpen
	if after == dialog.Closed {
		action = AuditClose
	}
	w.audit(AuditEntry{Actor: p.id, Action: action, Pos: pkt.Pos.ToArray(), Container: core.ID()})
}

func (w *World) handleBlock(p *player, m protocol.BlockMsg) {
	pos := geom.FromArray(m.Pos)
	w.chunkAt(pos).touched = w.tick.Load()
	var err error
	switch m.Op {
	case protocol.BlockPlace:
		err = w.place(p, pos, m.Block, m.Yaw, m.Loot)
	case protocol.BlockBreak:
		err = w.breakBlock(p.id, pos)
	default:
		w.log.WithFields(logrus.Fields{"player": p.id, "op": m.Op}).Debug("block op dropped")
		return
	}
	if err != nil {
		w.log.WithError(err).WithField("player", p.id).Debug("block op refused")
	}
}

func (w *World) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, id := range sortedIDs(w.players) {
		w.sendRaw(w.players[id], b)
	}
}

// showLoaded tells a new player about every loaded container that shows its
// contents in the world: the block first, then its slots.
func (w *World) showLoaded(p *player) {
	for _, key := range sortedKeys(w.chunks) {
		c := w.chunks[key]
		for _, pos := range sortedPositions(c.entities) {
			o, ok := c.entities[pos].(dialog.Openable)
			if !ok || !w.dialogs.Shows(o) {
				continue
			}
			b, err := json.Marshal(w.blockMsg(pos, c.blocks[pos]))
			if err != nil {
				w.log.WithError(err).Error("encode block frame")
				continue
			}
			w.sendRaw(p, b)
			w.dialogs.Show(p, o)
		}
	}
}

func sortedIDs[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
