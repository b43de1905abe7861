// Package world is the authoritative simulation. One goroutine owns all of
// its state: Run feeds joins, leaves and client frames into fixed-rate
// ticks, and every block entity, container and dialog session is mutated
// from inside a tick.
package world

import (
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"voxelcraft.ai/blockentity/internal/behaviors"
	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/dialog"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/tuning"
	"voxelcraft.ai/blockentity/internal/transition"
)

type Config struct {
	ID     string
	Tuning tuning.Tuning
}

// ItemEntity is an item lying in the world.
type ItemEntity struct {
	ID          string
	Pos         mgl64.Vec3
	Stack       *inventory.ItemStack
	CreatedTick uint64
}

type World struct {
	cfg  Config
	tune tuning.Tuning
	reg  *registry.Registry
	log  logrus.FieldLogger

	tick     atomic.Uint64
	hours    float64
	counters snapshot.CountersV1

	chunks     map[geom.ChunkKey]*chunk
	persistNow map[geom.ChunkKey]struct{}
	players    map[string]*player
	items      map[string]*ItemEntity
	dialogs    *dialog.Server
	sched      *transition.Scheduler
	entropy    io.Reader
	sendDrops  int

	store        ChunkStore
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	join  chan JoinRequest
	leave chan string
	inbox chan FrameEnvelope
	admin chan adminSnapshotReq
	stop  chan struct{}

	metrics atomic.Value
}

var (
	_ behaviors.Host = (*World)(nil)
	_ dialog.Host    = (*World)(nil)
)

func New(cfg Config, reg *registry.Registry, log logrus.FieldLogger) (*World, error) {
	if reg == nil {
		return nil, fmt.Errorf("world: nil registry")
	}
	if cfg.Tuning.TickRateHz <= 0 || cfg.Tuning.SaveEveryTicks <= 0 || cfg.Tuning.TransitionEveryTicks <= 0 {
		return nil, fmt.Errorf("world: tick pacing not configured")
	}
	if cfg.ID == "" {
		cfg.ID = "world-1"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("world", cfg.ID)
	w := &World{
		cfg:        cfg,
		tune:       cfg.Tuning,
		reg:        reg,
		log:        log,
		chunks:     map[geom.ChunkKey]*chunk{},
		persistNow: map[geom.ChunkKey]struct{}{},
		players:    map[string]*player{},
		items:      map[string]*ItemEntity{},
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(cfg.Tuning.Seed)), 0),
		join:       make(chan JoinRequest, 64),
		leave:      make(chan string, 64),
		inbox:      make(chan FrameEnvelope, 4096),
		admin:      make(chan adminSnapshotReq, 4),
		stop:       make(chan struct{}),
	}
	w.dialogs = dialog.NewServer(w, cfg.Tuning.Dialogs, log)
	w.dialogs.ShowContents(maps.Keys(cfg.Tuning.Layouts)...)
	w.sched = transition.NewScheduler(cfg.Tuning.Transitions, reg, cfg.Tuning.Seed, log)
	return w, nil
}

func (w *World) SetChunkStore(s ChunkStore)                    { w.store = s }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ID() string                   { return w.cfg.ID }
func (w *World) TickRateHz() int              { return w.tune.TickRateHz }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) Dialogs() *dialog.Server      { return w.dialogs }
func (w *World) Registry() *registry.Registry { return w.reg }

// Channels for the transport layer.
func (w *World) Join() chan<- JoinRequest    { return w.join }
func (w *World) Leave() chan<- string        { return w.leave }
func (w *World) Inbox() chan<- FrameEnvelope { return w.inbox }

// Host side of the block entities.

func (w *World) Side() container.Side       { return container.SideServer }
func (w *World) Seed() int64                { return w.tune.Seed }
func (w *World) Items() registry.Resolver   { return w.reg }
func (w *World) Logger() logrus.FieldLogger { return w.log }
func (w *World) Hours() float64             { return w.hours }

func (w *World) Rule(name string) (transition.Rule, bool) { return w.sched.Rule(name) }

func (w *World) FuelHours(code string) (float64, bool) {
	h, ok := w.tune.FuelHours[code]
	return h, ok && h > 0
}

func (w *World) RollLoot(table string, rng *rand.Rand) []*inventory.ItemStack {
	return w.reg.RollLoot(table, rng)
}

// MarkDirty flags pos's chunk for the next save; persistNow saves it at the
// end of the current tick instead.
func (w *World) MarkDirty(pos geom.Vec3i, persistNow bool) {
	c, ok := w.chunks[pos.Chunk()]
	if !ok {
		return
	}
	c.dirty = true
	if persistNow {
		w.persistNow[c.key] = struct{}{}
	}
}

// DropItem spawns stack at at, or puts it into the container it lands on.
// The returned id is empty when no item entity was made.
func (w *World) DropItem(at mgl64.Vec3, stack *inventory.ItemStack) string {
	if stack.IsEmpty() || w.catchDrop(at, stack) {
		return ""
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), w.entropy).String()
	w.items[id] = &ItemEntity{ID: id, Pos: at, Stack: stack.Clone(), CreatedTick: w.tick.Load()}
	w.counters.Drops++
	w.log.WithFields(logrus.Fields{"item": id, "stack": stack.String()}).Debug("item dropped")
	return id
}

// catchDrop inserts stack whole into the loaded container right below at.
// A container gated by an open survival dialog refuses it.
func (w *World) catchDrop(at mgl64.Vec3, stack *inventory.ItemStack) bool {
	below := geom.Floor(at).Add(geom.Vec3i{Y: -1})
	c, ok := w.chunks[below.Chunk()]
	if !ok {
		return false
	}
	hi, ok := c.entities[below].(container.HasInventory)
	if !ok {
		return false
	}
	core := hi.Container()
	if core.Removed() || !core.TryInsert(stack.Clone()) {
		return false
	}
	w.log.WithFields(logrus.Fields{"pos": below, "stack": stack.String()}).Debug("drop caught by container")
	return true
}

// DroppedItems lists the item entities, for tests and exports.
func (w *World) DroppedItems() []*ItemEntity {
	out := make([]*ItemEntity, 0, len(w.items))
	for _, id := range sortedIDs(w.items) {
		out = append(out, w.items[id])
	}
	return out
}

// Notify sends m to every player holding the container at pos, and to
// everyone watching it when its contents show in the world.
func (w *World) Notify(pos geom.Vec3i, m protocol.CustomMsg) {
	o, ok := w.openableAt(pos)
	if !ok {
		return
	}
	for _, pid := range w.dialogs.Audience(o.Container()) {
		w.Send(pid, protocol.Packet{Pos: pos, Msg: m})
	}
}

// Host side of the dialog server.

// Openable resolves a packet target. A stored chunk is loaded for it, but
// a position nobody built at gets no chunk.
func (w *World) Openable(pos geom.Vec3i) (dialog.Openable, bool) {
	c, ok := w.storedChunk(pos)
	if !ok {
		return nil, false
	}
	c.touched = w.tick.Load()
	o, ok := c.entities[pos].(dialog.Openable)
	return o, ok
}

// showContents sends e's slots to every player when e shows them in the
// world.
func (w *World) showContents(e behaviors.Entity) {
	o, ok := e.(dialog.Openable)
	if !ok || !w.dialogs.Shows(o) {
		return
	}
	for _, id := range sortedIDs(w.players) {
		w.dialogs.Show(w.players[id], o)
	}
}

func (w *World) openableAt(pos geom.Vec3i) (dialog.Openable, bool) {
	c, ok := w.chunks[pos.Chunk()]
	if !ok {
		return nil, false
	}
	o, ok := c.entities[pos].(dialog.Openable)
	return o, ok
}

// Send encodes pkt and queues it for playerID. A full queue drops it.
func (w *World) Send(playerID string, pkt protocol.Packet) {
	p, ok := w.players[playerID]
	if !ok {
		return
	}
	b, err := protocol.Encode(pkt)
	if err != nil {
		w.log.WithError(err).WithField("player", playerID).Error("encode container packet")
		return
	}
	w.sendRaw(p, b)
}

func (w *World) sendRaw(p *player, b []byte) {
	select {
	case p.out <- b:
	default:
		w.sendDrops++
		w.log.WithField("player", p.id).Warn("outbound queue full, frame dropped")
	}
}

func (w *World) audit(e AuditEntry) {
	if w.auditLogger == nil {
		return
	}
	e.Tick = w.tick.Load()
	e.Hours = w.hours
	if err := w.auditLogger.WriteAudit(e); err != nil {
		w.log.WithError(err).Warn("audit write failed")
	}
}
