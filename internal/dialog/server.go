// Package dialog runs the open/closed dialog session between a player and a
// container on both sides of the connection.
//
// Both sides are single-writer: every method is called from the owning tick
// goroutine (or a packet handler invoked from it). Nothing here locks.
package dialog

import (
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"voxelcraft.ai/blockentity/internal/container"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/protocol"
)

type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "closed"
	}
}

// Info is the display metadata of a dialog class.
type Info struct {
	Title   string `yaml:"title"`
	Columns uint8  `yaml:"columns"`
}

// Player is the server's view of a connected player.
type Player interface {
	ID() string
	Creative() bool
	Cursor() *inventory.ItemStack
	SetCursor(*inventory.ItemStack)
}

// Openable is the capability of block entities with a container dialog.
type Openable interface {
	container.HasInventory
	DialogClass() string
}

// CustomHandler receives container-specific packets sent by a client.
type CustomHandler interface {
	HandleCustom(p Player, m protocol.CustomMsg)
}

// Extras is implemented by containers that send bespoke packets along with
// every snapshot, for example a display's facing.
type Extras interface {
	SnapshotExtras() []protocol.CustomMsg
}

// Host resolves packet targets and delivers outgoing packets.
type Host interface {
	Openable(pos geom.Vec3i) (Openable, bool)
	Send(playerID string, pkt protocol.Packet)
}

type sessionKey struct {
	player    string
	container string
}

type session struct {
	state  State
	player Player
	core   *container.Core
}

// watchSet holds the sessions and viewers of one core. A forgotten set goes
// dead so the listener it registered stops pushing.
type watchSet struct {
	sessions map[string]*session
	viewers  map[string]Player
	dead     bool
}

type Server struct {
	host    Host
	classes map[string]Info
	log     logrus.FieldLogger

	sessions map[sessionKey]*session
	byCore   map[*container.Core]*watchSet
	synced   map[sessionKey]uint64
	dropped  map[string]int
	// shown lists the classes whose contents are visible without a dialog.
	shown map[string]bool
}

func NewServer(host Host, classes map[string]Info, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		host:     host,
		classes:  classes,
		log:      log.WithField("component", "dialog"),
		sessions: map[sessionKey]*session{},
		byCore:   map[*container.Core]*watchSet{},
		synced:   map[sessionKey]uint64{},
		dropped:  map[string]int{},
		shown:    map[string]bool{},
	}
}

// ShowContents marks dialog classes whose contents players see in the world.
// Show sends their slots, and every later change, to players that never
// opened them.
func (s *Server) ShowContents(classes ...string) {
	for _, c := range classes {
		s.shown[c] = true
	}
}

// Shows reports whether target's contents are visible without a dialog.
func (s *Server) Shows(target Openable) bool { return s.shown[target.DialogClass()] }

// Show subscribes p to the contents of a shown container. The copy is sent
// only when p's last synced revision differs, like a reopen.
func (s *Server) Show(p Player, target Openable) {
	core := target.Container()
	if !s.Shows(target) || core.Removed() {
		return
	}
	s.watch(core).viewers[p.ID()] = p
	k := sessionKey{p.ID(), core.ID()}
	rev := core.Inventory().Revision()
	if last, ok := s.synced[k]; ok && last == rev {
		return
	}
	s.host.Send(p.ID(), protocol.Packet{Pos: core.Pos, Msg: contentsMsg(target.DialogClass(), core)})
	s.synced[k] = rev
	if x, ok := target.(Extras); ok {
		for _, m := range x.SnapshotExtras() {
			s.host.Send(p.ID(), protocol.Packet{Pos: core.Pos, Msg: m})
		}
	}
}

func (s *Server) info(class string) Info {
	if in, ok := s.classes[class]; ok {
		return in
	}
	return Info{Title: class}
}

// HandleFrame decodes a CONTAINER frame from p and dispatches it. Packets that
// fail to decode are counted and dropped.
func (s *Server) HandleFrame(p Player, frame []byte) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		code := protocol.ErrMalformed
		if errors.Is(err, protocol.ErrBadPacket) {
			code = protocol.ErrBadPacketID
		}
		s.drop(code, p.ID(), err.Error())
		return
	}
	s.Handle(p, pkt)
}

// Handle dispatches a decoded packet from p. It never returns an error: a
// packet that cannot apply is counted and dropped.
func (s *Server) Handle(p Player, pkt protocol.Packet) {
	target, ok := s.host.Openable(pkt.Pos)
	if !ok {
		s.drop(protocol.ErrNoContainer, p.ID(), pkt.Pos.String())
		return
	}
	core := target.Container()
	switch m := pkt.Msg.(type) {
	case protocol.OpenInventoryMsg:
		s.open(p, target, false)
	case protocol.CloseInventoryMsg:
		s.Close(p.ID(), core)
	case protocol.PutMsg:
		if s.slotTarget(p, core, m.Slot) {
			s.put(p, core, m.Slot, m.Count)
		}
	case protocol.TakeMsg:
		if s.slotTarget(p, core, m.Slot) {
			s.take(p, core, m.Slot, m.Count)
		}
	case protocol.SplitMsg:
		if s.slotTarget(p, core, m.Slot) {
			if cur := p.Cursor(); cur.IsEmpty() {
				if slot := core.GetSlot(m.Slot); !slot.IsEmpty() {
					s.take(p, core, m.Slot, (slot.Count+1)/2)
				}
			}
		}
	case protocol.CustomMsg:
		h, ok := target.(CustomHandler)
		if !ok {
			s.drop(protocol.ErrBadPacketID, p.ID(), "no custom handler")
			return
		}
		h.HandleCustom(p, m)
	default:
		s.drop(protocol.ErrProtoBadRequest, p.ID(), "server-bound packet not accepted")
	}
}

// Open starts a session from the server side. The client has no local dialog
// yet, so the snapshot is always sent. Opening an open session is a no-op.
func (s *Server) Open(p Player, target Openable) {
	k := sessionKey{p.ID(), target.Container().ID()}
	if _, ok := s.sessions[k]; ok {
		return
	}
	s.open(p, target, true)
}

func (s *Server) open(p Player, target Openable, force bool) {
	core := target.Container()
	k := sessionKey{p.ID(), core.ID()}
	if sess, ok := s.sessions[k]; ok {
		// A second open from the same player toggles the dialog closed.
		s.closeSession(k, sess, true)
		return
	}
	if core.Removed() {
		s.drop(protocol.ErrNoContainer, p.ID(), core.ID())
		return
	}
	sess := &session{state: Opening, player: p, core: core}
	s.sessions[k] = sess
	ws := s.watch(core)
	ws.sessions[p.ID()] = sess
	if s.Shows(target) {
		// Keeps the in-world copy current once the dialog closes.
		ws.viewers[p.ID()] = p
	}
	if !p.Creative() {
		core.Gate(p.ID())
	}

	rev := core.Inventory().Revision()
	if last, ok := s.synced[k]; force || !ok || last != rev {
		in := s.info(target.DialogClass())
		s.host.Send(p.ID(), protocol.Packet{Pos: core.Pos, Msg: protocol.OpenInventoryMsg{
			DialogClass: target.DialogClass(),
			Title:       in.Title,
			Columns:     in.Columns,
			Snapshot:    protocol.NewBlob(core.Serialize()),
		}})
		s.synced[k] = rev
		if x, ok := target.(Extras); ok {
			for _, m := range x.SnapshotExtras() {
				s.host.Send(p.ID(), protocol.Packet{Pos: core.Pos, Msg: m})
			}
		}
	}
	sess.state = Open
	s.log.WithFields(logrus.Fields{"player": p.ID(), "container": core.ID()}).Debug("dialog open")
}

// Close ends the session of playerID on core and acknowledges it. Closing a
// closed session does nothing.
func (s *Server) Close(playerID string, core *container.Core) {
	k := sessionKey{playerID, core.ID()}
	sess, ok := s.sessions[k]
	if !ok {
		return
	}
	s.closeSession(k, sess, true)
}

func (s *Server) closeSession(k sessionKey, sess *session, notify bool) {
	sess.state = Closing
	delete(s.sessions, k)
	if w := s.byCore[sess.core]; w != nil {
		delete(w.sessions, k.player)
	}
	sess.core.Ungate(k.player)
	if notify {
		s.host.Send(k.player, protocol.Packet{Pos: sess.core.Pos, Msg: protocol.CloseInventoryMsg{}})
	}
	sess.state = Closed
	s.log.WithFields(logrus.Fields{"player": k.player, "container": k.container}).Debug("dialog closed")
}

// ContainerRemoved force-closes every session on core. The player is still
// connected, so each is told its dialog went away.
func (s *Server) ContainerRemoved(core *container.Core) { s.forget(core) }

// ContainerUnloaded behaves like ContainerRemoved; a reload builds a new core
// and the next open snapshots again.
func (s *Server) ContainerUnloaded(core *container.Core) { s.forget(core) }

func (s *Server) forget(core *container.Core) {
	if w := s.byCore[core]; w != nil {
		for _, pid := range sortedKeys(w.sessions) {
			s.closeSession(sessionKey{pid, core.ID()}, w.sessions[pid], true)
		}
		w.viewers = nil
		w.dead = true
		delete(s.byCore, core)
	}
	for k := range s.synced {
		if k.container == core.ID() {
			delete(s.synced, k)
		}
	}
}

// PlayerLeft drops every session of a disconnected player without notifying it.
func (s *Server) PlayerLeft(playerID string) {
	keys := maps.Keys(s.sessions)
	slices.SortFunc(keys, func(a, b sessionKey) bool { return a.container < b.container })
	for _, k := range keys {
		if k.player == playerID {
			s.closeSession(k, s.sessions[k], false)
		}
	}
	for _, w := range s.byCore {
		delete(w.viewers, playerID)
	}
	for k := range s.synced {
		if k.player == playerID {
			delete(s.synced, k)
		}
	}
}

// State reports the session state of playerID on the container with id.
func (s *Server) State(playerID, containerID string) State {
	if sess, ok := s.sessions[sessionKey{playerID, containerID}]; ok {
		return sess.state
	}
	return Closed
}

// Holders lists the players with an open session on core.
func (s *Server) Holders(core *container.Core) []string {
	if w := s.byCore[core]; w != nil {
		return sortedKeys(w.sessions)
	}
	return nil
}

// Audience lists the players that get core's updates: its holders and,
// for a shown container, its viewers.
func (s *Server) Audience(core *container.Core) []string {
	w := s.byCore[core]
	if w == nil {
		return nil
	}
	ids := map[string]struct{}{}
	for pid, sess := range w.sessions {
		if sess.state == Open {
			ids[pid] = struct{}{}
		}
	}
	for pid := range w.viewers {
		ids[pid] = struct{}{}
	}
	return sortedKeys(ids)
}

// Dropped returns the dropped-packet counters by error code.
func (s *Server) Dropped() map[string]int {
	return maps.Clone(s.dropped)
}

func (s *Server) drop(code, playerID, detail string) {
	s.dropped[code]++
	s.log.WithFields(logrus.Fields{"player": playerID, "code": code}).Debug("packet dropped: " + detail)
}

// watch subscribes once per core; the listener pushes a delta to every open
// session and viewer on it.
func (s *Server) watch(core *container.Core) *watchSet {
	if w, ok := s.byCore[core]; ok {
		return w
	}
	w := &watchSet{sessions: map[string]*session{}, viewers: map[string]Player{}}
	s.byCore[core] = w
	core.OnContentChanged(func(i int, _, next *inventory.ItemStack) {
		if !w.dead {
			s.pushDelta(core, i, next)
		}
	})
	return w
}

func (s *Server) pushDelta(core *container.Core, i int, next *inventory.ItemStack) {
	to := s.Audience(core)
	if len(to) == 0 {
		return
	}
	msg := protocol.SlotUpdateMsg{Slot: i}
	if !next.IsEmpty() {
		msg.Stack = protocol.NewBlob(container.EncodeStack(next))
	}
	rev := core.Inventory().Revision()
	for _, pid := range to {
		s.host.Send(pid, protocol.Packet{Pos: core.Pos, Msg: msg})
		s.synced[sessionKey{pid, core.ID()}] = rev
	}
}

func (s *Server) slotTarget(p Player, core *container.Core, slot int) bool {
	sess, ok := s.sessions[sessionKey{p.ID(), core.ID()}]
	if !ok || sess.state != Open {
		s.drop(protocol.ErrNoSession, p.ID(), core.ID())
		return false
	}
	if !core.Inventory().InRange(slot) {
		s.drop(protocol.ErrSlotOutOfRange, p.ID(), core.ID())
		return false
	}
	return true
}

// put moves up to n items from the cursor into slot. A different item in the
// slot swaps with the cursor when the whole cursor is put.
func (s *Server) put(p Player, core *container.Core, slot, n int) {
	cur := p.Cursor()
	if cur.IsEmpty() {
		return
	}
	if n <= 0 || n > cur.Count {
		n = cur.Count
	}
	dst := core.GetSlot(slot)
	limit := core.StackLimit(cur)
	var moved int
	switch {
	case dst.IsEmpty():
		moved = min(n, limit)
		dst = cur.Clone()
		dst.Count = moved
	case dst.SameItem(cur):
		moved = min(n, limit-dst.Count)
		if moved <= 0 {
			return
		}
		dst.Count += moved
	default:
		if n < cur.Count {
			return
		}
		_ = core.Inventory().Set(slot, cur)
		p.SetCursor(dst)
		return
	}
	_ = core.Inventory().Set(slot, dst)
	cur.Count -= moved
	if cur.Count <= 0 {
		cur = nil
	}
	p.SetCursor(cur)
}

// take moves up to n items from slot onto the cursor, which must be empty or
// hold the same item.
func (s *Server) take(p Player, core *container.Core, slot, n int) {
	src := core.GetSlot(slot)
	if src.IsEmpty() {
		return
	}
	cur := p.Cursor()
	if !cur.IsEmpty() && !cur.SameItem(src) {
		return
	}
	if n <= 0 || n > src.Count {
		n = src.Count
	}
	have := 0
	if !cur.IsEmpty() {
		have = cur.Count
	}
	n = min(n, core.StackLimit(src)-have)
	if n <= 0 {
		return
	}
	taken, err := core.Inventory().Take(slot, n)
	if err != nil || taken.IsEmpty() {
		return
	}
	if cur.IsEmpty() {
		p.SetCursor(taken)
		return
	}
	cur.Count += taken.Count
	p.SetCursor(cur)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
