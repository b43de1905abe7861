// Package client is the presentation side. It mirrors the containers the
// server shows it, renders display blocks through the shared mesh cache and
// runs its own tick loop, independent of the server's.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"voxelcraft.ai/blockentity/internal/behaviors"
	"voxelcraft.ai/blockentity/internal/dialog"
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/inventory"
	"voxelcraft.ai/blockentity/internal/mesh"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/sim/encoding"
)

var ErrRefused = errors.New("client: handshake refused")

type Config struct {
	URL      string
	Name     string
	Creative bool
	// TickRateHz paces the presentation loop; 0 uses the server's rate.
	TickRateHz int
	Dialogs    map[string]dialog.Info
	Layouts    map[string]mesh.Layout
}

type block struct {
	code string
	yaw  float64
}

type display struct {
	inv *inventory.Inventory
	d   *mesh.Display
}

// Client is driven by one goroutine: Run, or a test calling HandleFrame and
// Frame directly. Other goroutines hand it work through Do.
type Client struct {
	cfg   Config
	log   logrus.FieldLogger
	write func([]byte) error
	conn  *websocket.Conn

	welcome protocol.WelcomeMsg
	dialogs *dialog.Client
	meshes  *mesh.Cache

	blocks   map[geom.Vec3i]block
	displays map[geom.Vec3i]*display
	frames   uint64
	rendered int

	actions chan func()
}

// New builds a client over an arbitrary frame writer.
func New(cfg Config, items mesh.ItemDefs, write func([]byte) error, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Client{
		cfg:      cfg,
		log:      log.WithField("component", "client"),
		write:    write,
		meshes:   mesh.NewCache(mesh.CubeBuilder{Items: items}, log),
		blocks:   map[geom.Vec3i]block{},
		displays: map[geom.Vec3i]*display{},
		actions:  make(chan func(), 64),
	}
	c.dialogs = dialog.NewClient(c.sendPacket, cfg.Dialogs, log)
	c.dialogs.HandleCustom(behaviors.FacingPacket, c.onFacing)
	return c
}

// Dial connects, says HELLO and waits for WELCOME.
func Dial(ctx context.Context, cfg Config, items mesh.ItemDefs, log logrus.FieldLogger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.URL, err)
	}
	c := New(cfg, items, func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}, log)
	c.conn = conn

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      cfg.Name,
		Creative:        cfg.Creative,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: send HELLO: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: read WELCOME: %w", err)
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		conn.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrRefused, e.Code, e.Message)
	}
	if err := json.Unmarshal(msg, &c.welcome); err != nil || c.welcome.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("client: expected WELCOME, got %q", base.Type)
	}
	c.log = c.log.WithField("player", c.welcome.PlayerID)
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }
func (c *Client) Dialogs() *dialog.Client      { return c.dialogs }
func (c *Client) Meshes() *mesh.Cache          { return c.meshes }

// Do queues fn to run on the client goroutine before the next frame.
func (c *Client) Do(fn func()) {
	c.actions <- fn
}

// Run reads server frames on a helper goroutine and applies them, plus any
// queued actions, once per presentation tick.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("client: not connected")
	}
	defer c.conn.Close()

	rate := c.cfg.TickRateHz
	if rate <= 0 {
		rate = c.welcome.WorldParams.TickRateHz
	}
	if rate <= 0 {
		rate = 20
	}

	_ = c.conn.SetReadDeadline(time.Time{})
	inbound := make(chan []byte, 1024)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := c.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("client: read: %w", err)
		case <-ticker.C:
		drain:
			for {
				select {
				case msg := <-inbound:
					c.HandleFrame(msg)
				case fn := <-c.actions:
					fn()
				default:
					break drain
				}
			}
			if _, err := c.Frame(); err != nil {
				c.log.WithError(err).Warn("frame failed")
			}
		}
	}
}

// HandleFrame applies one server frame.
func (c *Client) HandleFrame(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeContainer:
		pkt, err := protocol.Decode(msg)
		if err != nil {
			c.log.WithError(err).Debug("container frame dropped")
			return
		}
		c.dialogs.Handle(pkt)
		switch m := pkt.Msg.(type) {
		case protocol.OpenInventoryMsg:
			c.bindDisplay(pkt.Pos)
		case protocol.CustomMsg:
			if m.ID == dialog.ContentsPacket {
				c.bindDisplay(pkt.Pos)
			}
		}
	case protocol.TypeBlock:
		var m protocol.BlockMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.Op != protocol.BlockSet {
			return
		}
		c.setBlock(geom.FromArray(m.Pos), m.Block, m.Yaw)
	}
}

func (c *Client) setBlock(pos geom.Vec3i, code string, yaw float64) {
	prev, had := c.blocks[pos]
	if code == "" || code == encoding.Air {
		delete(c.blocks, pos)
		delete(c.displays, pos)
		c.dialogs.Forget(pos)
		return
	}
	c.blocks[pos] = block{code: code, yaw: yaw}
	if had && prev.code != code {
		// A transition replaced the block; its container view is gone.
		delete(c.displays, pos)
		c.dialogs.Forget(pos)
	}
	if d, ok := c.displays[pos]; ok {
		d.d.SetFacing(yaw)
	}
}

// Block returns the code last seen at pos.
func (c *Client) Block(pos geom.Vec3i) (string, bool) {
	b, ok := c.blocks[pos]
	return b.code, ok
}

func (c *Client) onFacing(pos geom.Vec3i, m protocol.CustomMsg) {
	yaw, ok := behaviors.DecodeYaw(m)
	if !ok {
		return
	}
	if b, ok := c.blocks[pos]; ok {
		b.yaw = yaw
		c.blocks[pos] = b
	}
	if d, ok := c.displays[pos]; ok {
		d.d.SetFacing(yaw)
	}
}

// classAt is the dialog class of the container at pos: from the block code
// when the block is known, else from what the server said about it.
func (c *Client) classAt(pos geom.Vec3i) (string, bool) {
	if b, ok := c.blocks[pos]; ok {
		return behaviors.DialogClass(b.code)
	}
	if v := c.dialogs.Current(); v != nil && v.Pos == pos && v.Class != "" {
		return v.Class, true
	}
	return c.dialogs.Shown(pos)
}

// bindDisplay attaches a mesh display to the mirror at pos when its class
// has a layout. A mirror replaced by a resized snapshot gets a new display.
func (c *Client) bindDisplay(pos geom.Vec3i) {
	class, ok := c.classAt(pos)
	if !ok {
		return
	}
	layout, ok := c.cfg.Layouts[class]
	if !ok {
		return
	}
	inv, ok := c.dialogs.Mirror(pos)
	if !ok {
		return
	}
	if d, ok := c.displays[pos]; ok && d.inv == inv {
		return
	}
	d := mesh.NewDisplay(c.meshes, inv, layout)
	d.SetFacing(c.blocks[pos].yaw)
	c.displays[pos] = &display{inv: inv, d: d}
}

// Display returns the mesh display bound at pos.
func (c *Client) Display(pos geom.Vec3i) (*mesh.Display, bool) {
	d, ok := c.displays[pos]
	if !ok {
		return nil, false
	}
	return d.d, true
}

// Frame renders every bound display and returns how many meshes it drew.
func (c *Client) Frame() (int, error) {
	c.frames++
	n := 0
	positions := maps.Keys(c.displays)
	slices.SortFunc(positions, func(a, b geom.Vec3i) bool {
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	for _, pos := range positions {
		ms, err := c.displays[pos].d.Meshes()
		if err != nil {
			return n, fmt.Errorf("client: display %s: %w", pos, err)
		}
		for _, m := range ms {
			if m != nil {
				n++
			}
		}
	}
	c.rendered = n
	return n, nil
}

// Rendered reports the frames drawn so far and the meshes in the last one.
func (c *Client) Rendered() (uint64, int) { return c.frames, c.rendered }

// ReloadAtlas drops every cached mesh; the next frame rebuilds them.
func (c *Client) ReloadAtlas() {
	c.meshes.FlushAll()
	c.log.Info("mesh cache flushed")
}

// Interact toggles the dialog of the block at pos. Blocks without a
// container are ignored.
func (c *Client) Interact(pos geom.Vec3i) {
	b, ok := c.blocks[pos]
	if !ok {
		return
	}
	class, ok := behaviors.DialogClass(b.code)
	if !ok {
		return
	}
	slots := 0
	if l, ok := c.cfg.Layouts[class]; ok {
		slots = len(l.Slots)
	}
	c.dialogs.Interact(pos, class, slots)
	c.bindDisplay(pos)
}

func (c *Client) Place(pos geom.Vec3i, code string, yaw float64) error {
	return c.sendBlock(protocol.BlockMsg{Op: protocol.BlockPlace, Pos: pos.ToArray(), Block: code, Yaw: yaw})
}

func (c *Client) Break(pos geom.Vec3i) error {
	return c.sendBlock(protocol.BlockMsg{Op: protocol.BlockBreak, Pos: pos.ToArray()})
}

// Turn asks the server to rotate a display case; only creative players may.
func (c *Client) Turn(pos geom.Vec3i, yaw float64) {
	c.sendPacket(protocol.Packet{Pos: pos, Msg: behaviors.TurnMsg(yaw)})
}

func (c *Client) sendBlock(m protocol.BlockMsg) error {
	m.Type = protocol.TypeBlock
	m.ProtocolVersion = protocol.Version
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *Client) sendPacket(pkt protocol.Packet) {
	b, err := protocol.Encode(pkt)
	if err != nil {
		c.log.WithError(err).Error("encode container packet")
		return
	}
	if err := c.write(b); err != nil {
		c.log.WithError(err).Warn("send failed")
	}
}
