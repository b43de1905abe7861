package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"voxelcraft.ai/blockentity/internal/attr"
	"voxelcraft.ai/blockentity/internal/geom"
)

// PacketID numbers a container packet. The space is split into three fixed
// ranges: raw slot operations, dialog lifecycle, and container-specific
// messages. Every Message reports an id inside its own range.
type PacketID uint16

type Range int

const (
	RangeSlot Range = iota
	RangeDialog
	RangeCustom
)

func (r Range) String() string {
	switch r {
	case RangeSlot:
		return "slot"
	case RangeDialog:
		return "dialog"
	default:
		return "custom"
	}
}

const (
	DialogBase PacketID = 1000
	CustomBase PacketID = 2000
)

const (
	IDPut        PacketID = 1
	IDTake       PacketID = 2
	IDSplit      PacketID = 3
	IDSlotUpdate PacketID = 10

	IDOpenInventory  PacketID = DialogBase
	IDCloseInventory PacketID = DialogBase + 1
)

var (
	ErrBadPacket       = errors.New("protocol: bad packet id")
	ErrMalformedPacket = errors.New("protocol: malformed packet")
)

func (id PacketID) Range() Range {
	switch {
	case id < DialogBase:
		return RangeSlot
	case id < CustomBase:
		return RangeDialog
	default:
		return RangeCustom
	}
}

// Custom returns the id at offset inside the custom range.
func Custom(offset uint16) (PacketID, error) {
	if int(offset) > 0xFFFF-int(CustomBase) {
		return 0, fmt.Errorf("%w: custom offset %d overflows", ErrBadPacket, offset)
	}
	return CustomBase + PacketID(offset), nil
}

// MustCustom is Custom for package-level ids.
func MustCustom(offset uint16) PacketID {
	id, err := Custom(offset)
	if err != nil {
		panic(err)
	}
	return id
}

// Message is the closed set of container packet bodies.
type Message interface {
	PacketID() PacketID
	containerMsg()
}

// PutMsg moves Count items from the player's cursor into Slot.
type PutMsg struct {
	Slot  int `json:"slot"`
	Count int `json:"count"`
}

// TakeMsg moves up to Count items from Slot onto the player's cursor.
type TakeMsg struct {
	Slot  int `json:"slot"`
	Count int `json:"count"`
}

// SplitMsg takes half of Slot, rounded up, onto the cursor.
type SplitMsg struct {
	Slot int `json:"slot"`
}

// SlotUpdateMsg is a server delta. A nil Stack empties the slot.
type SlotUpdateMsg struct {
	Slot  int   `json:"slot"`
	Stack *Blob `json:"stack,omitempty"`
}

// OpenInventoryMsg from a client is pure intent and carries nothing. From the
// server it carries the dialog metadata and, when the client's view is stale,
// the full inventory snapshot.
type OpenInventoryMsg struct {
	DialogClass string `json:"dialog_class,omitempty"`
	Title       string `json:"title,omitempty"`
	Columns     uint8  `json:"columns,omitempty"`
	Snapshot    *Blob  `json:"snapshot,omitempty"`
}

type CloseInventoryMsg struct{}

// CustomMsg is a container-specific message with an opaque tree payload.
type CustomMsg struct {
	ID      PacketID `json:"-"`
	Payload Blob     `json:"payload"`
}

func (PutMsg) PacketID() PacketID            { return IDPut }
func (TakeMsg) PacketID() PacketID           { return IDTake }
func (SplitMsg) PacketID() PacketID          { return IDSplit }
func (SlotUpdateMsg) PacketID() PacketID     { return IDSlotUpdate }
func (OpenInventoryMsg) PacketID() PacketID  { return IDOpenInventory }
func (CloseInventoryMsg) PacketID() PacketID { return IDCloseInventory }
func (m CustomMsg) PacketID() PacketID       { return m.ID }

func (PutMsg) containerMsg()            {}
func (TakeMsg) containerMsg()           {}
func (SplitMsg) containerMsg()          {}
func (SlotUpdateMsg) containerMsg()     {}
func (OpenInventoryMsg) containerMsg()  {}
func (CloseInventoryMsg) containerMsg() {}
func (CustomMsg) containerMsg()         {}

// IsIntent reports whether an OpenInventory message is the client form.
func (m OpenInventoryMsg) IsIntent() bool {
	return m.DialogClass == "" && m.Snapshot == nil
}

// Blob carries an attribute tree as base64 NBT inside JSON.
type Blob struct {
	attr.Tree
}

func NewBlob(t attr.Tree) *Blob { return &Blob{Tree: t} }

func (b Blob) MarshalJSON() ([]byte, error) {
	raw, err := attr.EncodeNBT(b.Tree)
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

func (b *Blob) UnmarshalJSON(p []byte) error {
	var raw []byte
	if err := json.Unmarshal(p, &raw); err != nil {
		return err
	}
	t, err := attr.DecodeNBT(raw)
	if err != nil {
		return err
	}
	b.Tree = t
	return nil
}

// Packet addresses a message to the container at Pos.
type Packet struct {
	Pos geom.Vec3i
	Msg Message
}

// ContainerFrame is the JSON frame for every container packet.
type ContainerFrame struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              PacketID        `json:"id"`
	Pos             [3]int          `json:"pos"`
	Body            json.RawMessage `json:"body,omitempty"`
}

func Encode(p Packet) ([]byte, error) {
	if p.Msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedPacket)
	}
	id := p.Msg.PacketID()
	if _, custom := p.Msg.(CustomMsg); custom != (id.Range() == RangeCustom) {
		return nil, fmt.Errorf("%w: %d outside its range", ErrBadPacket, id)
	}
	body, err := json.Marshal(p.Msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %d: %w", id, err)
	}
	return json.Marshal(ContainerFrame{
		Type:            TypeContainer,
		ProtocolVersion: Version,
		ID:              id,
		Pos:             p.Pos.ToArray(),
		Body:            body,
	})
}

// Decode parses a CONTAINER frame. Unknown ids in the slot or dialog ranges
// return ErrBadPacket; anything that does not parse returns ErrMalformedPacket.
func Decode(b []byte) (Packet, error) {
	var f ContainerFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if f.Type != TypeContainer {
		return Packet{}, fmt.Errorf("%w: type %q", ErrMalformedPacket, f.Type)
	}
	var msg Message
	var err error
	switch f.ID {
	case IDPut:
		msg, err = decodeBody[PutMsg](f.Body)
	case IDTake:
		msg, err = decodeBody[TakeMsg](f.Body)
	case IDSplit:
		msg, err = decodeBody[SplitMsg](f.Body)
	case IDSlotUpdate:
		msg, err = decodeBody[SlotUpdateMsg](f.Body)
	case IDOpenInventory:
		msg, err = decodeBody[OpenInventoryMsg](f.Body)
	case IDCloseInventory:
		msg = CloseInventoryMsg{}
	default:
		if f.ID.Range() != RangeCustom {
			return Packet{}, fmt.Errorf("%w: %d", ErrBadPacket, f.ID)
		}
		var m CustomMsg
		m, err = decodeBody[CustomMsg](f.Body)
		m.ID = f.ID
		msg = m
	}
	if err != nil {
		return Packet{}, fmt.Errorf("%w: id %d: %v", ErrMalformedPacket, f.ID, err)
	}
	return Packet{Pos: geom.FromArray(f.Pos), Msg: msg}, nil
}

func decodeBody[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}
