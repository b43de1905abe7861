package world

import (
	"voxelcraft.ai/blockentity/internal/geom"
	"voxelcraft.ai/blockentity/internal/persistence/snapshot"
	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/registry"
)

type JoinRequest struct {
	Name     string
	Creative bool
	Out      chan []byte
	Resp     chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// FrameEnvelope carries one raw client frame to the world loop. Type is the
// frame's already-decoded BaseMessage type.
type FrameEnvelope struct {
	PlayerID string
	Type     string
	Frame    []byte
}

// Audit actions.
const (
	AuditPlace      = "PLACE"
	AuditBreak      = "BREAK"
	AuditTransition = "TRANSITION"
	AuditOpen       = "OPEN"
	AuditClose      = "CLOSE"
	AuditUnload     = "UNLOAD"
)

type AuditEntry struct {
	Tick      uint64         `json:"tick"`
	Hours     float64        `json:"hours"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Pos       [3]int         `json:"pos"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Container string         `json:"container,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type AuditLogger interface {
	WriteAudit(AuditEntry) error
}

// ChunkStore persists chunks. SaveChunk must not block the tick.
type ChunkStore interface {
	LoadChunk(key geom.ChunkKey) (snapshot.ChunkV1, registry.Mapping, bool, error)
	SaveChunk(c snapshot.ChunkV1, m registry.Mapping)
}
