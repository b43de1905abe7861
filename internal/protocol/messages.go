package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name"`
	Creative        bool   `json:"creative,omitempty"`
	ResumeToken     string `json:"resume_token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	PlayerID        string      `json:"player_id"`
	WorldParams     WorldParams `json:"world_params"`
	RegistryDigest  string      `json:"registry_digest"`
}

type WorldParams struct {
	TickRateHz   int     `json:"tick_rate_hz"`
	Seed         int64   `json:"seed"`
	ChunkSize    int     `json:"chunk_size"`
	HoursPerTick float64 `json:"hours_per_tick"`
}

// ERROR (server -> client), only for handshake failures.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// Block ops. Clients send place and break; the server answers every change
// with set.
const (
	BlockPlace = "place"
	BlockBreak = "break"
	BlockSet   = "set"
)

// BLOCK (both directions)
type BlockMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Op              string  `json:"op"`
	Pos             [3]int  `json:"pos"`
	Block           string  `json:"block,omitempty"`
	Yaw             float64 `json:"yaw,omitempty"`
	// Loot seeds a placed loot chest; creative players only.
	Loot string `json:"loot,omitempty"`
}
