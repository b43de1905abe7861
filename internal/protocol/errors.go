package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Container layer. These are never sent for dropped packets; they only
	// label counters and audit entries.
	ErrBadPacketID    = "E_BAD_PACKET_ID"
	ErrSlotOutOfRange = "E_SLOT_OUT_OF_RANGE"
	ErrNoSession      = "E_NO_SESSION"
	ErrNoContainer    = "E_NO_CONTAINER"
	ErrMalformed      = "E_MALFORMED"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadPacketID:     {},
	ErrSlotOutOfRange:  {},
	ErrNoSession:       {},
	ErrNoContainer:     {},
	ErrMalformed:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
