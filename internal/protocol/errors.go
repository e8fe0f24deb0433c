package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session state.
	ErrNoWorld = "E_NO_WORLD"
	ErrBusy    = "E_BUSY"

	// Planning requests.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownOp     = "E_UNKNOWN_OP"
	ErrUnknownTag    = "E_UNKNOWN_TAG"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrBadThreshold  = "E_BAD_THRESHOLD"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNoWorld:         {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrUnknownOp:       {},
	ErrUnknownTag:      {},
	ErrInvalidTarget:   {},
	ErrBadThreshold:    {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
