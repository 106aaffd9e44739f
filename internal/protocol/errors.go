package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Client and host state.
	ErrBusy       = "E_BUSY"
	ErrClientGone = "E_CLIENT_GONE"
	ErrConflict   = "E_CONFLICT"

	// Command layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrUnknownGroup    = "E_UNKNOWN_GROUP"
	ErrUnknownDim      = "E_UNKNOWN_DIMENSION"
	ErrMoveUnsupported = "E_MOVE_UNSUPPORTED"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrClientGone:      {},
	ErrConflict:        {},
	ErrBadRequest:      {},
	ErrUnknownGroup:    {},
	ErrUnknownDim:      {},
	ErrMoveUnsupported: {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
