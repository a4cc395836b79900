package lib

import "github.com/pkg/errors"

// Sentinel errors surfaced by the codec, the transport and the driver.
var (
	ErrPayloadTooLarge = errors.New("payload exceeds 1440 bytes")
	ErrShortPacket     = errors.New("packet shorter than 32-byte header")
	ErrRecvTimeout     = errors.New("receive timed out")
	ErrRejected        = errors.New("connection rejected by central")
	ErrBadState        = errors.New("persisted session state missing or truncated")
)
