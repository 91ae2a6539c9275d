package protocol

import "errors"

var (
	ErrBusy              = errors.New("transmit already in progress")
	ErrPayloadTooLarge   = errors.New("payload exceeds 32 bytes")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrFrameRejected     = errors.New("frame rejected")
	ErrDecryptFailed     = errors.New("content undecryptable")
	ErrMalformedDatagram = errors.New("malformed datagram")
	ErrNotInRoom         = errors.New("not in a room")
)
