// Package ultracomm provides a façade to access the ultrasonic acoustic
// messaging layer: peer discovery, rooms and chat over a 17-20 kHz 2-FSK
// link, no radio or network required.
package ultracomm

import (
	"github.com/ystepanoff/ultracomm/modem"
	"github.com/ystepanoff/ultracomm/protocol"
	"github.com/ystepanoff/ultracomm/session"
)

// Re-export types for the public API
type (
	Datagram  = protocol.Datagram
	Profile   = modem.Profile
	Peer      = session.Peer
	Event     = session.Event
	EventKind = session.EventKind
	Message   = session.Message
	Invite    = session.Invite
	RoomState = session.RoomState
	Advert    = session.Advert
)

// Error constants exposed in the public API
var (
	ErrBusy              = protocol.ErrBusy
	ErrPayloadTooLarge   = protocol.ErrPayloadTooLarge
	ErrDeviceUnavailable = protocol.ErrDeviceUnavailable
	ErrNotInRoom         = protocol.ErrNotInRoom
)

// Constants exposed in the public API
const (
	EventPeerDetected     = session.EventPeerDetected
	EventPeerExpired      = session.EventPeerExpired
	EventPeerOffline      = session.EventPeerOffline
	EventMessage          = session.EventMessage
	EventInviteReceived   = session.EventInviteReceived
	EventRoomStateChanged = session.EventRoomStateChanged
	EventRoomAdvertised   = session.EventRoomAdvertised
	EventSendFailed       = session.EventSendFailed
)

// FSK profiles exposed in the public API
var (
	ProfileHigh = modem.ProfileHigh
	ProfileLow  = modem.ProfileLow
)
