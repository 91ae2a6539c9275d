package protocol

import "time"

// Generic link & protocol constants (platform independent). All higher layers should depend on this file.
const (
	// Frame sizing
	// Layout:
	//   Sync (8 bytes) | Length (1) | Payload (0-32) | Checksum (1)
	// Length counts payload bytes only. Checksum is the XOR of the payload bytes.
	// Every byte goes on air as 8 bits, least significant bit first.

	SyncSize     = 8
	LengthSize   = 1
	ChecksumSize = 1

	FrameHeaderSize = SyncSize + LengthSize // bytes before payload

	// Application-level payload allowance
	MaxPayloadSize = 32

	// Total maximum frame length in bytes / on-air bits
	MaxFrameSize = FrameHeaderSize + MaxPayloadSize + ChecksumSize
	MaxFrameBits = MaxFrameSize * 8

	// Received-bit buffer cap; on overflow the oldest half is dropped.
	BitBufferCap = 1000

	// Timeouts / intervals
	HeartbeatInterval = 3 * time.Second
	SweepInterval     = 5 * time.Second
	AdvertInterval    = 5 * time.Second
	DiscoveryExpiry   = 10 * time.Second
	SessionExpiry     = 30 * time.Second

	// Chat messageIds seen within this window are duplicates.
	DedupWindow = 60 * time.Second
)

// SyncHeader is the fixed byte sequence that prefixes every frame. Each
// value is a whole byte (0 or 1), not a packed bit.
var SyncHeader = [SyncSize]byte{1, 0, 1, 0, 1, 1, 0, 1}

// DatagramType identifies the session-level meaning of a datagram.
type DatagramType string

const (
	TypeHeartbeat  DatagramType = "heartbeat"
	TypeDiscovery  DatagramType = "discovery"
	TypeInvite     DatagramType = "invite"
	TypeJoinRoom   DatagramType = "join_room"
	TypeLeaveRoom  DatagramType = "leave_room"
	TypeRoomUpdate DatagramType = "room_update"
	TypePrivateKey DatagramType = "private_key"
	TypeChat       DatagramType = "chat"
)

// Field length budgets. The 32-byte payload bound is enforced at encode
// time; these keep well-formed datagrams under it.
const (
	MaxUserIDLen    = 9
	MaxUsernameLen  = 8
	MaxRoomIDLen    = 6
	MaxMessageIDLen = 4
)
