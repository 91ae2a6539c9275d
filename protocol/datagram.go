package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Datagram is the structured record carried by a frame payload. Only the
// fields relevant to Type are populated; see the per-type wire layouts in
// typeCodes below.
//
// The on-air encoding is positional text, '|'-separated, with a single
// character type code first. A JSON object with the same fields would not
// fit the 32-byte payload bound, so the wire form trades keys for
// position; semantically the two are equivalent and fields are accessed
// by name on both sides.
type Datagram struct {
	Type      DatagramType
	Timestamp time.Time

	UserID   string
	Username string

	FromUserID string
	ToUserID   string

	RoomID      string
	RoomName    string
	Private     bool
	Key         string
	MemberCount int
	CreatedBy   string

	MessageID string
	Content   string
	Encrypted bool
}

const fieldSep = "|"

var typeCodes = map[DatagramType]string{
	TypeHeartbeat:  "h", // h|userID|username|ts
	TypeDiscovery:  "d", // d|userID|username|ts
	TypeInvite:     "i", // i|fromUserID|toUserID|roomID|private|key
	TypeJoinRoom:   "j", // j|userID|username|roomID
	TypeLeaveRoom:  "l", // l|userID|roomID
	TypeRoomUpdate: "u", // u|roomID|memberCount|createdBy
	TypePrivateKey: "k", // k|roomID|fromUserID|key
	TypeChat:       "c", // c|messageID|roomID|fromUserID|encrypted|content
}

var codeTypes = func() map[string]DatagramType {
	m := make(map[string]DatagramType, len(typeCodes))
	for t, c := range typeCodes {
		m[c] = t
	}
	return m
}()

// RoomDisplayName returns the advertised name for a room id. Room names
// are derived rather than transmitted to keep datagrams inside the
// payload budget.
func RoomDisplayName(roomID string) string {
	return "Chat room " + roomID
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 36)
}

// EncodeDatagram serialises d to its on-air text form. It refuses
// datagrams with unknown types or separator characters inside fields
// (ErrMalformedDatagram) and payloads over MaxPayloadSize bytes
// (ErrPayloadTooLarge).
func EncodeDatagram(d *Datagram) ([]byte, error) {
	code, ok := typeCodes[d.Type]
	if !ok {
		return nil, ErrMalformedDatagram
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var fields []string
	switch d.Type {
	case TypeHeartbeat, TypeDiscovery:
		fields = []string{d.UserID, d.Username, encodeTime(ts)}
	case TypeInvite:
		fields = []string{d.FromUserID, d.ToUserID, d.RoomID, encodeBool(d.Private), d.Key}
	case TypeJoinRoom:
		fields = []string{d.UserID, d.Username, d.RoomID}
	case TypeLeaveRoom:
		fields = []string{d.UserID, d.RoomID}
	case TypeRoomUpdate:
		fields = []string{d.RoomID, strconv.Itoa(d.MemberCount), d.CreatedBy}
	case TypePrivateKey:
		fields = []string{d.RoomID, d.FromUserID, d.Key}
	case TypeChat:
		fields = []string{d.MessageID, d.RoomID, d.FromUserID, encodeBool(d.Encrypted), d.Content}
	}

	for _, f := range fields {
		if strings.Contains(f, fieldSep) {
			return nil, ErrMalformedDatagram
		}
	}

	wire := code + fieldSep + strings.Join(fields, fieldSep)
	if len(wire) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return []byte(wire), nil
}

// DecodeDatagram parses an on-air payload back into a Datagram. The
// timestamp is taken from the wire where the layout carries one and from
// the local clock otherwise.
func DecodeDatagram(payload []byte) (*Datagram, error) {
	parts := strings.Split(string(payload), fieldSep)
	if len(parts) < 2 {
		return nil, ErrMalformedDatagram
	}

	typ, ok := codeTypes[parts[0]]
	if !ok {
		return nil, ErrMalformedDatagram
	}

	d := &Datagram{Type: typ, Timestamp: time.Now()}
	args := parts[1:]

	switch typ {
	case TypeHeartbeat, TypeDiscovery:
		if len(args) != 3 {
			return nil, ErrMalformedDatagram
		}
		d.UserID, d.Username = args[0], args[1]
		secs, err := strconv.ParseInt(args[2], 36, 64)
		if err != nil {
			return nil, ErrMalformedDatagram
		}
		d.Timestamp = time.Unix(secs, 0)
	case TypeInvite:
		if len(args) != 5 {
			return nil, ErrMalformedDatagram
		}
		d.FromUserID, d.ToUserID, d.RoomID = args[0], args[1], args[2]
		d.Private = args[3] == "1"
		d.Key = args[4]
		d.RoomName = RoomDisplayName(d.RoomID)
	case TypeJoinRoom:
		if len(args) != 3 {
			return nil, ErrMalformedDatagram
		}
		d.UserID, d.Username, d.RoomID = args[0], args[1], args[2]
	case TypeLeaveRoom:
		if len(args) != 2 {
			return nil, ErrMalformedDatagram
		}
		d.UserID, d.RoomID = args[0], args[1]
	case TypeRoomUpdate:
		if len(args) != 3 {
			return nil, ErrMalformedDatagram
		}
		d.RoomID = args[0]
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return nil, ErrMalformedDatagram
		}
		d.MemberCount = n
		d.CreatedBy = args[2]
		d.RoomName = RoomDisplayName(d.RoomID)
	case TypePrivateKey:
		if len(args) != 3 {
			return nil, ErrMalformedDatagram
		}
		d.RoomID, d.FromUserID, d.Key = args[0], args[1], args[2]
	case TypeChat:
		// Our encoder refuses content holding the separator, but a
		// foreign sender may not; rejoin the tail instead of dropping.
		if len(args) < 5 {
			return nil, ErrMalformedDatagram
		}
		d.MessageID, d.RoomID, d.FromUserID = args[0], args[1], args[2]
		d.Encrypted = args[3] == "1"
		d.Content = strings.Join(args[4:], fieldSep)
	}

	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// validate applies the per-type schema expectations. A payload that
// parses but fails these is DATAGRAM_MALFORMED and is dropped upstream.
func (d *Datagram) validate() error {
	switch d.Type {
	case TypeHeartbeat, TypeDiscovery:
		if d.UserID == "" || d.Username == "" {
			return ErrMalformedDatagram
		}
	case TypeInvite:
		if d.FromUserID == "" || d.ToUserID == "" || d.RoomID == "" {
			return ErrMalformedDatagram
		}
		if d.Private && d.Key == "" {
			return ErrMalformedDatagram
		}
	case TypeJoinRoom:
		if d.UserID == "" || d.RoomID == "" {
			return ErrMalformedDatagram
		}
	case TypeLeaveRoom:
		if d.UserID == "" || d.RoomID == "" {
			return ErrMalformedDatagram
		}
	case TypeRoomUpdate:
		if d.RoomID == "" || d.CreatedBy == "" {
			return ErrMalformedDatagram
		}
	case TypePrivateKey:
		if d.RoomID == "" || d.FromUserID == "" || d.Key == "" {
			return ErrMalformedDatagram
		}
	case TypeChat:
		if d.MessageID == "" || d.RoomID == "" || d.FromUserID == "" {
			return ErrMalformedDatagram
		}
	}
	return nil
}
