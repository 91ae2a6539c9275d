package session

import (
	"context"
	"sync"
	"time"

	log "github.com/schollz/logger"

	"github.com/ystepanoff/ultracomm/protocol"
)

// UndecryptablePlaceholder is surfaced in place of private-mode content
// that cannot be recovered. The envelope is delivered, not dropped.
const UndecryptablePlaceholder = "[encrypted — undecryptable]"

// Sender is the transmit surface the session drives. Foreground
// operations use Send and surface ErrBusy; the control timers use
// Enqueue, which queues behind an in-flight frame.
type Sender interface {
	Send(d *protocol.Datagram) error
	Enqueue(d *protocol.Datagram)
}

// Config carries the session's identity and tuning. Zero durations take
// the protocol defaults; everything is fixed at construction (no ambient
// globals).
type Config struct {
	UserID   string
	Username string

	// Sealed switches private-mode content from the legacy XOR
	// obfuscation to the authenticated construction. Both peers must
	// agree on it by configuration.
	Sealed bool

	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	AdvertInterval    time.Duration
	DiscoveryExpiry   time.Duration
	SessionExpiry     time.Duration
}

func (c *Config) fillDefaults() {
	if c.UserID == "" {
		c.UserID = protocol.GenerateID(4)
	}
	if len(c.UserID) > protocol.MaxUserIDLen {
		c.UserID = c.UserID[:protocol.MaxUserIDLen]
	}
	if c.Username == "" {
		c.Username = "user" + protocol.GenerateID(4)
	}
	if n := []rune(c.Username); len(n) > protocol.MaxUsernameLen {
		c.Username = string(n[:protocol.MaxUsernameLen])
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = protocol.HeartbeatInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = protocol.SweepInterval
	}
	if c.AdvertInterval <= 0 {
		c.AdvertInterval = protocol.AdvertInterval
	}
	if c.DiscoveryExpiry <= 0 {
		c.DiscoveryExpiry = protocol.DiscoveryExpiry
	}
	if c.SessionExpiry <= 0 {
		c.SessionExpiry = protocol.SessionExpiry
	}
}

// Session owns the current room, the optional shared key, and the peer
// tables, and routes incoming datagrams by type.
type Session struct {
	cfg    Config
	sender Sender

	discovery *PeerTable // radar view, short expiry
	connected *PeerTable // presence view, long expiry

	mu   sync.Mutex
	room *Room
	seen map[string]time.Time // messageID -> first heard

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int

	wg sync.WaitGroup
}

// New builds a Session around sender. Call Start to run the control
// timers.
func New(cfg Config, sender Sender) *Session {
	cfg.fillDefaults()
	return &Session{
		cfg:       cfg,
		sender:    sender,
		discovery: NewPeerTable(cfg.UserID, cfg.DiscoveryExpiry),
		connected: NewPeerTable(cfg.UserID, cfg.SessionExpiry),
		seen:      make(map[string]time.Time),
		subs:      make(map[int]chan Event),
	}
}

// UserID returns the local identity.
func (s *Session) UserID() string { return s.cfg.UserID }

// Username returns the local display name.
func (s *Session) Username() string { return s.cfg.Username }

// Subscribe registers a listener on the session's event channel and
// returns it with its cancel function. Slow listeners lose events rather
// than stall the decoder.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.subID
	s.subID++
	ch := make(chan Event, 64)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) emit(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			log.Debugf("subscriber lagging, dropping %s event", e.Kind)
		}
	}
}

// Start announces this device with a one-shot discovery datagram and
// runs the heartbeat, sweep and room advertisement timers until ctx is
// cancelled.
func (s *Session) Start(ctx context.Context) {
	s.sender.Enqueue(s.identityDatagram(protocol.TypeDiscovery))

	s.wg.Add(1)
	go s.controlLoop(ctx)
}

// Wait blocks until the control loop has exited.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) controlLoop(ctx context.Context) {
	defer s.wg.Done()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	advert := time.NewTicker(s.cfg.AdvertInterval)
	defer advert.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			s.sender.Enqueue(s.identityDatagram(protocol.TypeHeartbeat))
		case <-sweep.C:
			for _, p := range s.discovery.Sweep() {
				peer := p
				s.emit(Event{Kind: EventPeerExpired, Peer: &peer})
			}
			for _, p := range s.connected.Sweep() {
				peer := p
				s.emit(Event{Kind: EventPeerOffline, Peer: &peer})
			}
		case <-advert.C:
			if d := s.advertDatagram(); d != nil {
				s.sender.Enqueue(d)
			}
		}
	}
}

func (s *Session) identityDatagram(t protocol.DatagramType) *protocol.Datagram {
	return &protocol.Datagram{
		Type:      t,
		Timestamp: time.Now(),
		UserID:    s.cfg.UserID,
		Username:  s.cfg.Username,
	}
}

// advertDatagram returns a room_update for the current public room, or
// nil when there is nothing to advertise.
func (s *Session) advertDatagram() *protocol.Datagram {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil || s.room.Private {
		return nil
	}
	return &protocol.Datagram{
		Type:        protocol.TypeRoomUpdate,
		RoomID:      s.room.ID,
		MemberCount: len(s.room.Members),
		CreatedBy:   s.room.CreatedBy,
	}
}

// HandleDatagram routes one received datagram. Self-originated frames
// that loop back acoustically are dropped here.
func (s *Session) HandleDatagram(d *protocol.Datagram) {
	origin := d.UserID
	if origin == "" {
		origin = d.FromUserID
	}
	if origin == s.cfg.UserID {
		return // acoustic reflection of our own frame
	}
	if origin != "" {
		username := d.Username
		isNew := s.discovery.Observe(origin, username)
		s.connected.Observe(origin, username)
		if isNew {
			peer := Peer{UserID: origin, Username: s.discovery.Lookup(origin), LastSeen: d.Timestamp}
			s.emit(Event{Kind: EventPeerDetected, Peer: &peer})
		}
	}

	switch d.Type {
	case protocol.TypeHeartbeat, protocol.TypeDiscovery:
		// Identity already observed above.
	case protocol.TypeInvite:
		s.handleInvite(d)
	case protocol.TypeJoinRoom:
		s.handleJoin(d)
	case protocol.TypeLeaveRoom:
		s.handleLeave(d)
	case protocol.TypeRoomUpdate:
		s.emit(Event{Kind: EventRoomAdvertised, Advert: &Advert{
			RoomID:      d.RoomID,
			RoomName:    d.RoomName,
			MemberCount: d.MemberCount,
			CreatedBy:   d.CreatedBy,
		}})
	case protocol.TypePrivateKey:
		s.handlePrivateKey(d)
	case protocol.TypeChat:
		s.handleChat(d)
	}
}

func (s *Session) handleInvite(d *protocol.Datagram) {
	if d.ToUserID != s.cfg.UserID {
		return // addressed elsewhere
	}
	s.emit(Event{Kind: EventInviteReceived, Invite: &Invite{
		FromUserID:   d.FromUserID,
		FromUsername: s.discovery.Lookup(d.FromUserID),
		ToUserID:     d.ToUserID,
		RoomID:       d.RoomID,
		RoomName:     protocol.RoomDisplayName(d.RoomID),
		Private:      d.Private,
		Key:          d.Key,
	}})
}

func (s *Session) handleJoin(d *protocol.Datagram) {
	s.mu.Lock()
	if s.room == nil || s.room.ID != d.RoomID {
		s.mu.Unlock()
		return
	}
	s.room.Members[d.UserID] = true
	state := s.room.state()
	s.mu.Unlock()

	name := d.Username
	if name == "" {
		name = s.discovery.Lookup(d.UserID)
	}
	s.emitSystem(d.RoomID, name+" joined the room")
	s.emit(Event{Kind: EventRoomStateChanged, Room: state})
}

func (s *Session) handleLeave(d *protocol.Datagram) {
	s.mu.Lock()
	if s.room == nil || s.room.ID != d.RoomID {
		s.mu.Unlock()
		return
	}
	delete(s.room.Members, d.UserID)
	state := s.room.state()
	s.mu.Unlock()

	name := s.discovery.Lookup(d.UserID)
	if name == "" {
		name = d.UserID
	}
	s.emitSystem(d.RoomID, name+" left the room")
	s.emit(Event{Kind: EventRoomStateChanged, Room: state})
}

func (s *Session) handlePrivateKey(d *protocol.Datagram) {
	s.mu.Lock()
	if s.room == nil || s.room.ID != d.RoomID {
		s.mu.Unlock()
		return
	}
	s.room.Key = d.Key
	s.room.Private = true
	state := s.room.state()
	s.mu.Unlock()

	s.emitSystem(d.RoomID, "Room is now private")
	s.emit(Event{Kind: EventRoomStateChanged, Room: state})
}

func (s *Session) handleChat(d *protocol.Datagram) {
	s.mu.Lock()
	if s.room == nil || s.room.ID != d.RoomID {
		s.mu.Unlock()
		return
	}
	key := s.room.Key
	s.mu.Unlock()

	if s.isDuplicate(d.MessageID, d.Timestamp) {
		return
	}

	content := d.Content
	if d.Encrypted {
		var err error
		if s.cfg.Sealed {
			content, err = protocol.OpenContent(d.Content, key)
		} else {
			content, err = protocol.DeobfuscateContent(d.Content, key)
		}
		if err != nil {
			content = UndecryptablePlaceholder
		}
	}

	name := s.discovery.Lookup(d.FromUserID)
	if name == "" {
		name = d.FromUserID
	}
	s.emit(Event{Kind: EventMessage, Message: &Message{
		ID:           d.MessageID,
		RoomID:       d.RoomID,
		FromUserID:   d.FromUserID,
		FromUsername: name,
		Content:      content,
		Encrypted:    d.Encrypted,
		At:           d.Timestamp,
	}})
}

// isDuplicate records id and reports whether it was already heard inside
// the dedup window.
func (s *Session) isDuplicate(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for old, at := range s.seen {
		if now.Sub(at) > protocol.DedupWindow {
			delete(s.seen, old)
		}
	}
	if _, dup := s.seen[id]; dup {
		return true
	}
	s.seen[id] = now
	return false
}

func (s *Session) emitSystem(roomID, text string) {
	s.emit(Event{Kind: EventMessage, Message: &Message{
		RoomID:  roomID,
		Content: text,
		System:  true,
		At:      time.Now(),
	}})
}

// Peers returns the radar view (short expiry).
func (s *Session) Peers() []Peer { return s.discovery.Snapshot() }

// ConnectedPeers returns the presence view (long expiry).
func (s *Session) ConnectedPeers() []Peer { return s.connected.Snapshot() }

// RoomState returns a snapshot of the current room, or nil when idle.
func (s *Session) RoomState() *RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	return s.room.state()
}

// SendChat broadcasts text into the current room. In private mode the
// content is transformed with the shared key before it leaves the
// device. The local copy is delivered back on the event channel.
func (s *Session) SendChat(text string) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return protocol.ErrNotInRoom
	}
	roomID := s.room.ID
	private := s.room.Private
	key := s.room.Key
	s.mu.Unlock()

	content := text
	encrypted := false
	if private && key != "" {
		if s.cfg.Sealed {
			sealed, err := protocol.SealContent(text, key)
			if err != nil {
				return err
			}
			content = sealed
		} else {
			content = protocol.ObfuscateContent(text, key)
		}
		encrypted = true
	}

	d := &protocol.Datagram{
		Type:       protocol.TypeChat,
		Timestamp:  time.Now(),
		MessageID:  protocol.GenerateID(protocol.MaxMessageIDLen),
		RoomID:     roomID,
		FromUserID: s.cfg.UserID,
		Content:    content,
		Encrypted:  encrypted,
	}
	if err := s.sender.Send(d); err != nil {
		s.emit(Event{Kind: EventSendFailed, Err: err})
		return err
	}

	s.emit(Event{Kind: EventMessage, Message: &Message{
		ID:           d.MessageID,
		RoomID:       roomID,
		FromUserID:   s.cfg.UserID,
		FromUsername: s.cfg.Username,
		Content:      text,
		Encrypted:    encrypted,
		At:           d.Timestamp,
	}})
	return nil
}

// CreateOrJoinRoom enters the room with the given id, creating the local
// view if the device was idle. An empty id creates a fresh public room.
// Any previous room is left first.
func (s *Session) CreateOrJoinRoom(roomID string) error {
	if roomID == "" {
		roomID = "r" + protocol.GenerateID(protocol.MaxRoomIDLen-1)
	}

	s.mu.Lock()
	if s.room != nil && s.room.ID == roomID {
		s.mu.Unlock()
		return nil
	}
	leaving := s.room != nil
	s.mu.Unlock()
	if leaving {
		if err := s.LeaveRoom(); err != nil && err != protocol.ErrNotInRoom {
			return err
		}
	}

	return s.enterRoom(newRoom(roomID, s.cfg.UserID, false, ""))
}

// AcceptInvite enters the room an invite advertises, private state and
// key included.
func (s *Session) AcceptInvite(inv Invite) error {
	s.mu.Lock()
	leaving := s.room != nil
	s.mu.Unlock()
	if leaving {
		if err := s.LeaveRoom(); err != nil && err != protocol.ErrNotInRoom {
			return err
		}
	}

	room := newRoom(inv.RoomID, inv.FromUserID, inv.Private, inv.Key)
	room.Members[s.cfg.UserID] = true
	return s.enterRoom(room)
}

// enterRoom installs room locally and announces the join. The local
// state changes even if the announcement fails; membership is
// best-effort and a lost announcement is not re-sent.
func (s *Session) enterRoom(room *Room) error {
	room.Members[s.cfg.UserID] = true

	s.mu.Lock()
	s.room = room
	state := room.state()
	s.mu.Unlock()

	err := s.sender.Send(&protocol.Datagram{
		Type:     protocol.TypeJoinRoom,
		UserID:   s.cfg.UserID,
		Username: s.cfg.Username,
		RoomID:   room.ID,
	})
	if err != nil {
		s.emit(Event{Kind: EventSendFailed, Err: err})
	}

	s.emit(Event{Kind: EventRoomStateChanged, Room: state})
	return err
}

// LeaveRoom announces the departure and returns the device to idle.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return protocol.ErrNotInRoom
	}
	roomID := s.room.ID
	s.room = nil
	s.mu.Unlock()

	err := s.sender.Send(&protocol.Datagram{
		Type:   protocol.TypeLeaveRoom,
		UserID: s.cfg.UserID,
		RoomID: roomID,
	})
	if err != nil {
		s.emit(Event{Kind: EventSendFailed, Err: err})
	}

	s.emit(Event{Kind: EventRoomStateChanged, Room: nil})
	return err
}

// InvitePeer sends a unicast-by-field invite to userID, carrying the
// room key when the room is private.
func (s *Session) InvitePeer(userID string) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return protocol.ErrNotInRoom
	}
	d := &protocol.Datagram{
		Type:       protocol.TypeInvite,
		FromUserID: s.cfg.UserID,
		ToUserID:   userID,
		RoomID:     s.room.ID,
		Private:    s.room.Private,
		Key:        s.room.Key,
	}
	s.mu.Unlock()

	if err := s.sender.Send(d); err != nil {
		s.emit(Event{Kind: EventSendFailed, Err: err})
		return err
	}
	return nil
}

// TogglePrivacy flips the room between public and private. Entering
// private mode mints a fresh key and pushes it to the current members;
// returning to public clears the key locally but does not retroactively
// decrypt anything.
func (s *Session) TogglePrivacy() error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return protocol.ErrNotInRoom
	}

	var announce *protocol.Datagram
	var system string
	if s.room.Private {
		s.room.Private = false
		s.room.Key = ""
		system = "Room is now public"
	} else {
		s.room.Private = true
		s.room.Key = protocol.GenerateRoomKey()
		announce = &protocol.Datagram{
			Type:       protocol.TypePrivateKey,
			RoomID:     s.room.ID,
			FromUserID: s.cfg.UserID,
			Key:        s.room.Key,
		}
		system = "Room is now private"
	}
	roomID := s.room.ID
	state := s.room.state()
	s.mu.Unlock()

	if announce != nil {
		if err := s.sender.Send(announce); err != nil {
			s.emit(Event{Kind: EventSendFailed, Err: err})
			return err
		}
	}

	s.emitSystem(roomID, system)
	s.emit(Event{Kind: EventRoomStateChanged, Room: state})
	return nil
}
