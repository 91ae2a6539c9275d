package session

import (
	"sort"
	"sync"
	"time"
)

// Peer is one device heard on the channel.
type Peer struct {
	UserID   string
	Username string
	LastSeen time.Time
}

// PeerTable tracks heard peers with last-seen timestamps. Observations
// are applied in the arrival order of the underlying frames; there is no
// priority across peers.
type PeerTable struct {
	mu     sync.Mutex
	self   string
	expiry time.Duration
	peers  map[string]*Peer
}

// NewPeerTable returns a table that ignores self and expires entries
// after expiry.
func NewPeerTable(self string, expiry time.Duration) *PeerTable {
	return &PeerTable{
		self:   self,
		expiry: expiry,
		peers:  make(map[string]*Peer),
	}
}

// Observe refreshes the peer's last-seen time, inserting it if new, and
// reports whether it was new. Observing self is a no-op. An empty
// username keeps the known name, or falls back to the id for a peer
// first heard through a datagram that does not carry one.
func (t *PeerTable) Observe(userID, username string) bool {
	if userID == "" || userID == t.self {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.peers[userID]; ok {
		p.LastSeen = time.Now()
		if username != "" {
			p.Username = username
		}
		return false
	}
	if username == "" {
		username = userID
	}
	t.peers[userID] = &Peer{UserID: userID, Username: username, LastSeen: time.Now()}
	return true
}

// Snapshot returns a copy of the non-expired peers, sorted by id.
func (t *PeerTable) Snapshot() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if now.Sub(p.LastSeen) <= t.expiry {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep removes expired entries and returns them.
func (t *PeerTable) Sweep() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var removed []Peer
	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > t.expiry {
			removed = append(removed, *p)
			delete(t.peers, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].UserID < removed[j].UserID })
	return removed
}

// Lookup returns the username last heard for id, or "" if unknown.
func (t *PeerTable) Lookup(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		return p.Username
	}
	return ""
}
