package session

import (
	"sort"
	"time"

	"github.com/ystepanoff/ultracomm/protocol"
)

// Room is the device's local view of the room it is in. Membership is
// best-effort and eventually consistent: peers are added and removed as
// join_room/leave_room datagrams arrive.
type Room struct {
	ID        string
	Name      string
	Private   bool
	Members   map[string]bool
	CreatedBy string
	CreatedAt time.Time
	Key       string
}

func newRoom(id, createdBy string, private bool, key string) *Room {
	return &Room{
		ID:        id,
		Name:      protocol.RoomDisplayName(id),
		Private:   private,
		Members:   map[string]bool{createdBy: true},
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		Key:       key,
	}
}

// RoomState is an immutable snapshot handed to subscribers.
type RoomState struct {
	ID        string
	Name      string
	Private   bool
	Members   []string
	CreatedBy string
}

func (r *Room) state() *RoomState {
	members := make([]string, 0, len(r.Members))
	for id := range r.Members {
		members = append(members, id)
	}
	sort.Strings(members)
	return &RoomState{
		ID:        r.ID,
		Name:      r.Name,
		Private:   r.Private,
		Members:   members,
		CreatedBy: r.CreatedBy,
	}
}

// Invite is an invitation to join another device's room.
type Invite struct {
	FromUserID   string
	FromUsername string
	ToUserID     string
	RoomID       string
	RoomName     string
	Private      bool
	Key          string
}
