package main

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ystepanoff/ultracomm"
)

// fileStore persists the username map as a small JSON file.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func (s *fileStore) load() map[string]string {
	kv := make(map[string]string)
	b, err := os.ReadFile(s.path)
	if err == nil {
		_ = json.Unmarshal(b, &kv)
	}
	return kv
}

func (s *fileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.load()[key]
	return v, ok
}

func (s *fileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv := s.load()
	kv[key] = value
	b, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

// inviteBox hands the most recent invite from the event goroutine to the
// command loop.
type inviteBox struct {
	mu  sync.Mutex
	inv *ultracomm.Invite
}

func (b *inviteBox) put(inv ultracomm.Invite) {
	b.mu.Lock()
	b.inv = &inv
	b.mu.Unlock()
}

func (b *inviteBox) take() *ultracomm.Invite {
	b.mu.Lock()
	defer b.mu.Unlock()
	inv := b.inv
	b.inv = nil
	return inv
}

func sinceShort(p ultracomm.Peer) string {
	return time.Since(p.LastSeen).Truncate(time.Second).String()
}
