package ultracomm

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/ultracomm/audio/stub"
	"github.com/ystepanoff/ultracomm/modem"
)

// linkedDriver plays into the peer's capture, acoustically coupling two
// stub devices.
type linkedDriver struct {
	*stub.Driver
	peer *stub.Driver
}

func (d *linkedDriver) Play(buf []float32) error {
	d.peer.InjectCapture(buf)
	return d.Driver.Play(buf)
}

// testConfig uses a one-bit detector window so the stub channel decodes
// deterministically.
func testConfig(id, name string) Config {
	return Config{
		UserID:         id,
		Username:       name,
		DetectorWindow: modem.NominalSampleRate / modem.ProfileHigh.BitRate,
	}
}

func newPair(t *testing.T) (*Messenger, *Messenger) {
	t.Helper()
	da := stub.New(modem.NominalSampleRate)
	db := stub.New(modem.NominalSampleRate)

	a, err := New(&linkedDriver{Driver: da, peer: db}, testConfig("aaaa", "Alice"))
	require.NoError(t, err)
	b, err := New(&linkedDriver{Driver: db, peer: da}, testConfig("bbbb", "Bob"))
	require.NoError(t, err)

	require.NoError(t, a.StartDiscovery())
	require.NoError(t, b.StartDiscovery())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestDiscoveryAcrossTheLink(t *testing.T) {
	a, b := newPair(t)

	// The one-shot discovery datagrams cross the acoustic link; each
	// side detects the other without waiting for a heartbeat.
	require.Eventually(t, func() bool {
		return len(a.ListPeers()) == 1 && len(b.ListPeers()) == 1
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, "bbbb", a.ListPeers()[0].UserID)
	assert.Equal(t, "Bob", a.ListPeers()[0].Username)
	assert.Equal(t, "aaaa", b.ListPeers()[0].UserID)
}

func TestChatAcrossTheLink(t *testing.T) {
	a, b := newPair(t)

	events, cancel := b.Events()
	defer cancel()

	require.NoError(t, a.CreateOrJoinRoom("room42"))
	require.NoError(t, b.CreateOrJoinRoom("room42"))

	// B joined after A, so B's join broadcast reaches A's membership
	// view.
	require.Eventually(t, func() bool {
		room := a.Room()
		return room != nil && len(room.Members) == 2
	}, 10*time.Second, 10*time.Millisecond)

	// Chat may momentarily collide with a queued heartbeat; retry on
	// the busy slot like a UI would.
	require.Eventually(t, func() bool {
		return a.SendChat("hello") == nil
	}, 10*time.Second, 50*time.Millisecond)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == EventMessage && !e.Message.System {
				assert.Equal(t, "hello", e.Message.Content)
				assert.Equal(t, "aaaa", e.Message.FromUserID)
				assert.Equal(t, "Alice", e.Message.FromUsername)
				assert.False(t, e.Message.Encrypted)
				return
			}
		case <-deadline:
			t.Fatal("chat message did not arrive")
		}
	}
}

func TestStopDiscoveryReleasesCapture(t *testing.T) {
	driver := stub.New(modem.NominalSampleRate)
	m, err := New(driver, testConfig("aaaa", "Alice"))
	require.NoError(t, err)

	require.NoError(t, m.StartDiscovery())

	// Nothing was injected, so the capture goroutine is parked in a
	// blocking Read. StopDiscovery waits for it to exit; if
	// cancellation did not reach the read, this would hang.
	stopped := make(chan struct{})
	go func() {
		m.StopDiscovery()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("StopDiscovery did not release the capture read")
	}

	m.StopDiscovery() // idempotent

	// Restartable after stop.
	require.NoError(t, m.StartDiscovery())
	require.NoError(t, m.Close())
}

func TestSetModeWhileRunning(t *testing.T) {
	// Switching profiles mid-discovery restarts the receive pipeline:
	// the old capture loop must be gone before the new one starts, and
	// the link must still carry chat at the new rate.
	a, b := newPair(t)

	require.NoError(t, a.SetMode("low"))
	require.NoError(t, b.SetMode("low"))

	events, cancel := b.Events()
	defer cancel()

	require.NoError(t, a.CreateOrJoinRoom("room42"))
	require.NoError(t, b.CreateOrJoinRoom("room42"))

	require.Eventually(t, func() bool {
		room := a.Room()
		return room != nil && len(room.Members) == 2
	}, 10*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.SendChat("after switch") == nil
	}, 10*time.Second, 50*time.Millisecond)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == EventMessage && !e.Message.System {
				assert.Equal(t, "after switch", e.Message.Content)
				return
			}
		case <-deadline:
			t.Fatal("chat did not survive the mode switch")
		}
	}
}

func TestSetModeSwitchesProfile(t *testing.T) {
	driver := stub.New(modem.NominalSampleRate)
	m, err := New(driver, testConfig("aaaa", "Alice"))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetMode("low"))
	require.NoError(t, m.CreateOrJoinRoom("room42"))
	require.NoError(t, m.SendChat("hi"))

	played := driver.PlayedLog()
	require.NotEmpty(t, played)
	// Low mode renders 10 bit/s: 4800 samples per bit at 48 kHz.
	last := played[len(played)-1]
	assert.Equal(t, 0, len(last)%4800)
}

type memStore map[string]string

func (s memStore) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

func (s memStore) Set(key, value string) error {
	s[key] = value
	return nil
}

func TestUsernameResolution(t *testing.T) {
	// Persisted name wins over nothing.
	store := memStore{"username": "Carol"}
	m, _, err := NewLoopback(Config{Store: store, UserID: "cccc"})
	require.NoError(t, err)
	assert.Equal(t, "Carol", m.Username())
	m.Close()

	// Empty store: a user<4 hex> fallback is generated and persisted.
	store = memStore{}
	m, _, err = NewLoopback(Config{Store: store, UserID: "dddd"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^user[0-9a-f]{4}$`), m.Username())
	assert.Equal(t, m.Username(), store["username"])
	m.Close()

	// Explicit config wins over the store.
	m, _, err = NewLoopback(Config{Store: memStore{"username": "Carol"}, Username: "Dave", UserID: "eeee"})
	require.NoError(t, err)
	assert.Equal(t, "Dave", m.Username())
	m.Close()
}
