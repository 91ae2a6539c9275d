package ultracomm

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	log "github.com/schollz/logger"
	"hz.tools/sdr/fft"

	"github.com/ystepanoff/ultracomm/audio"
	"github.com/ystepanoff/ultracomm/modem"
	"github.com/ystepanoff/ultracomm/session"
	"github.com/ystepanoff/ultracomm/transport"
)

// Store is the host-provided key/value facility used to persist the
// display name between runs.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

const usernameKey = "username"

// Config is the construction-time configuration record. There is no
// ambient state: everything the core reads arrives here.
type Config struct {
	// Username is the display name. When empty it is loaded from Store,
	// and failing that an auto-generated user<4 hex> name is used and
	// persisted.
	Username string

	// UserID overrides the generated opaque identity (tests).
	UserID string

	// Mode selects the FSK profile, "high" (default) or "low".
	Mode string

	// Volume in [0, 100], linearly mapped to output amplitude. Zero takes
	// the default of 80.
	Volume int

	// AutoDiscovery launches capture and the heartbeat timer from the
	// constructor. The host must already hold microphone permission.
	AutoDiscovery bool

	// Sealed switches private rooms to the authenticated content
	// transform. Both peers must agree by configuration.
	Sealed bool

	// Detector tuning; zero values take the documented defaults.
	DetectorWindow    int
	DetectorHop       int
	Threshold         float64
	SpectrumThreshold float64

	// Planner switches the detector to the FFT fallback path.
	Planner fft.Planner

	// Store persists the username. Optional.
	Store Store
}

// Messenger is the single entry point exposed to the UI and background
// collaborators. Every operation delegates to exactly one lower
// component; the messenger holds wiring, not domain state.
type Messenger struct {
	cfg    Config
	driver audio.Driver
	tx     *transport.Transmitter
	sess   *session.Session

	mu      sync.Mutex
	profile modem.Profile
	cancel  context.CancelFunc
	rx      *transport.Receiver
}

// New wires a Messenger over the given audio driver. With
// cfg.AutoDiscovery set it also starts discovery before returning.
func New(driver audio.Driver, cfg Config) (*Messenger, error) {
	cfg.Username = resolveUsername(cfg)
	if cfg.Volume == 0 {
		cfg.Volume = 80
	}

	profile := modem.ProfileByName(cfg.Mode)
	tx := transport.NewTransmitter(driver, profile)
	tx.SetVolume(cfg.Volume)

	m := &Messenger{
		cfg:     cfg,
		driver:  driver,
		tx:      tx,
		profile: profile,
		sess: session.New(session.Config{
			UserID:   cfg.UserID,
			Username: cfg.Username,
			Sealed:   cfg.Sealed,
		}, tx),
	}

	if cfg.AutoDiscovery {
		if err := m.StartDiscovery(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// resolveUsername applies the precedence: explicit config, persisted
// value, generated fallback.
func resolveUsername(cfg Config) string {
	if cfg.Username != "" {
		return cfg.Username
	}
	if cfg.Store != nil {
		if name, ok := cfg.Store.Get(usernameKey); ok && name != "" {
			return name
		}
	}
	var raw [2]byte
	_, _ = crand.Read(raw[:])
	name := "user" + hex.EncodeToString(raw[:])
	if cfg.Store != nil {
		if err := cfg.Store.Set(usernameKey, name); err != nil {
			log.Debugf("could not persist username: %v", err)
		}
	}
	return name
}

// UserID returns the local opaque identity.
func (m *Messenger) UserID() string { return m.sess.UserID() }

// Username returns the resolved display name.
func (m *Messenger) Username() string { return m.sess.Username() }

// Events subscribes to the tagged event stream. The returned cancel
// function releases the subscription.
func (m *Messenger) Events() (<-chan Event, func()) { return m.sess.Subscribe() }

// StartDiscovery opens the receive pipeline and starts the heartbeat,
// sweep and advertisement timers. It is a no-op when already running.
func (m *Messenger) StartDiscovery() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	detector, err := modem.NewDetector(modem.DetectorConfig{
		Profile:           m.profile,
		SampleRate:        m.driver.SampleRate(),
		WindowSize:        m.cfg.DetectorWindow,
		HopSize:           m.cfg.DetectorHop,
		Threshold:         m.cfg.Threshold,
		SpectrumThreshold: m.cfg.SpectrumThreshold,
		Planner:           m.cfg.Planner,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.rx = transport.NewReceiver(m.driver, detector)
	m.rx.Start(ctx)
	m.tx.Start(ctx)
	m.sess.Start(ctx)

	go m.dispatch(ctx, m.rx)
	log.Debugf("discovery started as %s (%s)", m.sess.Username(), m.sess.UserID())
	return nil
}

func (m *Messenger) dispatch(ctx context.Context, rx *transport.Receiver) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-rx.Datagrams():
			m.sess.HandleDatagram(d)
		}
	}
}

// StopDiscovery cancels capture, stops the control timers and drains
// the transmit queue unplayed. An in-flight frame completes. A capture
// read in progress returns on cancellation, and StopDiscovery waits for
// the receive goroutines to exit, so the device has no reader left when
// it returns and a subsequent StartDiscovery never contends with a
// stale capture loop.
func (m *Messenger) StopDiscovery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.rx.Wait()
	m.rx = nil
	m.tx.Drain()
}

// Close stops discovery and releases the audio device.
func (m *Messenger) Close() error {
	m.StopDiscovery()
	return m.driver.Close()
}

// SendChat broadcasts text into the current room.
func (m *Messenger) SendChat(text string) error { return m.sess.SendChat(text) }

// CreateOrJoinRoom enters (or creates) a room; empty id makes a new one.
func (m *Messenger) CreateOrJoinRoom(roomID string) error {
	return m.sess.CreateOrJoinRoom(roomID)
}

// InvitePeer invites a detected peer into the current room.
func (m *Messenger) InvitePeer(userID string) error { return m.sess.InvitePeer(userID) }

// AcceptInvite joins the room an invite advertises.
func (m *Messenger) AcceptInvite(inv Invite) error { return m.sess.AcceptInvite(inv) }

// LeaveRoom returns the device to idle.
func (m *Messenger) LeaveRoom() error { return m.sess.LeaveRoom() }

// TogglePrivacy flips the current room between public and private.
func (m *Messenger) TogglePrivacy() error { return m.sess.TogglePrivacy() }

// SetMode switches the FSK profile ("high"/"low"). The transmit side
// changes immediately; an active receive pipeline is restarted so the
// detector follows.
func (m *Messenger) SetMode(mode string) error {
	profile := modem.ProfileByName(mode)

	m.mu.Lock()
	m.profile = profile
	running := m.cancel != nil
	m.mu.Unlock()

	m.tx.SetProfile(profile)
	if running {
		m.StopDiscovery()
		return m.StartDiscovery()
	}
	return nil
}

// SetVolume maps v in [0, 100] to output amplitude.
func (m *Messenger) SetVolume(v int) { m.tx.SetVolume(v) }

// ListPeers returns the radar view of recently heard peers.
func (m *Messenger) ListPeers() []Peer { return m.sess.Peers() }

// ConnectedPeers returns the longer-lived presence view.
func (m *Messenger) ConnectedPeers() []Peer { return m.sess.ConnectedPeers() }

// Room returns the current room snapshot, or nil when idle.
func (m *Messenger) Room() *RoomState { return m.sess.RoomState() }
