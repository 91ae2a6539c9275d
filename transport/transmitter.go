package transport

import (
	"context"
	"sync"

	log "github.com/schollz/logger"

	"github.com/ystepanoff/ultracomm/audio"
	"github.com/ystepanoff/ultracomm/modem"
	"github.com/ystepanoff/ultracomm/protocol"
)

// DefaultQueueCap bounds the background transmit queue.
const DefaultQueueCap = 8

type queued struct {
	datagram *protocol.Datagram
	chat     bool
}

// Transmitter encapsulates the transmit path: datagram -> frame bits ->
// PCM -> audio sink. At most one frame is in flight; foreground sends
// fail with ErrBusy while the slot is taken, background sends queue.
type Transmitter struct {
	driver audio.Driver

	mu     sync.Mutex
	gen    *modem.Generator
	volume float64
	busy   bool
	queue  []queued
	cap    int

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewTransmitter builds a Transmitter rendering with profile p at the
// driver's sample rate.
func NewTransmitter(driver audio.Driver, p modem.Profile) *Transmitter {
	return &Transmitter{
		driver: driver,
		gen:    modem.NewGenerator(p, driver.SampleRate()),
		volume: 0.8,
		cap:    DefaultQueueCap,
		wake:   make(chan struct{}, 1),
	}
}

// SetProfile swaps the FSK profile. Takes effect from the next frame.
func (t *Transmitter) SetProfile(p modem.Profile) {
	t.mu.Lock()
	t.gen = modem.NewGenerator(p, t.driver.SampleRate())
	t.mu.Unlock()
}

// SetVolume maps v in [0, 100] to linear amplitude.
func (t *Transmitter) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	t.mu.Lock()
	t.volume = float64(v) / 100
	t.mu.Unlock()
}

// Start launches the queue worker; it exits when ctx is cancelled.
func (t *Transmitter) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.loop(ctx)
}

// Wait blocks until the queue worker has exited.
func (t *Transmitter) Wait() { t.wg.Wait() }

// Send transmits a datagram in the foreground. It fails with ErrBusy if
// a prior transmit is unfinished and otherwise blocks until the sink has
// consumed the rendered buffer.
func (t *Transmitter) Send(d *protocol.Datagram) error {
	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return protocol.ErrBusy
	}
	t.busy = true
	t.mu.Unlock()

	err := t.transmit(d)

	t.mu.Lock()
	t.busy = false
	t.mu.Unlock()
	t.signal() // queued frames may proceed
	return err
}

// Enqueue queues a datagram for background transmission. When the queue
// is full the oldest non-chat frame is dropped first, then the oldest
// chat frame.
func (t *Transmitter) Enqueue(d *protocol.Datagram) {
	chat := d.Type == protocol.TypeChat

	t.mu.Lock()
	if len(t.queue) >= t.cap {
		dropped := false
		for i, q := range t.queue {
			if !q.chat {
				t.queue = append(t.queue[:i], t.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			t.queue = t.queue[1:]
		}
		log.Debug("transmit queue full, dropped oldest frame")
	}
	t.queue = append(t.queue, queued{datagram: d, chat: chat})
	t.mu.Unlock()
	t.signal()
}

// Drain discards every queued frame without playing it. An in-flight
// frame completes on its own.
func (t *Transmitter) Drain() {
	t.mu.Lock()
	t.queue = nil
	t.mu.Unlock()
}

// QueueLen reports the number of frames waiting behind the slot.
func (t *Transmitter) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Transmitter) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transmitter) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			t.mu.Lock()
			if t.busy || len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			item := t.queue[0]
			t.queue = t.queue[1:]
			t.busy = true
			t.mu.Unlock()

			if err := t.transmit(item.datagram); err != nil {
				log.Debugf("background transmit failed: %v", err)
			}

			t.mu.Lock()
			t.busy = false
			t.mu.Unlock()
		}
	}
}

// transmit renders and plays one frame. The caller holds the busy slot,
// so the generator is touched by one goroutine at a time.
func (t *Transmitter) transmit(d *protocol.Datagram) error {
	payload, err := protocol.EncodeDatagram(d)
	if err != nil {
		return err
	}
	bits, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	gen := t.gen
	volume := t.volume
	t.mu.Unlock()

	pcm := gen.Render(bits, volume)
	if err := t.driver.Play(pcm); err != nil {
		return protocol.ErrDeviceUnavailable
	}
	return nil
}
