package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/ultracomm/audio"
	"github.com/ystepanoff/ultracomm/audio/stub"
	"github.com/ystepanoff/ultracomm/modem"
	"github.com/ystepanoff/ultracomm/protocol"
)

// gatedDriver wraps the stub driver with a Play that blocks until
// released, for exercising the single-slot transmit lock.
type gatedDriver struct {
	*stub.Driver
	gate chan struct{}
}

func newGatedDriver(rate int) *gatedDriver {
	return &gatedDriver{Driver: stub.New(rate), gate: make(chan struct{})}
}

func (d *gatedDriver) Play(buf []float32) error {
	<-d.gate
	return d.Driver.Play(buf)
}

var _ audio.Driver = (*gatedDriver)(nil)

func bitWindowDetector(t *testing.T, rate int) *modem.Detector {
	t.Helper()
	d, err := modem.NewDetector(modem.DetectorConfig{
		Profile:    modem.ProfileHigh,
		SampleRate: rate,
		WindowSize: rate / modem.ProfileHigh.BitRate,
		// Tests inject whole frames at once; Feed drops bits when the
		// decoder lags, so the channel holds a burst of two full frames.
		ChannelDepth: 2 * protocol.MaxFrameBits,
	})
	require.NoError(t, err)
	return d
}

func TestLoopbackRoundTrip(t *testing.T) {
	rate := 48000
	driver := stub.New(rate)
	driver.SetLoopback(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := NewReceiver(driver, bitWindowDetector(t, rate))
	rx.Start(ctx)

	tx := NewTransmitter(driver, modem.ProfileHigh)
	want := &protocol.Datagram{
		Type:     protocol.TypeHeartbeat,
		UserID:   "abcd",
		Username: "Alice",
	}
	require.NoError(t, tx.Send(want))

	select {
	case got := <-rx.Datagrams():
		assert.Equal(t, protocol.TypeHeartbeat, got.Type)
		assert.Equal(t, "abcd", got.UserID)
		assert.Equal(t, "Alice", got.Username)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram did not arrive over loopback")
	}

	// Cancellation alone must unblock the capture read; no Close needed.
	cancel()
	rx.Wait()
}

func TestSendRendersOnce(t *testing.T) {
	driver := stub.New(48000)
	tx := NewTransmitter(driver, modem.ProfileHigh)

	d := &protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "abcd", Username: "A"}
	require.NoError(t, tx.Send(d))

	played := driver.PlayedLog()
	require.Len(t, played, 1)

	// 10 + L bytes, 8 bits each, 1200 samples per bit at 48 kHz.
	payload, err := protocol.EncodeDatagram(d)
	require.NoError(t, err)
	wantSamples := (protocol.FrameHeaderSize + len(payload) + protocol.ChecksumSize) * 8 * 1200
	assert.Len(t, played[0], wantSamples)
}

func TestSendBusy(t *testing.T) {
	driver := newGatedDriver(48000)
	tx := NewTransmitter(driver, modem.ProfileHigh)

	first := make(chan error, 1)
	go func() {
		first <- tx.Send(&protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "abcd", Username: "A"})
	}()

	// Wait until the first send has claimed the slot.
	require.Eventually(t, func() bool {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return tx.busy
	}, time.Second, time.Millisecond)

	err := tx.Send(&protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "efgh", Username: "B"})
	assert.ErrorIs(t, err, protocol.ErrBusy)

	close(driver.gate)
	assert.NoError(t, <-first)
}

func TestQueueDropPolicy(t *testing.T) {
	// No worker running: frames accumulate.
	tx := NewTransmitter(stub.New(48000), modem.ProfileHigh)

	heartbeat := func(id string) *protocol.Datagram {
		return &protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: id, Username: "x"}
	}
	chat := func(id string) *protocol.Datagram {
		return &protocol.Datagram{Type: protocol.TypeChat, MessageID: id, RoomID: "r1", FromUserID: "abcd", Content: "hi"}
	}

	for i := 0; i < DefaultQueueCap; i++ {
		tx.Enqueue(heartbeat("hb"))
	}
	tx.Enqueue(chat("m001"))
	assert.Equal(t, DefaultQueueCap, tx.QueueLen())

	// The chat frame survived; a heartbeat was dropped.
	tx.mu.Lock()
	chats := 0
	for _, q := range tx.queue {
		if q.chat {
			chats++
		}
	}
	tx.mu.Unlock()
	assert.Equal(t, 1, chats)

	// Fill with chat frames; the next overflow has no non-chat left and
	// drops the oldest chat.
	for i := 0; i < DefaultQueueCap; i++ {
		tx.Enqueue(chat("mfil"))
	}
	tx.mu.Lock()
	allChat := true
	for _, q := range tx.queue {
		if !q.chat {
			allChat = false
		}
	}
	qlen := len(tx.queue)
	tx.mu.Unlock()
	assert.True(t, allChat)
	assert.Equal(t, DefaultQueueCap, qlen)
}

func TestEnqueueWorkerDrains(t *testing.T) {
	driver := stub.New(48000)
	tx := NewTransmitter(driver, modem.ProfileHigh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tx.Start(ctx)

	tx.Enqueue(&protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "abcd", Username: "A"})
	tx.Enqueue(&protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "abcd", Username: "A"})

	require.Eventually(t, func() bool {
		return len(driver.PlayedLog()) == 2 && tx.QueueLen() == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	tx.Wait()
}

func TestDrain(t *testing.T) {
	tx := NewTransmitter(stub.New(48000), modem.ProfileHigh)
	tx.Enqueue(&protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "abcd", Username: "A"})
	tx.Enqueue(&protocol.Datagram{Type: protocol.TypeHeartbeat, UserID: "abcd", Username: "A"})
	require.Equal(t, 2, tx.QueueLen())
	tx.Drain()
	assert.Equal(t, 0, tx.QueueLen())
}

func TestCancelUnblocksIdleCapture(t *testing.T) {
	rate := 48000
	driver := stub.New(rate)

	ctx, cancel := context.WithCancel(context.Background())
	rx := NewReceiver(driver, bitWindowDetector(t, rate))
	rx.Start(ctx)

	// No audio was ever injected, so the capture goroutine is parked in
	// Read. Cancelling alone must stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		rx.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture goroutine did not exit on cancellation")
	}
}

func TestReceiverDropsMalformed(t *testing.T) {
	rate := 48000
	driver := stub.New(rate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := NewReceiver(driver, bitWindowDetector(t, rate))
	rx.Start(ctx)

	// A valid frame whose payload is not a valid datagram.
	bits, err := protocol.EncodeFrame([]byte("z|garbage"))
	require.NoError(t, err)
	gen := modem.NewGenerator(modem.ProfileHigh, rate)
	driver.InjectCapture(gen.Render(bits, 0.8))

	// Then a good one.
	goodBits, err := protocol.EncodeFrame([]byte("h|abcd|Alice|sygk40"))
	require.NoError(t, err)
	driver.InjectCapture(gen.Render(goodBits, 0.8))

	select {
	case got := <-rx.Datagrams():
		assert.Equal(t, protocol.TypeHeartbeat, got.Type)
		assert.Equal(t, "abcd", got.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid datagram did not arrive")
	}

	cancel()
	rx.Wait()
}
