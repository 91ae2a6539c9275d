package transport

import (
	"context"
	"sync"

	log "github.com/schollz/logger"

	"github.com/ystepanoff/ultracomm/audio"
	"github.com/ystepanoff/ultracomm/modem"
	"github.com/ystepanoff/ultracomm/protocol"
)

// Receiver encapsulates the receive path: audio capture -> tone detector
// -> frame codec -> datagrams, delivered in the arrival order of their
// first bit.
type Receiver struct {
	driver   audio.Driver
	detector *modem.Detector
	decoder  *protocol.Decoder
	out      chan *protocol.Datagram

	wg sync.WaitGroup
}

// NewReceiver wires a detector to the capture side of driver.
func NewReceiver(driver audio.Driver, detector *modem.Detector) *Receiver {
	return &Receiver{
		driver:   driver,
		detector: detector,
		decoder:  protocol.NewDecoder(),
		out:      make(chan *protocol.Datagram, 16),
	}
}

// Datagrams returns the channel of decoded, well-formed datagrams.
func (r *Receiver) Datagrams() <-chan *protocol.Datagram { return r.out }

// Start launches the capture and decode goroutines. Cancelling ctx
// returns a capture read in progress immediately, so the device is
// released without waiting for more samples; the decode loop drains the
// detector's bit channel.
func (r *Receiver) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.captureLoop(ctx)
	go r.decodeLoop(ctx)
}

// Wait blocks until both goroutines have exited.
func (r *Receiver) Wait() { r.wg.Wait() }

func (r *Receiver) captureLoop(ctx context.Context) {
	defer r.wg.Done()
	buf := make([]float32, 1024)
	for {
		n, err := r.driver.Read(ctx, buf)
		if err != nil {
			if ctx.Err() == nil {
				log.Debugf("capture read failed: %v", err)
			}
			return
		}
		r.detector.Feed(buf[:n])
	}
}

func (r *Receiver) decodeLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case bit := <-r.detector.Bits():
			for _, frame := range r.decoder.Push(bit.Value) {
				r.deliver(ctx, frame)
			}
		}
	}
}

func (r *Receiver) deliver(ctx context.Context, frame protocol.Frame) {
	d, err := protocol.DecodeDatagram(frame.Payload)
	if err != nil {
		// The channel is lossy by design; a malformed payload is
		// dropped with a diagnostic only.
		log.Debugf("dropping malformed datagram: %q", frame.Payload)
		return
	}
	select {
	case r.out <- d:
	case <-ctx.Done():
	}
}
