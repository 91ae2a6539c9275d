// Package stub implements an in-memory audio driver for host-side
// testing. Captured PCM is injected by the test; played PCM is logged
// and, in loopback mode, fed straight back into capture so a full
// transmit/receive chain can run without hardware.
package stub

import (
	"context"
	"errors"
	"sync"
)

var errClosed = errors.New("stub driver closed")

// Driver implements audio.Driver backed by in-memory ring buffers.
type Driver struct {
	mu       sync.Mutex
	cond     *sync.Cond
	rate     int
	capture  ringBuffer
	played   ringBuffer
	pending  []float32 // remainder of the chunk Read is consuming
	loopback bool
	closed   bool
}

// New returns a stub driver reporting the given sample rate.
func New(rate int) *Driver {
	d := &Driver{rate: rate}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Driver) SampleRate() int { return d.rate }

// SetLoopback routes played audio back into capture.
func (d *Driver) SetLoopback(on bool) {
	d.mu.Lock()
	d.loopback = on
	d.mu.Unlock()
}

func (d *Driver) Play(buf []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	chunk := make([]float32, len(buf))
	copy(chunk, buf)
	d.played.push(chunk)
	if d.loopback {
		echo := make([]float32, len(buf))
		copy(echo, buf)
		d.capture.push(echo)
		d.cond.Broadcast()
	}
	return nil
}

func (d *Driver) Read(ctx context.Context, p []float32) (int, error) {
	// Wake a blocked Wait when the context ends. The callback takes the
	// mutex so the broadcast cannot slip between the waiter's ctx check
	// and its Wait.
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if len(d.pending) == 0 {
			if chunk, ok := d.capture.pop(); ok {
				d.pending = chunk
			}
		}
		if len(d.pending) > 0 {
			n := copy(p, d.pending)
			d.pending = d.pending[n:]
			return n, nil
		}
		if d.closed {
			return 0, errClosed
		}
		d.cond.Wait()
	}
}

func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}

// InjectCapture queues PCM for Read to return, as if the microphone had
// heard it.
func (d *Driver) InjectCapture(pcm []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chunk := make([]float32, len(pcm))
	copy(chunk, pcm)
	d.capture.push(chunk)
	d.cond.Broadcast()
}

// PlayedLog returns a copy of every buffer passed to Play.
func (d *Driver) PlayedLog() [][]float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.played.snapshot()
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity][]float32
	head, tail int // head = next pop, tail = next push
	count      int
}

func (rb *ringBuffer) push(chunk []float32) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = chunk
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() ([]float32, bool) {
	if rb.count == 0 {
		return nil, false
	}
	chunk := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return chunk, true
}

func (rb *ringBuffer) snapshot() [][]float32 {
	out := make([][]float32, rb.count)
	idx := 0
	i := rb.head
	for c := 0; c < rb.count; c++ {
		p := rb.data[i]
		cp := make([]float32, len(p))
		copy(cp, p)
		out[idx] = cp
		idx++
		i = (i + 1) % ringCapacity
	}
	return out
}
