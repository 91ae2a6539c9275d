// Package pulse implements the audio boundary for desktop hosts:
// playback through a PulseAudio sink, capture from a raw PCM stream such
// as `parec --format=float32le --channels=1` piped to stdin. Run the
// capture source with echo cancellation, noise suppression and AGC off.
package pulse

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"hz.tools/pulseaudio"

	"github.com/ystepanoff/ultracomm/protocol"
)

const pumpChunk = 1024 // samples per pump read

type speaker interface {
	Write(buf []float32) error
}

// Driver implements audio.Driver over a PulseAudio playback stream and a
// float32-LE capture reader. A pump goroutine owns the blocking stream
// read, so Read itself honours context cancellation.
type Driver struct {
	rate    int
	speaker speaker
	capture io.Reader

	chunks  chan []float32
	pending []float32
	quit    chan struct{}
	once    sync.Once
}

// New opens a PulseAudio playback stream at rate and wraps capture,
// which must yield mono float32 little-endian samples at the same rate.
func New(rate int, capture io.Reader) (*Driver, error) {
	w, err := pulseaudio.NewWriter(pulseaudio.Config{
		Format:     pulseaudio.SampleFormatFloat32NE,
		Rate:       uint(rate),
		AppName:    "ultracomm",
		StreamName: "tx",
		Channels:   1,
	})
	if err != nil {
		return nil, protocol.ErrDeviceUnavailable
	}
	d := &Driver{
		rate:    rate,
		speaker: w,
		capture: capture,
		chunks:  make(chan []float32, 8),
		quit:    make(chan struct{}),
	}
	go d.pump()
	return d, nil
}

// pump reads fixed chunks from the capture stream until it errors or the
// driver closes. The underlying stream read itself cannot be
// interrupted; a pump parked in it stays parked until the stream yields
// or is closed by its owner.
func (d *Driver) pump() {
	defer close(d.chunks)
	raw := make([]byte, pumpChunk*4)
	for {
		n, err := io.ReadFull(d.capture, raw)
		if n >= 4 {
			chunk := make([]float32, n/4)
			for i := range chunk {
				bits := binary.LittleEndian.Uint32(raw[i*4:])
				chunk[i] = math.Float32frombits(bits)
			}
			select {
			case d.chunks <- chunk:
			case <-d.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *Driver) SampleRate() int { return d.rate }

func (d *Driver) Play(buf []float32) error {
	return d.speaker.Write(buf)
}

func (d *Driver) Read(ctx context.Context, p []float32) (int, error) {
	if len(d.pending) == 0 {
		select {
		case chunk, ok := <-d.chunks:
			if !ok {
				return 0, io.EOF
			}
			d.pending = chunk
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Driver) Close() error {
	d.once.Do(func() { close(d.quit) })
	if c, ok := d.speaker.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
