// Package audio defines the platform audio boundary: a mono PCM capture
// and playback device. Echo cancellation, noise suppression and automatic
// gain control must be disabled on the capture side where the platform
// exposes the option; they gut the 17-20 kHz band the modem lives in.
package audio

import "context"

// Driver is the interface that wraps the basic audio device operations.
type Driver interface {
	// SampleRate reports the device's native rate in samples per second.
	SampleRate() int

	// Play writes a mono PCM buffer, samples in [-1, 1], and blocks
	// until the sink has consumed it.
	Play(buf []float32) error

	// Read blocks until capture samples are available and fills p,
	// returning the count. A blocked Read returns ctx.Err() as soon as
	// ctx is cancelled, without waiting for more samples; it returns an
	// error once the device is closed. Read is called from one
	// goroutine at a time.
	Read(ctx context.Context, p []float32) (int, error)

	// Close releases both directions of the device.
	Close() error
}
