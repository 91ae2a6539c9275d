package ultracomm

import (
	"io"

	"github.com/ystepanoff/ultracomm/audio/pulse"
	"github.com/ystepanoff/ultracomm/audio/stub"
	"github.com/ystepanoff/ultracomm/modem"
)

// NewLoopback returns a Messenger wired to the in-memory stub driver
// with playback echoed into capture, for development and testing without
// hardware. The driver is returned so tests can inject audio and inspect
// what was played.
func NewLoopback(cfg Config) (*Messenger, *stub.Driver, error) {
	driver := stub.New(modem.NominalSampleRate)
	driver.SetLoopback(true)
	m, err := New(driver, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, driver, nil
}

// NewPulse returns a Messenger playing through PulseAudio and capturing
// from a raw mono float32-LE PCM stream at the given rate, e.g.
//
//	parec --format=float32le --channels=1 --rate=48000 | ultracomm
//
// Disable echo cancellation, noise suppression and AGC on the source;
// they destroy the ultrasonic band.
func NewPulse(rate int, capture io.Reader, cfg Config) (*Messenger, error) {
	driver, err := pulse.New(rate, capture)
	if err != nil {
		return nil, err
	}
	return New(driver, cfg)
}
