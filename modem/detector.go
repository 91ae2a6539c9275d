package modem

import (
	"time"

	log "github.com/schollz/logger"
	"hz.tools/sdr/fft"
)

// Bit is one demodulated bit event.
type Bit struct {
	Value    byte
	Strength float64
	At       time.Time
}

// DetectorConfig defines how microphone samples are turned into bits.
type DetectorConfig struct {
	Profile    Profile
	SampleRate int

	// WindowSize is the evaluation window in samples. Defaults to 4096.
	WindowSize int

	// HopSize is the stride between evaluations. The window keeps the
	// last WindowSize-HopSize samples, so a stride shorter than one bit
	// re-sees the same tone; duplicate suppression below absorbs that.
	// Defaults to WindowSize.
	HopSize int

	// Threshold is the minimum linear carrier magnitude for a bit
	// decision on the Goertzel path. Defaults to 0.01.
	Threshold float64

	// Planner switches the detector to the FFT fallback path: energies
	// are read from the magnitude spectrum bins nearest the carriers
	// instead of Goertzel estimates. hz.tools/fftw's Plan satisfies it.
	Planner fft.Planner

	// SpectrumThreshold is the fallback path's own decision threshold.
	// The two paths measure in different scales and are tuned
	// independently. Defaults to 0.001.
	SpectrumThreshold float64

	// ChannelDepth bounds the bit event channel. Defaults to 256.
	ChannelDepth int
}

// Detector consumes PCM frames and emits time-stamped bit events. Feed
// runs on the capture goroutine and never blocks: if the consumer falls
// behind, bits are dropped, which the frame codec's resynchronisation is
// built to absorb.
//
// Bit timestamps advance on the sample clock, not the wall clock, so the
// stream stays consistent however capture frames are batched.
type Detector struct {
	cfg      DetectorConfig
	window   []float32
	fill     int
	samples  int64 // total samples consumed
	epoch    time.Time
	lastBit  time.Time
	haveLast bool
	bits     chan Bit
	spectrum *spectrumAnalyser
}

// NewDetector validates cfg, fills defaults, and prepares the FFT plan
// when a Planner is configured.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = NominalSampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 4096
	}
	if cfg.HopSize <= 0 || cfg.HopSize > cfg.WindowSize {
		cfg.HopSize = cfg.WindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.01
	}
	if cfg.SpectrumThreshold <= 0 {
		cfg.SpectrumThreshold = 0.001
	}
	if cfg.ChannelDepth <= 0 {
		cfg.ChannelDepth = 256
	}

	d := &Detector{
		cfg:    cfg,
		window: make([]float32, cfg.WindowSize),
		bits:   make(chan Bit, cfg.ChannelDepth),
		epoch:  time.Now(),
	}

	if cfg.Planner != nil {
		sa, err := newSpectrumAnalyser(cfg.Planner, cfg.WindowSize, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		d.spectrum = sa
	}
	return d, nil
}

// Bits returns the bit event channel.
func (d *Detector) Bits() <-chan Bit { return d.bits }

// Feed appends captured samples, evaluating the detector each time the
// window fills and sliding it by HopSize.
func (d *Detector) Feed(samples []float32) {
	for len(samples) > 0 {
		n := copy(d.window[d.fill:], samples)
		d.fill += n
		d.samples += int64(n)
		samples = samples[n:]
		if d.fill == len(d.window) {
			d.evaluate()
			keep := len(d.window) - d.cfg.HopSize
			copy(d.window, d.window[d.cfg.HopSize:])
			d.fill = keep
		}
	}
}

// at converts the current sample position to a timestamp.
func (d *Detector) at() time.Time {
	offset := float64(d.samples) / float64(d.cfg.SampleRate)
	return d.epoch.Add(time.Duration(offset * float64(time.Second)))
}

func (d *Detector) evaluate() {
	var e0, e1, threshold float64
	if d.spectrum != nil {
		var err error
		e0, e1, err = d.spectrum.energies(d.window, float64(d.cfg.Profile.F0), float64(d.cfg.Profile.F1))
		if err != nil {
			log.Debugf("spectrum transform failed: %v", err)
			return
		}
		threshold = d.cfg.SpectrumThreshold
	} else {
		e0 = Goertzel(d.window, d.cfg.SampleRate, float64(d.cfg.Profile.F0))
		e1 = Goertzel(d.window, d.cfg.SampleRate, float64(d.cfg.Profile.F1))
		threshold = d.cfg.Threshold
	}

	strength := e0
	if e1 > strength {
		strength = e1
	}
	if strength <= threshold {
		return
	}
	if e0 == e1 {
		return // ambiguous, treat as noise
	}

	now := d.at()
	minGap := time.Duration(0.8 / float64(d.cfg.Profile.BitRate) * float64(time.Second))
	if d.haveLast && now.Sub(d.lastBit) < minGap {
		return // same tone seen again before a full bit elapsed
	}
	d.lastBit = now
	d.haveLast = true

	var value byte
	if e1 > e0 {
		value = 1
	}

	select {
	case d.bits <- Bit{Value: value, Strength: strength, At: now}:
	default:
		log.Debug("bit channel full, dropping bit")
	}
}
