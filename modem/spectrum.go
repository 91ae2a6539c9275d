package modem

import (
	"math"
	"math/cmplx"

	"hz.tools/sdr"
	"hz.tools/sdr/fft"
)

// spectrumAnalyser implements the detector's fallback path: instead of
// Goertzel estimates it transforms the whole window and reads the
// magnitude bins nearest the two carriers. The real-valued PCM window is
// loaded into the I channel of the IQ buffer.
type spectrumAnalyser struct {
	iq   sdr.SamplesC64
	freq []complex64
	plan fft.Plan
	rate int
}

func newSpectrumAnalyser(planner fft.Planner, windowSize, sampleRate int) (*spectrumAnalyser, error) {
	s := &spectrumAnalyser{
		iq:   make(sdr.SamplesC64, windowSize),
		freq: make([]complex64, windowSize),
		rate: sampleRate,
	}
	plan, err := planner(s.iq, s.freq, fft.Forward)
	if err != nil {
		return nil, err
	}
	s.plan = plan
	return s, nil
}

func (s *spectrumAnalyser) energies(window []float32, f0, f1 float64) (float64, float64, error) {
	for i := range s.iq {
		s.iq[i] = complex(window[i], 0)
	}
	if err := s.plan.Transform(); err != nil {
		return 0, 0, err
	}
	return s.magnitude(f0), s.magnitude(f1), nil
}

// magnitude reads the normalised magnitude of the bin nearest f.
func (s *spectrumAnalyser) magnitude(f float64) float64 {
	n := len(s.freq)
	k := int(math.Round(f * float64(n) / float64(s.rate)))
	if k < 0 {
		k = 0
	}
	if k >= n {
		k = n - 1
	}
	return cmplx.Abs(complex128(s.freq[k])) / float64(n)
}
