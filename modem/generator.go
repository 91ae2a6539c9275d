package modem

import "math"

// Generator renders bit sequences as mono PCM at the configured sample
// rate. The caller owns playback pacing; Render is pure computation.
type Generator struct {
	Profile    Profile
	SampleRate int

	// Absolute sample index across renders. Phase is derived from it
	// rather than reset per bit, which keeps the waveform continuous at
	// bit boundaries and avoids splatter below 17 kHz.
	index int64
}

// NewGenerator returns a Generator for the given profile and rate.
func NewGenerator(p Profile, sampleRate int) *Generator {
	if sampleRate <= 0 {
		sampleRate = NominalSampleRate
	}
	return &Generator{Profile: p, SampleRate: sampleRate}
}

// Render produces ceil(len(bits) * rate / bitRate) samples of 2-FSK audio
// at volume v in [0, 1]. Played unaltered at the same rate, the buffer
// decodes back to bits under a Detector with the matching profile.
func (g *Generator) Render(bits []byte, volume float64) []float32 {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	samplesPerBit := float64(g.SampleRate) / float64(g.Profile.BitRate)
	total := int(math.Ceil(float64(len(bits)) * samplesPerBit))
	out := make([]float32, total)

	for i := 0; i < total; i++ {
		bit := int(float64(i) / samplesPerBit)
		if bit >= len(bits) {
			bit = len(bits) - 1
		}
		f := float64(g.Profile.F0)
		if bits[bit] != 0 {
			f = float64(g.Profile.F1)
		}
		t := float64(g.index+int64(i)) / float64(g.SampleRate)
		out[i] = float32(volume * math.Sin(2*math.Pi*f*t))
	}

	g.index += int64(total)
	return out
}

// Duration returns the number of seconds Render output spans for n bits.
func (g *Generator) Duration(n int) float64 {
	return float64(n) / float64(g.Profile.BitRate)
}
