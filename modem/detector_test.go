package modem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainBits(d *Detector) []Bit {
	var out []Bit
	for {
		select {
		case b := <-d.Bits():
			out = append(out, b)
		default:
			return out
		}
	}
}

func pureTone(f float64, rate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * f * float64(i) / float64(rate)))
	}
	return out
}

func TestDetectorPureToneStability(t *testing.T) {
	// A full-scale carrier at f0 must decode to only 0 bits, and f1 to
	// only 1 bits.
	tests := []struct {
		name string
		f    float64
		want byte
	}{
		{name: "f0", f: float64(ProfileHigh.F0), want: 0},
		{name: "f1", f: float64(ProfileHigh.F1), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDetector(DetectorConfig{Profile: ProfileHigh, SampleRate: 48000})
			require.NoError(t, err)

			d.Feed(pureTone(tt.f, 48000, 4096*4))
			bits := drainBits(d)
			require.NotEmpty(t, bits)
			for _, b := range bits {
				assert.Equal(t, tt.want, b.Value)
				assert.Greater(t, b.Strength, 0.01)
			}
		})
	}
}

func TestDetectorSilence(t *testing.T) {
	d, err := NewDetector(DetectorConfig{Profile: ProfileHigh, SampleRate: 48000})
	require.NoError(t, err)

	d.Feed(make([]float32, 4096*4))
	assert.Empty(t, drainBits(d))

	// Low-level wideband-ish noise below the threshold stays silent too.
	noise := make([]float32, 4096*2)
	for i := range noise {
		noise[i] = float32(0.001 * math.Sin(0.1*float64(i)))
	}
	d.Feed(noise)
	assert.Empty(t, drainBits(d))
}

func TestDetectorDuplicateSuppression(t *testing.T) {
	// Half-bit windows re-see each tone; the second sighting within
	// 0.8 of a bit time must be suppressed.
	d, err := NewDetector(DetectorConfig{
		Profile:    ProfileHigh,
		SampleRate: 48000,
		WindowSize: 600, // half of the 1200-sample bit at 40 bit/s
	})
	require.NoError(t, err)

	// One bit of carrier: two windows, one event.
	d.Feed(pureTone(float64(ProfileHigh.F1), 48000, 1200))
	bits := drainBits(d)
	require.Len(t, bits, 1)
	assert.Equal(t, byte(1), bits[0].Value)
}

func TestDetectorRoundTrip(t *testing.T) {
	// Generator output must decode back to the source bits when the
	// window spans exactly one bit.
	rate := 48000
	g := NewGenerator(ProfileHigh, rate)
	d, err := NewDetector(DetectorConfig{
		Profile:    ProfileHigh,
		SampleRate: rate,
		WindowSize: rate / ProfileHigh.BitRate,
	})
	require.NoError(t, err)

	source := []byte{1, 0, 1, 0, 1, 1, 0, 1, 0, 0, 1, 1, 1, 0, 1, 0}
	pcm := g.Render(source, 0.8)

	// Deliver in capture-sized chunks, as the audio device would.
	for off := 0; off < len(pcm); off += 512 {
		end := off + 512
		if end > len(pcm) {
			end = len(pcm)
		}
		d.Feed(pcm[off:end])
	}

	bits := drainBits(d)
	require.Len(t, bits, len(source))
	for i, b := range bits {
		assert.Equal(t, source[i], b.Value, "bit %d", i)
	}

	// Timestamps advance monotonically on the sample clock.
	for i := 1; i < len(bits); i++ {
		assert.True(t, bits[i].At.After(bits[i-1].At))
	}
}

func TestGoertzelSelectivity(t *testing.T) {
	window := pureTone(float64(ProfileHigh.F0), 48000, 4096)
	e0 := Goertzel(window, 48000, float64(ProfileHigh.F0))
	e1 := Goertzel(window, 48000, float64(ProfileHigh.F1))
	assert.Greater(t, e0, 10*e1)
	assert.Greater(t, e0, 0.1)
}
