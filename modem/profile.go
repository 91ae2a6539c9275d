package modem

import "hz.tools/rf"

// Profile selects the 2-FSK carrier pair and bit rate. Both carriers sit
// in the 17-20 kHz band, inaudible to most adults but well inside what
// commodity speakers and microphones reproduce.
type Profile struct {
	Name    string
	F0      rf.Hz // carrier for a 0 bit
	F1      rf.Hz // carrier for a 1 bit
	BitRate int   // bits per second
}

var (
	// ProfileHigh trades robustness for speed.
	ProfileHigh = Profile{Name: "high", F0: 18700 * rf.Hz(1), F1: 19300 * rf.Hz(1), BitRate: 40}

	// ProfileLow is slower but survives worse acoustics.
	ProfileLow = Profile{Name: "low", F0: 17500 * rf.Hz(1), F1: 18100 * rf.Hz(1), BitRate: 10}
)

// ProfileByName maps the configuration surface ("high"/"low") to a
// profile. Unknown names fall back to ProfileHigh.
func ProfileByName(name string) Profile {
	if name == ProfileLow.Name {
		return ProfileLow
	}
	return ProfileHigh
}

// NominalSampleRate is assumed when the capture device does not report
// one. The implementation accepts whatever rate the device supplies.
const NominalSampleRate = 48000
