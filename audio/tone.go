package audio

import "math"

// Tone renders a mono sine tick with an exponential decay envelope, as
// float samples ready for EncodeWAV.
func Tone(sampleRate int, freq, seconds, volume, decay float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(math.Sin(2*math.Pi*freq*t) * volume * math.Exp(-t*decay))
	}
	return out
}

// TestTone is the short chime used to check the output device.
func TestTone() ([]byte, error) {
	chime := append(Tone(SampleRate, 880, 0.25, 0.4, 6), Tone(SampleRate, 1320, 0.35, 0.4, 6)...)
	return EncodeWAV(chime, SampleRate)
}
