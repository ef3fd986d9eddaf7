package audio

// Resample converts interleaved samples between rates by linear
// interpolation. Channel layout is preserved.
func Resample(samples []int16, channels, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || channels <= 0 || len(samples) == 0 {
		return samples
	}
	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]int16, outFrames*channels)
	step := float64(from) / float64(to)
	for i := range outFrames {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		for ch := range channels {
			a := float64(samples[j*channels+ch])
			b := a
			if j+1 < inFrames {
				b = float64(samples[(j+1)*channels+ch])
			}
			out[i*channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// ToStereo duplicates mono samples into both channels. Stereo input is
// returned unchanged.
func ToStereo(samples []int16, channels int) []int16 {
	if channels != 1 {
		return samples
	}
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// PCM16Bytes encodes samples as little-endian bytes.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// PCM16FromBytes decodes little-endian bytes; a trailing odd byte is ignored.
func PCM16FromBytes(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}
