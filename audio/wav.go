package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const pcmFormat = 1 // WAVE_FORMAT_PCM

var ErrInvalidWAV = errors.New("not a valid WAV stream")

// Clip is decoded PCM16 audio with interleaved channels.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Frames()) / float64(c.SampleRate) * float64(time.Second))
}

// EncodeWAV renders mono float samples in [-1, 1] as a PCM16 WAV stream.
// Input whose peak exceeds 1.0 is scaled down to fit first.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	pcm := Float32ToPCM16(samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, sampleRate, BitsPerSample, Channels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: BitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav encode: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeWAV parses a PCM WAV stream of 8, 16, 24 or 32 bits into PCM16.
func DecodeWAV(data []byte) (*Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if d.WavAudioFormat != pcmFormat {
		return nil, fmt.Errorf("unsupported WAV format %d", d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav decode: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, ErrInvalidWAV
	}

	shift := int(d.BitDepth) - BitsPerSample
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case d.BitDepth == 8:
			samples[i] = int16((v - 128) << 8)
		case shift > 0:
			samples[i] = int16(v >> shift)
		default:
			samples[i] = int16(v)
		}
	}
	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func Float32ToPCM16(samples []float32) []int16 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	scale := 1.0
	if peak > 1.0 {
		scale = 1.0 / peak
	}

	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * scale * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(math.Round(v))
	}
	return out
}

func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("memfile: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("memfile: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memFile) Bytes() []byte { return m.buf }
