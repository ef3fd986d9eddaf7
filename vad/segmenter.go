package vad

import "math"

const frameMs = 20

type EventKind int

const (
	SpeechStart EventKind = iota
	SpeechEnd
	Misfire
)

func (k EventKind) String() string {
	switch k {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	case Misfire:
		return "misfire"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Samples []float32 // SpeechEnd only
	Frames  int
	PeakRMS float64
}

// segmenter turns a PCM16 stream into speech segments. It uses hysteresis
// between two RMS thresholds: PositiveThreshold to enter speech and
// NegativeThreshold to count toward the end of it.
type segmenter struct {
	opts Options

	partial []byte
	pre     [][]float32
	speech  []float32

	inSpeech     bool
	startRun     int
	silenceRun   int
	speechFrames int
	peak         float64
}

func newSegmenter(opts Options) *segmenter {
	return &segmenter{opts: opts}
}

func (s *segmenter) frameBytes() int {
	return s.opts.SampleRate * frameMs / 1000 * 2
}

// Process consumes little-endian PCM16 bytes and returns the events completed
// by them. Bytes that do not fill a whole frame are kept for the next call.
func (s *segmenter) Process(data []byte) []Event {
	s.partial = append(s.partial, data...)
	size := s.frameBytes()

	var events []Event
	for len(s.partial) >= size {
		frame := decodeFrame(s.partial[:size])
		s.partial = s.partial[size:]
		if ev, ok := s.frame(frame); ok {
			events = append(events, ev)
		}
	}
	// Compact so the backing array does not grow with the stream.
	s.partial = append(s.partial[:0:0], s.partial...)
	return events
}

func (s *segmenter) frame(frame []float32) (Event, bool) {
	level := rms(frame)

	if !s.inSpeech {
		s.pre = append(s.pre, frame)
		if keep := s.opts.PreSpeechPadFrames + s.opts.StartFrames; len(s.pre) > keep {
			s.pre = s.pre[len(s.pre)-keep:]
		}
		if level < s.opts.PositiveThreshold {
			s.startRun = 0
			return Event{}, false
		}
		s.startRun++
		if s.startRun < s.opts.StartFrames {
			return Event{}, false
		}

		s.inSpeech = true
		s.speech = s.speech[:0]
		for _, f := range s.pre {
			s.speech = append(s.speech, f...)
		}
		s.pre = s.pre[:0]
		s.speechFrames = s.startRun
		s.startRun = 0
		s.silenceRun = 0
		s.peak = level
		return Event{Kind: SpeechStart, Frames: s.speechFrames, PeakRMS: level}, true
	}

	s.speech = append(s.speech, frame...)
	s.peak = max(s.peak, level)
	switch {
	case level < s.opts.NegativeThreshold:
		s.silenceRun++
	case level >= s.opts.PositiveThreshold:
		s.silenceRun = 0
		s.speechFrames++
	default:
		s.silenceRun = 0
	}
	if s.silenceRun < s.opts.RedemptionFrames {
		return Event{}, false
	}

	ev := Event{Kind: SpeechEnd, Frames: s.speechFrames, PeakRMS: s.peak}
	if s.speechFrames < s.opts.MinSpeechFrames {
		ev.Kind = Misfire
	} else {
		ev.Samples = append([]float32(nil), s.speech...)
	}
	s.inSpeech = false
	s.speech = s.speech[:0]
	s.silenceRun = 0
	s.speechFrames = 0
	s.peak = 0
	return ev, true
}

// Reset drops any partial frame and in-progress segment.
func (s *segmenter) Reset() {
	s.partial = nil
	s.pre = nil
	s.speech = nil
	s.inSpeech = false
	s.startRun = 0
	s.silenceRun = 0
	s.speechFrames = 0
	s.peak = 0
}

func decodeFrame(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(uint16(b[i*2])|uint16(b[i*2+1])<<8)) / 32768.0
	}
	return out
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
