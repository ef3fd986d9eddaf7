package vad

import (
	"errors"
	"math"
	"testing"
	"time"

	"parley/audio"
)

const samplesPerFrame = audio.SampleRate * frameMs / 1000

func tone(frames int, amp float64) []byte {
	n := frames * samplesPerFrame
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return audio.PCM16Bytes(pcm)
}

func silence(frames int) []byte {
	return make([]byte, frames*samplesPerFrame*2)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func equalKinds(a, b []EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSegmenterSilence(t *testing.T) {
	s := newSegmenter(DefaultOptions())
	if events := s.Process(silence(200)); len(events) != 0 {
		t.Errorf("got %v on silence, want none", kinds(events))
	}
}

func TestSegmenterStartDebounce(t *testing.T) {
	s := newSegmenter(DefaultOptions())
	if events := s.Process(tone(2, 0.3)); len(events) != 0 {
		t.Fatalf("started after 2 frames: %v", kinds(events))
	}
	events := s.Process(tone(1, 0.3))
	if !equalKinds(kinds(events), []EventKind{SpeechStart}) {
		t.Errorf("got %v, want [speech_start]", kinds(events))
	}
}

func TestSegmenterUtterance(t *testing.T) {
	opts := DefaultOptions()
	s := newSegmenter(opts)

	events := s.Process(concat(silence(15), tone(20, 0.3), silence(opts.RedemptionFrames)))
	if !equalKinds(kinds(events), []EventKind{SpeechStart, SpeechEnd}) {
		t.Fatalf("got %v, want [speech_start speech_end]", kinds(events))
	}

	end := events[1]
	// pre-speech pad + 20 speech frames + redemption tail
	wantFrames := opts.PreSpeechPadFrames + 20 + opts.RedemptionFrames
	if got := len(end.Samples); got != wantFrames*samplesPerFrame {
		t.Errorf("segment has %d samples, want %d", got, wantFrames*samplesPerFrame)
	}
	if end.Frames != 20 {
		t.Errorf("speech frames = %d, want 20", end.Frames)
	}
}

func TestSegmenterMisfire(t *testing.T) {
	opts := DefaultOptions()
	s := newSegmenter(opts)

	events := s.Process(concat(tone(5, 0.3), silence(opts.RedemptionFrames)))
	if !equalKinds(kinds(events), []EventKind{SpeechStart, Misfire}) {
		t.Fatalf("got %v, want [speech_start misfire]", kinds(events))
	}
	if events[1].Samples != nil {
		t.Error("misfire should not carry samples")
	}
}

func TestSegmenterHangover(t *testing.T) {
	opts := DefaultOptions()
	s := newSegmenter(opts)

	// A pause shorter than the redemption window does not split the segment.
	stream := concat(tone(15, 0.3), silence(opts.RedemptionFrames-1), tone(15, 0.3), silence(opts.RedemptionFrames))
	events := s.Process(stream)
	if !equalKinds(kinds(events), []EventKind{SpeechStart, SpeechEnd}) {
		t.Fatalf("got %v, want one segment", kinds(events))
	}
}

func TestSegmenterChunking(t *testing.T) {
	opts := DefaultOptions()
	stream := concat(silence(5), tone(20, 0.3), silence(opts.RedemptionFrames))

	whole := newSegmenter(opts).Process(stream)

	s := newSegmenter(opts)
	var pieces []Event
	for pos := 0; pos < len(stream); pos += 333 {
		pieces = append(pieces, s.Process(stream[pos:min(pos+333, len(stream))])...)
	}

	if !equalKinds(kinds(whole), kinds(pieces)) {
		t.Fatalf("chunked %v != whole %v", kinds(pieces), kinds(whole))
	}
	if len(whole[1].Samples) != len(pieces[1].Samples) {
		t.Errorf("chunked segment %d samples, whole %d", len(pieces[1].Samples), len(whole[1].Samples))
	}
}

func TestSegmenterReset(t *testing.T) {
	opts := DefaultOptions()
	s := newSegmenter(opts)
	s.Process(tone(10, 0.3))
	s.Reset()

	if events := s.Process(silence(opts.RedemptionFrames * 2)); len(events) != 0 {
		t.Errorf("got %v after reset, want none", kinds(events))
	}
}

func TestFramesFor(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{600 * time.Millisecond, 30},
		{610 * time.Millisecond, 31},
		{20 * time.Millisecond, 1},
		{0, 0},
	}
	for _, c := range cases {
		if got := FramesFor(c.d); got != c.want {
			t.Errorf("FramesFor(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	bad := DefaultOptions()
	bad.NegativeThreshold = 0.5
	if err := bad.validate(); err == nil {
		t.Error("expected error for negative > positive threshold")
	}
	if err := DefaultOptions().validate(); err != nil {
		t.Errorf("default options invalid: %v", err)
	}
}

type recorder struct {
	starts, ends, misfires int
	lastLen                int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnSpeechStart: func() { r.starts++ },
		OnSpeechEnd:   func(s []float32) { r.ends++; r.lastLen = len(s) },
		OnMisfire:     func() { r.misfires++ },
	}
}

func newTestDetector(t *testing.T) (*Detector, *audio.FakeCapture, *recorder) {
	t.Helper()
	fc := audio.NewFakeContext()
	capture, err := fc.NewCapture(nil, audio.DefaultCaptureConfig())
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	d, err := New(capture, DefaultOptions(), rec.handlers())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return d, fc.Capture(), rec
}

func TestDetectorOpensMicPaused(t *testing.T) {
	d, capture, rec := newTestDetector(t)

	if !capture.Running() {
		t.Error("microphone should be open after New")
	}
	if d.Active() {
		t.Error("detector should start paused")
	}
	capture.Feed(concat(tone(20, 0.3), silence(30)))
	if rec.starts != 0 || rec.ends != 0 {
		t.Errorf("paused detector produced events: %+v", rec)
	}
}

func TestDetectorStartIdempotent(t *testing.T) {
	d, capture, rec := newTestDetector(t)

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	capture.Feed(tone(5, 0.3))
	// a second Start must not reset the open segment
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	capture.Feed(concat(tone(15, 0.3), silence(30)))

	if rec.starts != 1 || rec.ends != 1 {
		t.Errorf("starts=%d ends=%d, want 1 and 1", rec.starts, rec.ends)
	}
	if capture.Starts() != 1 {
		t.Errorf("microphone started %d times, want 1", capture.Starts())
	}
}

func TestDetectorPauseDiscardsSegment(t *testing.T) {
	d, capture, rec := newTestDetector(t)

	d.Start()
	capture.Feed(tone(15, 0.3))
	d.Pause()
	capture.Feed(silence(30))
	d.Start()
	capture.Feed(silence(30))

	if rec.starts != 1 {
		t.Errorf("starts = %d, want 1", rec.starts)
	}
	if rec.ends != 0 || rec.misfires != 0 {
		t.Errorf("paused segment completed: ends=%d misfires=%d", rec.ends, rec.misfires)
	}
}

func TestDetectorMisfire(t *testing.T) {
	d, capture, rec := newTestDetector(t)

	d.Start()
	capture.Feed(concat(tone(4, 0.3), silence(30)))

	if rec.misfires != 1 || rec.ends != 0 {
		t.Errorf("misfires=%d ends=%d, want 1 and 0", rec.misfires, rec.ends)
	}
}

type brokenCapture struct{ audio.FakeCapture }

func (b *brokenCapture) Start() error { return errors.New("permission denied") }

func TestNewFailsWithoutMicrophone(t *testing.T) {
	_, err := New(&brokenCapture{}, DefaultOptions(), Handlers{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyzeRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"negative above positive", func(o *Options) { o.NegativeThreshold = 1 }},
		{"zero sample rate", func(o *Options) { o.SampleRate = 0 }},
		{"negative sample rate", func(o *Options) { o.SampleRate = -16000 }},
		{"rate below one sample per frame", func(o *Options) { o.SampleRate = 49 }},
		{"zero redemption", func(o *Options) { o.RedemptionFrames = 0 }},
	}
	pcm := make([]byte, 4096)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			if _, err := Analyze(pcm, opts); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	opts := DefaultOptions()
	opts.SampleRate = 50
	if _, err := Analyze(pcm, opts); err != nil {
		t.Errorf("one sample per frame: %v", err)
	}
}
