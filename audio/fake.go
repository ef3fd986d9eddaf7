package audio

import (
	"context"
	"os"
	"sync"
)

// FakeContext serves a single FakeCapture and FakePlayer so tests and the
// doctor can run without a sound server.
type FakeContext struct {
	capture *FakeCapture
	player  *FakePlayer
	devices []DeviceInfo
}

func NewFakeContext(devices ...DeviceInfo) *FakeContext {
	return &FakeContext{
		capture: &FakeCapture{},
		player:  NewFakePlayer(),
		devices: devices,
	}
}

// NewFakeContextFromFile loads a WAV file whose samples can be pushed
// through the capture with FeedAll.
func NewFakeContextFromFile(wavPath string) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	f := NewFakeContext()
	f.capture.pcm = PCM16Bytes(clip.Samples)
	return f, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return f.devices, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return f.capture, nil
}

func (f *FakeContext) NewPlayer() (Player, error) { return f.player, nil }

func (f *FakeContext) Capture() *FakeCapture { return f.capture }
func (f *FakeContext) Player() *FakePlayer   { return f.player }

type FakeCapture struct {
	pcm []byte

	mu      sync.Mutex
	cb      DataCallback
	started bool
	starts  int
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		f.started = true
		f.starts++
	}
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *FakeCapture) Close() { f.Stop() }

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Starts reports how many times the device went from stopped to running.
func (f *FakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Feed delivers one chunk of PCM16 to the callback if the device is running.
func (f *FakeCapture) Feed(data []byte) {
	f.mu.Lock()
	cb, running := f.cb, f.started
	f.mu.Unlock()
	if cb != nil && running {
		cb(data, uint32(len(data)/2))
	}
}

// FeedAll pushes the loaded file through in chunkBytes pieces.
func (f *FakeCapture) FeedAll(chunkBytes int) {
	for pos := 0; pos < len(f.pcm); pos += chunkBytes {
		f.Feed(f.pcm[pos:min(pos+chunkBytes, len(f.pcm))])
	}
}

// FakePlayer records clips. By default Play returns immediately; after Hold,
// each Play blocks until Finish or cancellation.
type FakePlayer struct {
	mu      sync.Mutex
	clips   [][]byte
	err     error
	hold    bool
	release chan struct{}
	started chan struct{}
}

func NewFakePlayer() *FakePlayer {
	return &FakePlayer{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (p *FakePlayer) Hold() {
	p.mu.Lock()
	p.hold = true
	p.mu.Unlock()
}

// Finish releases one blocked Play.
func (p *FakePlayer) Finish() { p.release <- struct{}{} }

// Started receives once per Play call.
func (p *FakePlayer) Started() <-chan struct{} { return p.started }

func (p *FakePlayer) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *FakePlayer) Clips() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.clips))
	copy(out, p.clips)
	return out
}

func (p *FakePlayer) Play(ctx context.Context, wav []byte) error {
	p.mu.Lock()
	p.clips = append(p.clips, wav)
	hold, err := p.hold, p.err
	p.mu.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}

	if hold {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *FakePlayer) Close() {}
