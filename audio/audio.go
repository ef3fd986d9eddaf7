package audio

import "context"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayer() (Player, error)
	Close()
}

// CaptureDevice delivers little-endian PCM16 frames to the registered
// callback between Start and Stop.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Player plays one WAV clip at a time. Play blocks until the clip has been
// drained to the device, playback fails, or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, wav []byte) error
	Close()
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}
