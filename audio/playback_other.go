//go:build !linux

package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process, so every clip is converted to
// this output format before playback.
const (
	otoSampleRate = 48000
	otoChannels   = 2
)

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func otoContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   otoSampleRate,
			ChannelCount: otoChannels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		})
		if otoErr == nil {
			<-ready
		}
	})
	return otoCtx, otoErr
}

type otoPlayer struct{}

func (p *otoPlayer) Play(ctx context.Context, wav []byte) error {
	clip, err := DecodeWAV(wav)
	if err != nil {
		return err
	}
	if clip.Channels > 2 {
		return fmt.Errorf("oto playback: %d channels not supported", clip.Channels)
	}
	if len(clip.Samples) == 0 {
		return nil
	}
	octx, err := otoContext()
	if err != nil {
		return fmt.Errorf("oto init: %w", err)
	}

	out := ToStereo(Resample(clip.Samples, clip.Channels, clip.SampleRate, otoSampleRate), clip.Channels)
	pcm := PCM16Bytes(out)

	player := octx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Err(); err != nil {
		return fmt.Errorf("oto playback: %w", err)
	}
	return nil
}

func (p *otoPlayer) Close() {}
