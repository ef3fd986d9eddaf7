//go:build linux

package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulsePlayer struct {
	client *pulse.Client
}

func (p *pulsePlayer) Play(ctx context.Context, wav []byte) error {
	clip, err := DecodeWAV(wav)
	if err != nil {
		return err
	}
	if clip.Channels > 2 {
		return fmt.Errorf("pulse playback: %d channels not supported", clip.Channels)
	}
	if len(clip.Samples) == 0 {
		return nil
	}

	// The reader runs on the stream's goroutine. Returning EndOfData on
	// cancellation lets Drain return after the buffered tail.
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || pos >= len(clip.Samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, clip.Samples[pos:])
		pos += n
		return n, nil
	})

	layout := pulse.PlaybackMono
	volumes := proto.ChannelVolumes{uint32(proto.VolumeNorm)}
	if clip.Channels == 2 {
		layout = pulse.PlaybackStereo
		volumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
	}
	stream, err := p.client.NewPlayback(reader,
		layout,
		pulse.PlaybackSampleRate(clip.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(c *proto.CreatePlaybackStream) {
			c.ChannelVolumes = volumes
		}),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	stream.Stop()

	if err := stream.Error(); err != nil && !errors.Is(err, pulse.EndOfData) {
		return fmt.Errorf("pulse playback: %w", err)
	}
	return ctx.Err()
}

func (p *pulsePlayer) Close() {}
