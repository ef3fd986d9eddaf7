// Package vad implements an energy-based voice activity detector on top of an
// audio.CaptureDevice. The microphone stays open for the detector's lifetime;
// Start and Pause only gate whether frames are analyzed.
package vad

import (
	"fmt"
	"sync"
	"time"

	"parley/audio"
	"parley/log"
)

type Options struct {
	SampleRate         int
	PositiveThreshold  float64 // RMS to count a frame as speech
	NegativeThreshold  float64 // RMS below which a frame counts toward the end
	StartFrames        int     // consecutive speech frames that open a segment
	RedemptionFrames   int     // consecutive quiet frames that close a segment
	MinSpeechFrames    int     // shorter segments are reported as misfires
	PreSpeechPadFrames int     // frames kept from before the segment opened
}

func DefaultOptions() Options {
	return Options{
		SampleRate:         audio.SampleRate,
		PositiveThreshold:  0.015,
		NegativeThreshold:  0.008,
		StartFrames:        3,
		RedemptionFrames:   30,
		MinSpeechFrames:    10,
		PreSpeechPadFrames: 10,
	}
}

// FramesFor converts a duration to a whole number of analysis frames,
// rounding up.
func FramesFor(d time.Duration) int {
	f := time.Duration(frameMs) * time.Millisecond
	return int((d + f - 1) / f)
}

func (o Options) validate() error {
	switch {
	case o.SampleRate*frameMs/1000 < 1:
		return fmt.Errorf("vad: sample rate %d too low for %dms frames", o.SampleRate, frameMs)
	case o.PositiveThreshold <= 0 || o.NegativeThreshold <= 0:
		return fmt.Errorf("vad: thresholds must be positive")
	case o.NegativeThreshold > o.PositiveThreshold:
		return fmt.Errorf("vad: negative threshold %.4f above positive %.4f", o.NegativeThreshold, o.PositiveThreshold)
	case o.StartFrames < 1 || o.RedemptionFrames < 1:
		return fmt.Errorf("vad: start and redemption frames must be at least 1")
	}
	return nil
}

type Handlers struct {
	OnSpeechStart func()
	OnSpeechEnd   func(samples []float32)
	OnMisfire     func()
}

type Detector struct {
	capture  audio.CaptureDevice
	handlers Handlers

	mu     sync.Mutex
	seg    *segmenter
	active bool
}

// New opens the capture device and returns a paused detector. It fails when
// the device cannot be started, e.g. no microphone or permission denied.
func New(capture audio.CaptureDevice, opts Options, h Handlers) (*Detector, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	d := &Detector{capture: capture, handlers: h, seg: newSegmenter(opts)}
	capture.SetCallback(d.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		return nil, fmt.Errorf("open microphone %q: %w", capture.DeviceName(), err)
	}
	return d, nil
}

// Start begins analysis. Calling it while already started does nothing.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil
	}
	d.seg.Reset()
	d.active = true
	return nil
}

// Pause stops analysis and discards any buffered audio.
func (d *Detector) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.seg.Reset()
}

func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Detector) Close() {
	d.Pause()
	d.capture.ClearCallback()
	d.capture.Close()
}

func (d *Detector) onData(data []byte, _ uint32) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	events := d.seg.Process(data)
	d.mu.Unlock()

	for _, ev := range events {
		log.Detector(ev.Kind.String(), ev.Frames, ev.PeakRMS)
		switch ev.Kind {
		case SpeechStart:
			if d.handlers.OnSpeechStart != nil {
				d.handlers.OnSpeechStart()
			}
		case SpeechEnd:
			if d.handlers.OnSpeechEnd != nil {
				d.handlers.OnSpeechEnd(ev.Samples)
			}
		case Misfire:
			if d.handlers.OnMisfire != nil {
				d.handlers.OnMisfire()
			}
		}
	}
}

// Analyze runs the segmenter over a complete PCM16 recording. A segment still
// open at the end of the recording is not reported.
func Analyze(pcm []byte, opts Options) ([]Event, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return newSegmenter(opts).Process(pcm), nil
}
