// Package doctor runs interactive checks of everything a voice session
// depends on: microphone, speaker, backend, hotkey and clipboard.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"parley/audio"
	"parley/backend"
	"parley/hotkey"
	"parley/shutdown"
	"parley/vad"
)

const steps = 5

var finished atomic.Bool

type Config struct {
	BackendURL string
	Device     string
	VAD        vad.Options
}

type check struct {
	name string
	run  func(cfg Config, ac audio.Context) bool
}

// Run executes the checks in order and returns an exit code (0=all pass, 1=any fail).
func Run(cfg Config) int {
	resetTerminal()
	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	go func() {
		<-ctx.Done()
		if !finished.Load() {
			fmt.Println("\nInterrupted")
			os.Exit(1)
		}
	}()
	defer finished.Store(true)

	fmt.Println("parley doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	ac, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return 1
	}
	defer ac.Close()

	checks := []check{
		{"Microphone", checkMicrophone},
		{"Speaker", checkSpeaker},
		{"Backend", checkBackend},
		{"Hotkey", checkHotkey},
		{"Clipboard", checkClipboard},
	}

	failed := 0
	for i, c := range checks {
		fmt.Println()
		fmt.Printf("[%d/%d] %s\n", i+1, steps, c.name)
		if !c.run(cfg, ac) {
			failed++
		}
	}

	fmt.Println()
	if failed == 0 {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Printf("%d check(s) failed. See details above.\n", failed)
	return 1
}

func pickDevice(cfg Config, ac audio.Context) (*audio.DeviceInfo, error) {
	if cfg.Device != "" {
		return audio.FindDevice(ac, cfg.Device)
	}
	devices, err := ac.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fmt.Println("Select input device:")
	for i, d := range devices {
		fmt.Printf("  %d. %s\n", i+1, d.Name)
	}
	fmt.Printf("Choice [1-%d]: ", len(devices))
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	idx := 1
	if s := strings.TrimSpace(line); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
			return nil, fmt.Errorf("invalid choice %q", s)
		}
	}
	if idx < 1 || idx > len(devices) {
		return nil, fmt.Errorf("invalid choice %d", idx)
	}
	return &devices[idx-1], nil
}

func checkMicrophone(cfg Config, ac audio.Context) bool {
	device, err := pickDevice(cfg, ac)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  Using device: %s\n", device.Name)

	fmt.Print("Press Enter and say a short sentence...")
	bufio.NewReader(os.Stdin).ReadString('\n')

	pcm, err := record(ac, device, 3*time.Second)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(pcm) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	level := peakLevel(pcm, cfg.VAD.SampleRate)
	fmt.Printf("  Captured %.1f KB, peak level %.4f (speech threshold %.4f)\n",
		float64(len(pcm))/1024, level, cfg.VAD.PositiveThreshold)

	events, err := vad.Analyze(pcm, cfg.VAD)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	for _, ev := range events {
		if ev.Kind == vad.SpeechStart {
			fmt.Println("  PASS: speech detected")
			return true
		}
	}
	fmt.Println("  FAIL: no speech detected (check input gain or lower -vad-threshold)")
	return false
}

func record(ac audio.Context, device *audio.DeviceInfo, d time.Duration) ([]byte, error) {
	capture, err := ac.NewCapture(device, audio.DefaultCaptureConfig())
	if err != nil {
		return nil, err
	}
	defer capture.Close()

	var (
		mu  sync.Mutex
		buf []byte
	)
	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		buf = append(buf, data...)
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return nil, err
	}

	fmt.Print("  Recording")
	deadline := time.After(d)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			fmt.Print(".")
		case <-deadline:
			break loop
		}
	}
	capture.Stop()
	capture.ClearCallback()
	fmt.Println(" done")

	mu.Lock()
	defer mu.Unlock()
	return buf, nil
}

// peakLevel is the highest RMS over 20ms windows.
func peakLevel(pcm []byte, sampleRate int) float64 {
	samples := audio.PCM16ToFloat32(audio.PCM16FromBytes(pcm))
	window := sampleRate / 50
	if window <= 0 {
		window = len(samples)
	}
	var peak float64
	for start := 0; start+window <= len(samples); start += window {
		var sum float64
		for _, s := range samples[start : start+window] {
			sum += float64(s) * float64(s)
		}
		if level := math.Sqrt(sum / float64(window)); level > peak {
			peak = level
		}
	}
	return peak
}

func checkSpeaker(_ Config, ac audio.Context) bool {
	tone, err := audio.TestTone()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	player, err := ac.NewPlayer()
	if err != nil {
		fmt.Printf("  FAIL: cannot open output: %v\n", err)
		return false
	}
	defer player.Close()

	fmt.Println("  Playing test chime...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := player.Play(ctx, tone); err != nil {
		fmt.Printf("  FAIL: playback error: %v\n", err)
		return false
	}
	return confirm("Did you hear the chime?", "speaker output")
}

func checkBackend(cfg Config, _ audio.Context) bool {
	client, err := backend.New(cfg.BackendURL, 5*time.Second)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		fmt.Printf("  FAIL: %s unreachable: %v\n", client.BaseURL(), err)
		return false
	}
	fmt.Printf("  PASS: %s reachable\n", client.BaseURL())
	return true
}

func checkHotkey(_ Config, _ audio.Context) bool {
	msg, err := hotkey.Diagnose()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  %s\n", msg)
	fmt.Printf("Press %s...\n", hotkey.Combo)

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// The key press may leave the terminal in a bad state.
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func confirm(question, what string) bool {
	resetTerminal()
	fmt.Printf("%s [y/n]: ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	if answer == "y" || answer == "yes" {
		fmt.Printf("  PASS: %s verified by user\n", what)
		return true
	}
	fmt.Printf("  FAIL: %s not confirmed\n", what)
	return false
}
