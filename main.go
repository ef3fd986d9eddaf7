package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"parley/audio"
	"parley/backend"
	"parley/doctor"
	"parley/hotkey"
	"parley/log"
	"parley/session"
	"parley/shutdown"
	"parley/vad"
)

var version = "dev"

// run wires the session together and returns the process exit code.
func run() int {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.version {
		fmt.Printf("parley %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(cfg.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if cfg.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", cfg.profile)
			if err := http.ListenAndServe(cfg.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if cfg.doctor {
		return doctor.Run(doctor.Config{
			BackendURL: cfg.backendURL,
			Device:     cfg.device,
			VAD:        cfg.vad,
		})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	client, err := backend.New(cfg.backendURL, cfg.timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ac, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer ac.Close()

	device, err := chooseDevice(cfg, ac)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	deviceName := "system default"
	if device != nil {
		deviceName = device.Name
	}

	player, err := ac.NewPlayer()
	if err != nil {
		log.Errorf("player init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio output: %v\n", err)
		return 1
	}
	defer player.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	log.SessionStart(client.BaseURL(), cfg.voice, deviceName)

	var obs session.Observer
	var tuiObs *tuiObserver
	var cons *consoleObserver
	if cfg.tui {
		tuiObs = newTUIObserver()
		obs = tuiObs
	} else {
		cons = &consoleObserver{out: os.Stdout}
		obs = cons
	}

	ctrl := session.New(session.Config{
		Voice:        cfg.voice,
		SystemPrompt: cfg.systemPrompt,
		SampleRate:   cfg.vad.SampleRate,
	}, detectorFactory(ac, device, cfg.vad), client, player, obs)
	go ctrl.Run(ctx)

	if cfg.hotkey {
		if err := watchHotkey(ctx, hotkey.New(), ctrl, cfg.holdDelay); err != nil {
			log.Warnf("hotkey register error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: hotkey unavailable: %v\n", err)
		}
	}

	if cfg.tui {
		p := NewTUIProgram(newTUIModel(ctrl, cfg, deviceName))
		go tuiObs.pump(ctx, p)
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	} else {
		fmt.Fprintf(cons, "parley %s, backend %s, mic %s\n", version, client.BaseURL(), deviceName)
		runConsole(ctx, os.Stdin, cons, ctrl)
	}

	stop()
	select {
	case <-ctrl.Done():
	case <-time.After(3 * time.Second):
		log.Warn("session did not shut down in time")
	}
	return 0
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// chooseDevice resolves -device or -setup. A nil device means the system
// default input.
func chooseDevice(cfg *config, ac audio.Context) (*audio.DeviceInfo, error) {
	switch {
	case cfg.device != "":
		return audio.FindDevice(ac, cfg.device)
	case cfg.setup:
		dev, err := audio.SelectDevice(ac)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\nFalling back to default device\n", err)
			return nil, nil
		}
		return dev, nil
	}
	return nil, nil
}

// detectorFactory opens the microphone for the session. The capture stream
// stays open for the life of the detector.
func detectorFactory(ac audio.Context, device *audio.DeviceInfo, opts vad.Options) session.DetectorFactory {
	return func(_ context.Context, events session.DetectorEvents) (session.Detector, error) {
		capture, err := ac.NewCapture(device, audio.DefaultCaptureConfig())
		if err != nil {
			return nil, fmt.Errorf("capture device init: %w", err)
		}
		d, err := vad.New(capture, opts, vad.Handlers{
			OnSpeechStart: events.OnSpeechStart,
			OnSpeechEnd:   events.OnSpeechEnd,
			OnMisfire:     events.OnMisfire,
		})
		if err != nil {
			capture.Close()
			return nil, err
		}
		log.Info("recording_device: " + capture.DeviceName())
		return d, nil
	}
}

type hotkeyActions interface {
	Start()
	Toggle()
	ClearHistory()
}

// watchHotkey maps the global hotkey onto the session: a tap toggles
// listening, a long press starts a fresh conversation.
func watchHotkey(ctx context.Context, hk hotkey.Hotkey, ctrl hotkeyActions, hold time.Duration) error {
	if err := hk.Register(); err != nil {
		return err
	}
	go func() {
		defer hk.Unregister()
		for g := range hotkey.Gestures(hk, hold, ctx.Done()) {
			log.Info("hotkey_" + g.String())
			switch g {
			case hotkey.Tap:
				ctrl.Toggle()
			case hotkey.HoldStart:
				ctrl.ClearHistory()
				ctrl.Start()
			}
		}
	}()
	return nil
}
