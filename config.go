package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"parley/backend"
	"parley/vad"
)

const (
	envBackendURL   = "PARLEY_BACKEND_URL"
	envVoice        = "PARLEY_VOICE"
	envSystemPrompt = "PARLEY_SYSTEM_PROMPT"
	defaultEnvFile  = ".env"
	defaultVoices   = "af_bella,af_sarah,af_nicole,am_adam,am_michael,bf_emma,bm_george"
)

type config struct {
	backendURL   string
	voice        string
	voices       []string
	systemPrompt string
	device       string
	setup        bool
	vad          vad.Options
	timeout      time.Duration
	hotkey       bool
	holdDelay    time.Duration
	tui          bool
	logPath      string
	doctor       bool
	version      bool
	profile      string
}

// parseConfig reads flags, then fills anything not given on the command line
// from the environment. A .env file is loaded first when present; variables
// already set in the process environment win over it.
func parseConfig(args []string, stderr io.Writer) (*config, error) {
	flags := flag.NewFlagSet("parley", flag.ContinueOnError)
	flags.SetOutput(stderr)

	def := vad.DefaultOptions()
	urlFlag := flags.String("url", backend.DefaultURL, "Backend base URL (env "+envBackendURL+")")
	voiceFlag := flags.String("voice", backend.DefaultVoice, "Voice identifier sent with each request (env "+envVoice+")")
	voicesFlag := flags.String("voices", defaultVoices, "Comma-separated voices the UI cycles through")
	promptFlag := flags.String("system-prompt", backend.DefaultPrompt, "System prompt sent with each request (env "+envSystemPrompt+")")
	promptFileFlag := flags.String("system-prompt-file", "", "Read the system prompt from a file")
	deviceFlag := flags.String("device", "", "Use named microphone device")
	setupFlag := flags.Bool("setup", false, "Select microphone device interactively")
	thresholdFlag := flags.Float64("vad-threshold", def.PositiveThreshold, "RMS level that counts as speech")
	silenceFlag := flags.Duration("vad-silence", 600*time.Millisecond, "Silence that ends an utterance")
	minSpeechFlag := flags.Duration("min-speech", 200*time.Millisecond, "Shorter segments are discarded as misfires")
	timeoutFlag := flags.Duration("timeout", 0, "Round-trip timeout (0 = none)")
	hotkeyFlag := flags.Bool("hotkey", false, "Toggle listening with Ctrl+Shift+Space")
	holdFlag := flags.Duration("hold", 350*time.Millisecond, "Hotkey press longer than this clears the conversation and starts listening")
	tuiFlag := flags.Bool("tui", true, "Run with terminal UI (false = console commands on stdin)")
	logPathFlag := flags.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	doctorFlag := flags.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flags.Bool("version", false, "Print version and exit")
	profileFlag := flags.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	envFlag := flags.String("env", "", "Load environment from this file (default: .env if present)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := loadEnvFile(*envFlag); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := &config{
		backendURL:   *urlFlag,
		voice:        *voiceFlag,
		systemPrompt: *promptFlag,
		device:       *deviceFlag,
		setup:        *setupFlag,
		timeout:      *timeoutFlag,
		hotkey:       *hotkeyFlag,
		holdDelay:    *holdFlag,
		tui:          *tuiFlag,
		logPath:      *logPathFlag,
		doctor:       *doctorFlag,
		version:      *versionFlag,
		profile:      *profileFlag,
	}
	if v := os.Getenv(envBackendURL); v != "" && !set["url"] {
		cfg.backendURL = v
	}
	if v := os.Getenv(envVoice); v != "" && !set["voice"] {
		cfg.voice = v
	}
	if v := os.Getenv(envSystemPrompt); v != "" && !set["system-prompt"] {
		cfg.systemPrompt = v
	}

	if *promptFileFlag != "" {
		if set["system-prompt"] {
			return nil, errors.New("-system-prompt and -system-prompt-file are mutually exclusive")
		}
		data, err := os.ReadFile(*promptFileFlag)
		if err != nil {
			return nil, fmt.Errorf("reading system prompt: %w", err)
		}
		cfg.systemPrompt = strings.TrimSpace(string(data))
	}

	cfg.voices = voiceList(*voicesFlag, cfg.voice)

	opts := def
	if set["vad-threshold"] {
		opts.PositiveThreshold = *thresholdFlag
		opts.NegativeThreshold = *thresholdFlag * def.NegativeThreshold / def.PositiveThreshold
	}
	opts.RedemptionFrames = vad.FramesFor(*silenceFlag)
	opts.MinSpeechFrames = vad.FramesFor(*minSpeechFlag)
	cfg.vad = opts

	if cfg.timeout < 0 {
		return nil, fmt.Errorf("-timeout must not be negative")
	}
	return cfg, nil
}

// loadEnvFile loads path, or .env when path is empty. A missing default file
// is not an error.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// voiceList splits the -voices list and makes sure current is in it, first
// if it was missing.
func voiceList(list, current string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range strings.Split(list, ",") {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if current != "" && !seen[current] {
		out = append([]string{current}, out...)
	}
	return out
}

// nextVoice returns the voice after current in voices, wrapping around.
func nextVoice(voices []string, current string) string {
	if len(voices) == 0 {
		return current
	}
	for i, v := range voices {
		if v == current {
			return voices[(i+1)%len(voices)]
		}
	}
	return voices[0]
}
