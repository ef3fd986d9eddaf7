package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog          zerolog.Logger
	diagFile         *os.File
	conversationFile *os.File
	logMu            sync.Mutex
	logReady         bool
	pid              int
	dir              string
)

const envLogPath = "PARLEY_LOG_PATH"

// RoundTrip describes one /process_audio exchange for the diagnostics log.
type RoundTrip struct {
	RequestID   string
	Status      int
	ContentType string
	AudioKB     float64
	ReplyKB     float64
	HistoryLen  int
	DNSMs       float64
	TLSMs       float64
	ServerMs    float64
	WireMs      float64
	TotalMs     float64
	ConnReused  bool
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: PARLEY_LOG_PATH environment variable
	if envPath := os.Getenv(envLogPath); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	convPath := filepath.Join(dir, "conversation_log.txt")
	conversationFile, err = os.OpenFile(convPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if conversationFile != nil {
		conversationFile.Close()
		conversationFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func StateChange(from, to string) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("from", from).
		Str("to", to).
		Msg("state_change")
}

func RoundTripMetrics(r RoundTrip) {
	if !logReady {
		return
	}

	connStatus := "new"
	if r.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("request_id", r.RequestID).
		Int("status", r.Status).
		Str("content_type", r.ContentType).
		Str("conn", connStatus).
		Int("history", r.HistoryLen).
		Float64("audio_kb", r.AudioKB).
		Float64("reply_kb", r.ReplyKB).
		Float64("dns_ms", r.DNSMs).
		Float64("tls_ms", r.TLSMs).
		Float64("server_ms", r.ServerMs).
		Float64("wire_ms", r.WireMs).
		Float64("total_ms", r.TotalMs).
		Msg("round_trip")
}

func Playback(d time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Float64("duration_s", d.Seconds()).Msg("playback")
}

// Turn appends one conversation turn to conversation_log.txt.
func Turn(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, text)
	conversationFile.WriteString(line)
}

func SessionStart(backendURL, voice, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", backendURL).
		Str("voice", voice).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}

// Detector records a VAD boundary ("speech_start", "speech_end", "misfire").
func Detector(event string, frames int, peakRMS float64) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Int("frames", frames).
		Float64("peak_rms", peakRMS).
		Msg("detector_" + event)
}
