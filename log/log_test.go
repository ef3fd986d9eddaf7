package log

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/parley-logs")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/parley-logs" {
		t.Errorf("got %q, want /tmp/parley-logs", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(wd, "logs"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv(envLogPath, "/tmp/parley-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/parley-env-log" {
		t.Errorf("got %q, want /tmp/parley-env-log", got)
	}
}

func TestResolveDirFlagBeatsEnv(t *testing.T) {
	t.Setenv(envLogPath, "/tmp/parley-env-log")
	got, err := ResolveDir("/tmp/parley-flag-log")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/parley-flag-log" {
		t.Errorf("got %q, want flag path", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv(envLogPath, "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestDefaultDirXDGState(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is linux only")
	}
	t.Setenv(envLogPath, "")
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if want := "/tmp/state/parley/logs"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "conversation_log.txt"} {
		if _, err := os.Stat(filepath.Join(tmp, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTurnLine(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Turn("user", "hello there")
	Turn("assistant", "hi")

	data, err := os.ReadFile(filepath.Join(tmp, "conversation_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	// format: "2006-01-02 15:04:05\t[pid]\trole\ttext"
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 4 {
		t.Fatalf("expected 4 tab-separated fields, got %q", lines[0])
	}
	if fields[2] != "user" || fields[3] != "hello there" {
		t.Errorf("unexpected fields: %q", fields)
	}
}

func TestDiagnosticsEvents(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	SessionStart("http://localhost:8000", "af_bella", "system default")
	RoundTripMetrics(RoundTrip{RequestID: "abc", Status: 200, ContentType: "audio/wav", ServerMs: 800, WireMs: 12.5, ConnReused: true})
	Playback(1500*time.Millisecond, errors.New("device lost"))
	SessionEnd(4)

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	diag := string(data)
	for _, want := range []string{"session_start", "voice=af_bella", "round_trip", "conn=reused", "request_id=abc", "server_ms=800", "wire_ms=12.5", "playback", "device lost", "session_end", "turns=4"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, diag)
		}
	}
}

func TestLoggingBeforeInitIsNoop(t *testing.T) {
	Close()
	Info("ignored")
	Turn("user", "ignored")
	RoundTripMetrics(RoundTrip{})
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
