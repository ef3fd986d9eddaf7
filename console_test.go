package main

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parley/conversation"
	"parley/session"
)

type recordedControls struct {
	calls []string
	turns []conversation.Turn
}

func (r *recordedControls) Start()                   { r.calls = append(r.calls, "start") }
func (r *recordedControls) Stop()                    { r.calls = append(r.calls, "stop") }
func (r *recordedControls) Toggle()                  { r.calls = append(r.calls, "toggle") }
func (r *recordedControls) ClearHistory()            { r.calls = append(r.calls, "clear") }
func (r *recordedControls) SetVoice(v string)        { r.calls = append(r.calls, "voice "+v) }
func (r *recordedControls) SetSystemPrompt(p string) { r.calls = append(r.calls, "prompt "+p) }

func (r *recordedControls) Snapshot(context.Context) (session.Snapshot, error) {
	return session.Snapshot{History: r.turns}, nil
}

func TestRunConsoleCommands(t *testing.T) {
	in := strings.NewReader("start\n\nvoice bf_emma\nprompt Speak like a pirate\nTOGGLE\nclear\nstop\nquit\nstart\n")
	var out bytes.Buffer
	ctrl := &recordedControls{}

	if err := runConsole(context.Background(), in, &out, ctrl); err != nil {
		t.Fatal(err)
	}
	want := []string{"start", "voice bf_emma", "prompt Speak like a pirate", "toggle", "clear", "stop"}
	if !slices.Equal(ctrl.calls, want) {
		t.Errorf("calls = %v, want %v", ctrl.calls, want)
	}
}

func TestRunConsoleErrors(t *testing.T) {
	in := strings.NewReader("dance\nvoice\n")
	var out bytes.Buffer
	ctrl := &recordedControls{}

	if err := runConsole(context.Background(), in, &out, ctrl); err != nil {
		t.Fatal(err)
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("unexpected calls %v", ctrl.calls)
	}
	got := out.String()
	for _, want := range []string{`unknown command "dance"`, "voice: missing identifier", consoleHelp} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunConsoleHistory(t *testing.T) {
	var out bytes.Buffer
	ctrl := &recordedControls{turns: []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Hello"},
		{Role: conversation.RoleAssistant, Content: "Hi there"},
	}}
	if err := runConsole(context.Background(), strings.NewReader("history\n"), &out, ctrl); err != nil {
		t.Fatal(err)
	}
	if want := "user: Hello\nassistant: Hi there\n"; out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

type blockingReader struct{ done chan struct{} }

func (b blockingReader) Read([]byte) (int, error) {
	<-b.done
	return 0, nil
}

func TestRunConsoleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := blockingReader{done: make(chan struct{})}
	defer close(r.done)

	errc := make(chan error, 1)
	go func() { errc <- runConsole(ctx, r, &bytes.Buffer{}, &recordedControls{}) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runConsole did not return after cancel")
	}
}

func TestConsoleObserver(t *testing.T) {
	var out bytes.Buffer
	obs := &consoleObserver{out: &out}

	st := session.Status{Indicator: session.IndicatorListening, Label: "Listening..."}
	obs.Status(st)
	obs.Status(st)
	obs.Controls(false)
	obs.Log(session.Entry{Time: time.Date(2024, 1, 1, 9, 5, 7, 0, time.UTC), Text: "Speech started"})

	want := "[listening] Listening...\n09:05:07: Speech started\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

// chunkWriter records each Write and flags overlapping calls.
type chunkWriter struct {
	inflight atomic.Int32
	overlap  atomic.Bool

	mu     sync.Mutex
	chunks []string
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.inflight.Add(1) > 1 {
		w.overlap.Store(true)
	}
	defer w.inflight.Add(-1)
	time.Sleep(50 * time.Microsecond)
	w.mu.Lock()
	w.chunks = append(w.chunks, string(p))
	w.mu.Unlock()
	return len(p), nil
}

func TestConsoleOutputSharesObserverLock(t *testing.T) {
	w := &chunkWriter{}
	obs := &consoleObserver{out: w}
	ctrl := &recordedControls{turns: []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Hello"},
		{Role: conversation.RoleAssistant, Content: "Hi there"},
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			obs.Log(session.Entry{Time: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), Text: "Speech started"})
		}
	}()
	in := strings.NewReader(strings.Repeat("history\n", 20))
	if err := runConsole(context.Background(), in, obs, ctrl); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if w.overlap.Load() {
		t.Error("console and observer wrote concurrently")
	}
	history := 0
	for _, c := range w.chunks {
		switch c {
		case "09:00:00: Speech started\n":
		case "user: Hello\nassistant: Hi there\n":
			history++
		default:
			t.Errorf("unexpected chunk %q", c)
		}
	}
	if history != 20 {
		t.Errorf("history printed %d times in one piece, want 20", history)
	}
}
