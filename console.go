package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"parley/conversation"
	"parley/session"
)

const consoleHelp = "Commands: start, stop, toggle, clear, voice <id>, prompt <text>, history, quit"

// consoleObserver prints the activity log and status changes for headless
// runs.
type consoleObserver struct {
	mu    sync.Mutex
	out   io.Writer
	label string
}

func (c *consoleObserver) Status(s session.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Label == c.label {
		return
	}
	c.label = s.Label
	fmt.Fprintf(c.out, "[%s] %s\n", s.Indicator, s.Label)
}

func (c *consoleObserver) Log(e session.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, e.String())
}

func (c *consoleObserver) Controls(enabled bool) {
	if !enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, consoleHelp)
}

func (c *consoleObserver) Transcript([]conversation.Turn) {}

// Write lets command output share the observer's lock so it never splits an
// activity line.
func (c *consoleObserver) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

type controls interface {
	Start()
	Stop()
	Toggle()
	ClearHistory()
	SetVoice(string)
	SetSystemPrompt(string)
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

var errQuit = errors.New("quit")

// runConsole reads commands from in until quit, EOF or ctx is done. Each
// command's output reaches out in a single Write.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, ctrl controls) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			var buf bytes.Buffer
			err := execCommand(ctx, line, &buf, ctrl)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(&buf, "%v\n%s\n", err, consoleHelp)
			}
			if buf.Len() > 0 {
				out.Write(buf.Bytes())
			}
		}
	}
}

func execCommand(ctx context.Context, line string, out io.Writer, ctrl controls) error {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "":
	case "start":
		ctrl.Start()
	case "stop":
		ctrl.Stop()
	case "toggle", "t":
		ctrl.Toggle()
	case "clear":
		ctrl.ClearHistory()
		fmt.Fprintln(out, "History cleared")
	case "voice":
		if arg == "" {
			return errors.New("voice: missing identifier")
		}
		ctrl.SetVoice(arg)
	case "prompt":
		ctrl.SetSystemPrompt(arg)
	case "history":
		snap, err := ctrl.Snapshot(ctx)
		if err != nil {
			return err
		}
		if len(snap.History) == 0 {
			fmt.Fprintln(out, "(no turns yet)")
		}
		for _, t := range snap.History {
			fmt.Fprintf(out, "%s: %s\n", t.Role, t.Content)
		}
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}
