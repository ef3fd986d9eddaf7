package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/conversation"
	"parley/session"
)

const (
	maxLogLines = 200
	sideWidth   = 34
)

type statusMsg session.Status
type logMsg session.Entry
type controlsMsg bool
type transcriptMsg []conversation.Turn
type copiedMsg struct {
	text string
	err  error
}
type tickMsg time.Time

// tuiObserver forwards controller notifications to the program in order. The
// controller never waits on the UI loop; only the pump goroutine does.
type tuiObserver struct {
	msgs chan tea.Msg
	done chan struct{}
}

func newTUIObserver() *tuiObserver {
	return &tuiObserver{msgs: make(chan tea.Msg, 256), done: make(chan struct{})}
}

func (o *tuiObserver) send(m tea.Msg) {
	select {
	case o.msgs <- m:
	case <-o.done:
	}
}

func (o *tuiObserver) Status(s session.Status)              { o.send(statusMsg(s)) }
func (o *tuiObserver) Log(e session.Entry)                  { o.send(logMsg(e)) }
func (o *tuiObserver) Controls(enabled bool)                { o.send(controlsMsg(enabled)) }
func (o *tuiObserver) Transcript(turns []conversation.Turn) { o.send(transcriptMsg(turns)) }

func (o *tuiObserver) pump(ctx context.Context, p *tea.Program) {
	defer close(o.done)
	for {
		select {
		case m := <-o.msgs:
			p.Send(m)
		case <-ctx.Done():
			return
		}
	}
}

type tuiModel struct {
	ctrl    controls
	voices  []string
	voice   string
	device  string
	backend string

	status  session.Status
	enabled bool
	entries []session.Entry
	turns   []conversation.Turn
	notice  string

	frame         int
	width, height int
}

func newTUIModel(ctrl controls, cfg *config, device string) tuiModel {
	return tuiModel{
		ctrl:    ctrl,
		voices:  cfg.voices,
		voice:   cfg.voice,
		device:  device,
		backend: cfg.backendURL,
		status:  session.Status{Indicator: session.IndicatorInactive, Label: "Initializing..."},
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

// do runs a controller action off the UI goroutine.
func do(f func()) tea.Cmd {
	return func() tea.Msg {
		f()
		return nil
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case statusMsg:
		m.status = session.Status(msg)

	case logMsg:
		m.entries = append(m.entries, session.Entry(msg))
		if len(m.entries) > maxLogLines {
			m.entries = m.entries[len(m.entries)-maxLogLines:]
		}

	case controlsMsg:
		m.enabled = bool(msg)

	case transcriptMsg:
		m.turns = msg

	case copiedMsg:
		switch {
		case msg.err != nil:
			m.notice = "copy failed: " + msg.err.Error()
		case msg.text == "":
			m.notice = "nothing to copy yet"
		default:
			m.notice = "reply copied"
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	}
	if !m.enabled {
		return m, nil
	}
	m.notice = ""
	ctrl := m.ctrl
	switch msg.String() {
	case " ", "enter":
		return m, do(ctrl.Toggle)
	case "c":
		return m, do(ctrl.ClearHistory)
	case "v":
		m.voice = nextVoice(m.voices, m.voice)
		voice := m.voice
		return m, do(func() { ctrl.SetVoice(voice) })
	case "y":
		return m, copyLastReply(ctrl)
	}
	return m, nil
}

func copyLastReply(ctrl controls) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		snap, err := ctrl.Snapshot(ctx)
		if err != nil {
			return copiedMsg{err: err}
		}
		if snap.LastReply == "" {
			return copiedMsg{}
		}
		if err := clipboard.WriteAll(snap.LastReply); err != nil {
			return copiedMsg{err: err}
		}
		return copiedMsg{text: snap.LastReply}
	}
}

var (
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	indicatorStyles = map[session.Indicator]lipgloss.Style{
		session.IndicatorInactive:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		session.IndicatorListening: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		session.IndicatorActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	}
)

var spinner = []string{"◐", "◓", "◑", "◒"}

func (m tuiModel) badge() string {
	style := indicatorStyles[m.status.Indicator]
	var dot string
	switch m.status.Indicator {
	case session.IndicatorListening:
		dot = "●"
	case session.IndicatorActive:
		dot = spinner[m.frame%len(spinner)]
	default:
		dot = "○"
	}
	return style.Render(dot + " " + m.status.Label)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var side []string
	side = append(side, m.badge(), "")
	side = append(side, dimStyle.Render("voice:   "+m.voice))
	side = append(side, dimStyle.Render("mic:     "+m.device))
	side = append(side, dimStyle.Render("backend: "+m.backend))
	side = append(side, dimStyle.Render(fmt.Sprintf("turns:   %d", len(m.turns))))
	side = append(side, "")

	keys := [][2]string{{"space", "start/stop"}, {"v", "next voice"}, {"c", "clear"}, {"y", "copy reply"}, {"q", "quit"}}
	for _, k := range keys {
		side = append(side, helpKeyStyle.Render(fmt.Sprintf("%-6s", k[0]))+helpStyle.Render(k[1]))
	}
	if !m.enabled {
		side = append(side, "", helpStyle.Render("controls disabled until the"), helpStyle.Render("microphone is ready"))
	}
	if m.notice != "" {
		side = append(side, "", noticeStyle.Render(m.notice))
	}
	side = append(side, "", helpStyle.Render("parley "+version))

	sidePanel := lipgloss.NewStyle().
		Width(sideWidth).
		Height(m.height).
		Render(strings.Join(side, "\n"))

	mainWidth := m.width - sideWidth - 1
	if mainWidth < 20 {
		mainWidth = 20
	}
	wrapWidth := mainWidth - 2
	logHeight := m.height / 3
	if logHeight < 3 {
		logHeight = 3
	}
	transcriptHeight := m.height - logHeight - 2

	transcript := m.renderTranscript(wrapWidth, transcriptHeight)
	activity := m.renderLog(wrapWidth, logHeight)

	mainPanel := lipgloss.NewStyle().
		Width(mainWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(transcript + "\n" + activity)

	return lipgloss.JoinHorizontal(lipgloss.Top, sidePanel, mainPanel)
}

// renderTranscript shows the most recent turns that fit in height lines.
func (m tuiModel) renderTranscript(width, height int) string {
	lines := []string{titleStyle.Render("Conversation"), ""}
	if len(m.turns) == 0 {
		lines = append(lines, dimStyle.Render("Say something once listening starts"))
		return pad(lines, height)
	}

	var body []string
	for _, t := range m.turns {
		style, who := userStyle, "You"
		if t.Role == conversation.RoleAssistant {
			style, who = assistantStyle, "Assistant"
		}
		for i, l := range wrapText(who+": "+t.Content, width) {
			if i > 0 {
				l = "  " + l
			}
			body = append(body, style.Render(l))
		}
		body = append(body, "")
	}
	return pad(append(lines, tail(body, height-len(lines))...), height)
}

func (m tuiModel) renderLog(width, height int) string {
	lines := []string{titleStyle.Render("Activity")}
	var body []string
	for _, e := range m.entries {
		for _, l := range wrapText(e.String(), width) {
			body = append(body, dimStyle.Render(l))
		}
	}
	return strings.Join(append(lines, tail(body, height-1)...), "\n")
}

func tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func pad(lines []string, n int) string {
	for len(lines) < n {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// wrapText breaks text at spaces so no line exceeds width runes. Words longer
// than width are split.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		r := []rune(para)
		if len(r) == 0 {
			lines = append(lines, "")
			continue
		}
		for len(r) > width {
			split := width
			for i := width; i > 0; i-- {
				if r[i] == ' ' {
					split = i
					break
				}
			}
			lines = append(lines, string(r[:split]))
			r = []rune(strings.TrimLeft(string(r[split:]), " "))
		}
		if len(r) > 0 {
			lines = append(lines, string(r))
		}
	}
	return lines
}
