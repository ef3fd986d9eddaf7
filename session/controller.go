// Package session is the conversation session controller. It owns the
// turn-taking state machine and the transcript, arms and pauses the voice
// activity detector, sends each utterance to the backend and plays the reply.
//
// Everything the controller owns is touched only by the goroutine running
// Run. Detector callbacks, user actions, backend replies and playback
// completion are all posted to it as events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"parley/audio"
	"parley/backend"
	"parley/conversation"
	"parley/log"
)

type Detector interface {
	Start() error
	Pause()
}

// DetectorEvents are the callbacks a detector reports through. They may be
// called from any goroutine.
type DetectorEvents struct {
	OnSpeechStart func()
	OnSpeechEnd   func(samples []float32)
	OnMisfire     func()
}

// DetectorFactory builds the detector. It runs on its own goroutine and may
// block (e.g. waiting for microphone permission).
type DetectorFactory func(ctx context.Context, events DetectorEvents) (Detector, error)

type Backend interface {
	Send(ctx context.Context, req backend.Request) (*backend.Reply, error)
}

type Player interface {
	Play(ctx context.Context, wav []byte) error
}

type Config struct {
	Voice        string
	SystemPrompt string
	SampleRate   int // of the samples the detector delivers
}

type Controller struct {
	cfg         Config
	newDetector DetectorFactory
	backend     Backend
	player      Player
	obs         Observer

	events chan event
	done   chan struct{}

	// A detector handed over after shutdown is closed by its builder.
	initMu   sync.Mutex
	stopped  bool
	detReady chan Detector

	// owned by Run
	state     State
	history   conversation.History
	detector  Detector
	armed     bool
	ready     bool
	initErr   error
	gen       uint64
	cancel    context.CancelFunc
	lastReply string

	afterEvent func(c *Controller)
}

func New(cfg Config, newDetector DetectorFactory, b Backend, p Player, obs Observer) *Controller {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.Voice == "" {
		cfg.Voice = backend.DefaultVoice
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Controller{
		cfg:         cfg,
		newDetector: newDetector,
		backend:     b,
		player:      p,
		obs:         obs,
		events:      make(chan event, 64),
		done:        make(chan struct{}),
		detReady:    make(chan Detector, 1),
	}
}

type eventKind int

const (
	evDetectorReady eventKind = iota
	evDetectorFailed
	evStart
	evStop
	evToggle
	evClear
	evSpeechStart
	evSpeechEnd
	evMisfire
	evReply
	evPlaybackDone
	evSetVoice
	evSetPrompt
	evSnapshot
)

type event struct {
	kind     eventKind
	detector Detector
	err      error
	samples  []float32
	gen      uint64
	reply    *backend.Reply
	text     string
	elapsed  time.Duration
	snap     chan Snapshot
}

func (c *Controller) Start()                       { c.post(event{kind: evStart}) }
func (c *Controller) Stop()                        { c.post(event{kind: evStop}) }
func (c *Controller) Toggle()                      { c.post(event{kind: evToggle}) }
func (c *Controller) ClearHistory()                { c.post(event{kind: evClear}) }
func (c *Controller) SetVoice(voice string)        { c.post(event{kind: evSetVoice, text: voice}) }
func (c *Controller) SetSystemPrompt(prompt string) { c.post(event{kind: evSetPrompt, text: prompt}) }

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if !c.post(event{kind: evSnapshot, snap: ch}) {
		return Snapshot{}, errors.New("session closed")
	}
	select {
	case s := <-ch:
		return s, nil
	case <-c.done:
		return Snapshot{}, errors.New("session closed")
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Run builds the detector and processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)

	c.obs.Controls(false)
	c.emitStatus()

	go func() {
		d, err := c.newDetector(ctx, DetectorEvents{
			OnSpeechStart: func() { c.post(event{kind: evSpeechStart}) },
			OnSpeechEnd:   func(s []float32) { c.post(event{kind: evSpeechEnd, samples: s}) },
			OnMisfire:     func() { c.post(event{kind: evMisfire}) },
		})
		if err != nil {
			c.post(event{kind: evDetectorFailed, err: err})
			return
		}
		c.initMu.Lock()
		defer c.initMu.Unlock()
		if c.stopped {
			closeDetector(d)
			return
		}
		c.detReady <- d
	}()

	for {
		var ev event
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case d := <-c.detReady:
			ev = event{kind: evDetectorReady, detector: d}
		case ev = <-c.events:
		}
		c.handle(ctx, ev)
		if c.afterEvent != nil {
			c.afterEvent(c)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evDetectorReady:
		if c.ready {
			return
		}
		c.detector = ev.detector
		c.ready = true
		log.Info("detector ready")
		c.logf("Voice detector ready")
		c.obs.Controls(true)
		c.emitStatus()

	case evDetectorFailed:
		c.initErr = ev.err
		log.Errorf("detector init failed: %v", ev.err)
		c.logf("Error initializing VAD: %v", ev.err)
		c.emitStatus()

	case evStart:
		c.start()

	case evStop:
		c.stop()

	case evToggle:
		if c.state == Idle {
			c.start()
		} else {
			c.stop()
		}

	case evClear:
		c.history.Clear()
		c.lastReply = ""
		c.logf("Conversation cleared")
		c.obs.Transcript(c.history.Turns())

	case evSpeechStart:
		if c.state != Listening {
			log.Warnf("speech start dropped in state %s", c.state)
			return
		}
		c.logf("Speech started")
		c.setState(CapturingUtterance)

	case evSpeechEnd:
		if c.state != Listening && c.state != CapturingUtterance {
			log.Warnf("speech end dropped in state %s", c.state)
			return
		}
		c.logf("Speech ended")
		c.sendUtterance(ctx, ev.samples)

	case evMisfire:
		if c.state != CapturingUtterance {
			log.Warnf("misfire dropped in state %s", c.state)
			return
		}
		c.logf("VAD misfire (false positive)")
		c.setState(Listening)

	case evReply:
		c.handleReply(ctx, ev)

	case evPlaybackDone:
		if ev.gen != c.gen || c.state != Playing {
			return
		}
		c.release()
		log.Playback(ev.elapsed, ev.err)
		if ev.err != nil {
			c.logf("Playback error: %v", ev.err)
		}
		c.setState(Listening)

	case evSetVoice:
		if ev.text == "" || ev.text == c.cfg.Voice {
			return
		}
		c.cfg.Voice = ev.text
		c.logf("Voice set to %s", ev.text)

	case evSetPrompt:
		if ev.text == c.cfg.SystemPrompt {
			return
		}
		c.cfg.SystemPrompt = ev.text
		c.logf("System prompt updated")

	case evSnapshot:
		ev.snap <- Snapshot{
			State:        c.state,
			Ready:        c.ready,
			History:      c.history.Turns(),
			Voice:        c.cfg.Voice,
			SystemPrompt: c.cfg.SystemPrompt,
			LastReply:    c.lastReply,
		}
	}
}

func (c *Controller) start() {
	if !c.ready || c.state != Idle {
		return
	}
	c.logf("Started listening")
	c.setState(Listening)
}

// stop forces Idle from any state. An in-flight round trip or playback is
// cancelled and whatever it reports afterwards is ignored.
func (c *Controller) stop() {
	if c.state == Idle {
		return
	}
	c.gen++
	c.release()
	c.setState(Idle)
	c.logf("Stopped listening")
}

func (c *Controller) sendUtterance(ctx context.Context, samples []float32) {
	c.setState(AwaitingReply)

	wav, err := audio.EncodeWAV(samples, c.cfg.SampleRate)
	if err != nil {
		c.logf("Error: %v", err)
		c.setState(Listening)
		return
	}
	req := backend.Request{
		Audio:        wav,
		Voice:        c.cfg.Voice,
		SystemPrompt: c.cfg.SystemPrompt,
		History:      c.history.Turns(),
	}

	c.gen++
	gen := c.gen
	rctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		reply, err := c.backend.Send(rctx, req)
		c.post(event{kind: evReply, gen: gen, reply: reply, err: err})
	}()
}

func (c *Controller) handleReply(ctx context.Context, ev event) {
	if ev.gen != c.gen || c.state != AwaitingReply {
		if ev.err == nil {
			c.logf("Discarded reply received after stop")
		} else if !errors.Is(ev.err, context.Canceled) {
			log.Warnf("stale round trip failed: %v", ev.err)
		}
		return
	}
	c.release()

	if ev.err != nil {
		var se *backend.StatusError
		switch {
		case errors.As(ev.err, &se):
			c.logf("Error: %s", se.Error())
		case errors.Is(ev.err, backend.ErrProtocol):
			c.logf("Unexpected reply: %v", ev.err)
		default:
			c.logf("Error: %v", ev.err)
		}
		log.Warnf("round trip failed: %v", ev.err)
		c.setState(Listening)
		return
	}

	reply := ev.reply
	if reply == nil {
		c.logf("Unexpected reply: empty response")
		c.setState(Listening)
		return
	}
	if m := reply.Metrics; m != nil {
		c.logf("Reply in %s", m.Total.Round(time.Millisecond))
	}

	if reply.HasUserText {
		c.appendTurn(conversation.RoleUser, reply.UserText)
		c.appendTurn(conversation.RoleAssistant, reply.AssistantText)
	}
	if reply.AssistantText != "" {
		c.lastReply = reply.AssistantText
	}

	if reply.Kind == backend.ReplyText {
		c.logf("Text reply: %s", reply.AssistantText)
		c.setState(Listening)
		return
	}

	if !reply.HasUserText && reply.AssistantText != "" {
		c.logf("Assistant: %s", reply.AssistantText)
	}

	c.setState(Playing)
	c.gen++
	gen := c.gen
	pctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	wav := reply.Audio
	go func() {
		started := time.Now()
		err := c.player.Play(pctx, wav)
		c.post(event{kind: evPlaybackDone, gen: gen, err: err, elapsed: time.Since(started)})
	}()
}

func (c *Controller) appendTurn(role conversation.Role, text string) {
	c.history.Append(role, text)
	log.Turn(string(role), text)
	if role == conversation.RoleUser {
		c.logf("You: %s", text)
	} else {
		c.logf("Assistant: %s", text)
	}
	c.obs.Transcript(c.history.Turns())
}

// setState applies the entry action of the target state. The detector is
// armed exactly while the state is in the listening phase.
func (c *Controller) setState(to State) {
	from := c.state
	c.state = to
	if from != to {
		log.StateChange(from.String(), to.String())
	}

	if to.detectorArmed() {
		if err := c.arm(); err != nil {
			c.logf("Error starting detector: %v", err)
			c.state = Idle
			log.StateChange(to.String(), Idle.String())
		}
	} else {
		c.disarm()
	}
	c.emitStatus()
}

func (c *Controller) arm() error {
	if c.armed {
		return nil
	}
	if err := c.detector.Start(); err != nil {
		return err
	}
	c.armed = true
	return nil
}

func (c *Controller) disarm() {
	if !c.armed {
		return
	}
	c.detector.Pause()
	c.armed = false
}

// release cancels the in-flight round trip or playback, if any.
func (c *Controller) release() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) shutdown() {
	c.gen++
	c.release()
	c.disarm()
	closeDetector(c.detector)

	c.initMu.Lock()
	c.stopped = true
	c.initMu.Unlock()
	select {
	case d := <-c.detReady:
		closeDetector(d)
	default:
	}
	log.SessionEnd(c.history.Len())
}

func closeDetector(d Detector) {
	if cl, ok := d.(interface{ Close() }); ok {
		cl.Close()
	}
}

func (c *Controller) emitStatus() {
	c.obs.Status(statusFor(c.state, c.ready, c.initErr))
}

func (c *Controller) logf(format string, args ...any) {
	c.obs.Log(Entry{Time: time.Now(), Text: fmt.Sprintf(format, args...)})
}
