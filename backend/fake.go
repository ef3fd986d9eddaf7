package backend

import (
	"context"
	"errors"
	"sync"
)

type fakeResult struct {
	reply *Reply
	err   error
}

// Fake is a scripted backend. Replies are returned in the order pushed;
// after Hold, each Send blocks until Release or cancellation.
type Fake struct {
	mu       sync.Mutex
	queue    []fakeResult
	requests []Request
	hold     bool
	release  chan struct{}
	sent     chan struct{}
}

func NewFake() *Fake {
	return &Fake{
		release: make(chan struct{}),
		sent:    make(chan struct{}, 64),
	}
}

func (f *Fake) Push(reply *Reply, err error) {
	f.mu.Lock()
	f.queue = append(f.queue, fakeResult{reply, err})
	f.mu.Unlock()
}

func (f *Fake) Hold() {
	f.mu.Lock()
	f.hold = true
	f.mu.Unlock()
}

// Release lets one held Send return.
func (f *Fake) Release() { f.release <- struct{}{} }

// Sent receives once per Send call, after the request is recorded.
func (f *Fake) Sent() <-chan struct{} { return f.sent }

func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Fake) Send(ctx context.Context, req Request) (*Reply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hold := f.hold
	var res fakeResult
	if len(f.queue) > 0 {
		res, f.queue = f.queue[0], f.queue[1:]
	} else {
		res.err = errors.New("fake backend: no reply queued")
	}
	f.mu.Unlock()

	select {
	case f.sent <- struct{}{}:
	default:
	}

	if hold {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res.reply, res.err
}

func AudioReply(wav []byte, userText, assistantText string) *Reply {
	return &Reply{
		Kind:          ReplyAudio,
		Audio:         wav,
		UserText:      userText,
		HasUserText:   userText != "",
		AssistantText: assistantText,
	}
}

func TextReply(text string) *Reply {
	return &Reply{Kind: ReplyText, AssistantText: text}
}
