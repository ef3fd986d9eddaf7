package session

import (
	"time"

	"parley/conversation"
)

// Entry is one line of the activity log.
type Entry struct {
	Time time.Time
	Text string
}

func (e Entry) String() string {
	return e.Time.Format("15:04:05") + ": " + e.Text
}

// Observer receives the controller's side channel. Methods are called from
// the controller's goroutine and must not block.
type Observer interface {
	Status(Status)
	Log(Entry)
	Controls(enabled bool)
	Transcript(turns []conversation.Turn)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Status(s Status) {
	for _, x := range o {
		x.Status(s)
	}
}

func (o Observers) Log(e Entry) {
	for _, x := range o {
		x.Log(e)
	}
}

func (o Observers) Controls(enabled bool) {
	for _, x := range o {
		x.Controls(enabled)
	}
}

func (o Observers) Transcript(turns []conversation.Turn) {
	for _, x := range o {
		x.Transcript(turns)
	}
}

type nopObserver struct{}

func (nopObserver) Status(Status)                   {}
func (nopObserver) Log(Entry)                       {}
func (nopObserver) Controls(bool)                   {}
func (nopObserver) Transcript([]conversation.Turn) {}
