package hotkey

import "time"

type Gesture int

const (
	// Tap is a press released before the hold threshold.
	Tap Gesture = iota
	// HoldStart fires once a press outlasts the hold threshold.
	HoldStart
	// HoldEnd is the release that ends a hold.
	HoldEnd
)

func (g Gesture) String() string {
	switch g {
	case Tap:
		return "tap"
	case HoldStart:
		return "hold_start"
	case HoldEnd:
		return "hold_end"
	}
	return "unknown"
}

// Gestures classifies presses of hk as taps or holds. The returned channel
// is closed when stop is closed.
func Gestures(hk Hotkey, hold time.Duration, stop <-chan struct{}) <-chan Gesture {
	out := make(chan Gesture, 4)
	go func() {
		defer close(out)
		emit := func(g Gesture) bool {
			select {
			case out <- g:
				return true
			case <-stop:
				return false
			}
		}
		for {
			select {
			case <-hk.Keydown():
			case <-stop:
				return
			}

			timer := time.NewTimer(hold)
			select {
			case <-hk.Keyup():
				timer.Stop()
				if !emit(Tap) {
					return
				}
				continue
			case <-timer.C:
			case <-stop:
				timer.Stop()
				return
			}

			if !emit(HoldStart) {
				return
			}
			select {
			case <-hk.Keyup():
			case <-stop:
				return
			}
			if !emit(HoldEnd) {
				return
			}
		}
	}()
	return out
}
