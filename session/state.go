package session

import "parley/conversation"

type State int

const (
	Idle State = iota
	Listening
	CapturingUtterance
	AwaitingReply
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case CapturingUtterance:
		return "capturing"
	case AwaitingReply:
		return "awaiting_reply"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Listening phase: the detector is analyzing the microphone.
func (s State) detectorArmed() bool {
	return s == Listening || s == CapturingUtterance
}

type Indicator string

const (
	IndicatorInactive  Indicator = "inactive"
	IndicatorActive    Indicator = "active"
	IndicatorListening Indicator = "listening"
)

type Status struct {
	State     State
	Indicator Indicator
	Label     string
}

func statusFor(s State, ready bool, initErr error) Status {
	st := Status{State: s}
	switch s {
	case Idle:
		st.Indicator = IndicatorInactive
		switch {
		case initErr != nil:
			st.Label = "Microphone unavailable"
		case !ready:
			st.Label = "Initializing..."
		default:
			st.Label = "Microphone paused"
		}
	case Listening:
		st.Indicator, st.Label = IndicatorListening, "Listening..."
	case CapturingUtterance:
		st.Indicator, st.Label = IndicatorActive, "Speech detected!"
	case AwaitingReply:
		st.Indicator, st.Label = IndicatorActive, "Processing audio..."
	case Playing:
		st.Indicator, st.Label = IndicatorActive, "Playing response..."
	}
	return st
}

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	State        State
	Ready        bool
	History      []conversation.Turn
	Voice        string
	SystemPrompt string
	LastReply    string
}
