// Package conversation holds the transcript of a voice session: an ordered
// list of user and assistant turns that travels with every backend request.
package conversation

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the transcript. Turns are values and are never
// modified after they are appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered transcript. It is not safe for concurrent use; the
// session controller is its only writer.
type History struct {
	turns []Turn
}

func (h *History) Append(role Role, content string) Turn {
	t := Turn{Role: role, Content: content}
	h.turns = append(h.turns, t)
	return t
}

// Turns returns a copy of the transcript in chronological order.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int { return len(h.turns) }

func (h *History) Clear() { h.turns = nil }

// MarshalJSON encodes the transcript as an array of {role, content}. An empty
// history encodes as [] rather than null.
func (h *History) MarshalJSON() ([]byte, error) {
	return EncodeTurns(h.turns)
}

func EncodeTurns(turns []Turn) ([]byte, error) {
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(turns)
}
