package agent

import "github.com/vikashloomba/mcp-agent-go/pkg/llm"

// History is the conversation transcript. A turn starts at a user message
// and owns every assistant and tool message up to the next user message.
// When the transcript grows past its limit the oldest whole turns are
// dropped, so a tool call is never separated from its results. The turn in
// progress is never evicted, even if it alone exceeds the limit.
type History struct {
	max  int
	msgs []llm.Message
}

// NewHistory returns an empty history holding at most max messages. A
// non-positive max disables eviction.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Append adds msgs and evicts old turns if needed.
func (h *History) Append(msgs ...llm.Message) {
	h.msgs = append(h.msgs, msgs...)
	h.evict()
}

// Messages returns a copy of the transcript.
func (h *History) Messages() []llm.Message {
	return append([]llm.Message(nil), h.msgs...)
}

func (h *History) Len() int { return len(h.msgs) }

// Reset empties the transcript.
func (h *History) Reset() { h.msgs = nil }

func (h *History) evict() {
	for h.max > 0 && len(h.msgs) > h.max {
		next := -1
		for i := 1; i < len(h.msgs); i++ {
			if h.msgs[i].Role == llm.RoleUser {
				next = i
				break
			}
		}
		if next < 0 {
			return
		}
		h.msgs = append([]llm.Message(nil), h.msgs[next:]...)
	}
}

// dropCurrentTurn removes the last user message and everything after it.
func (h *History) dropCurrentTurn() {
	for i := len(h.msgs) - 1; i >= 0; i-- {
		if h.msgs[i].Role == llm.RoleUser {
			h.msgs = h.msgs[:i]
			return
		}
	}
}
