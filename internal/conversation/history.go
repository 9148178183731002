package conversation

import "github.com/antoniostano/taskpilot/internal/gateway"

// DefaultHistoryLimit is the number of turns kept for prompt assembly.
const DefaultHistoryLimit = 5

// History is a bounded, ordered list of prior turns. It is not safe for concurrent use;
// Session guards it.
type History struct {
	limit    int
	messages []gateway.Message
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, messages: make([]gateway.Message, 0, limit+1)}
}

// Append adds a message and drops the oldest entries until the cap holds.
func (h *History) Append(msg gateway.Message) {
	h.messages = append(h.messages, msg)
	if over := len(h.messages) - h.limit; over > 0 {
		h.messages = append(h.messages[:0], h.messages[over:]...)
	}
}

// Messages returns a copy in insertion order.
func (h *History) Messages() []gateway.Message {
	out := make([]gateway.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int   { return len(h.messages) }
func (h *History) Limit() int { return h.limit }
