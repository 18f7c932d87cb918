package chat

import (
	"slices"

	"codesync/internal/models"
)

// History is the bounded, de-duplicated list of chat messages a client shows.
// Messages are identified by (userId, timestamp).
type History struct {
	limit int
	msgs  []models.ChatMessage
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = models.ChatHistoryLimit
	}
	return &History{limit: limit}
}

// Append adds m unless an equal (userId, timestamp) message is already held.
// The oldest messages are dropped beyond the limit.
func (h *History) Append(m models.ChatMessage) bool {
	if h.contains(m) {
		return false
	}
	h.msgs = append(h.msgs, m)
	h.truncate()
	return true
}

// Replace swaps the history for a snapshot, keeping its most recent entries.
func (h *History) Replace(snapshot []models.ChatMessage) {
	h.msgs = h.msgs[:0]
	for _, m := range snapshot {
		if !h.contains(m) {
			h.msgs = append(h.msgs, m)
		}
	}
	h.truncate()
}

func (h *History) Messages() []models.ChatMessage { return slices.Clone(h.msgs) }

func (h *History) Len() int { return len(h.msgs) }

func (h *History) contains(m models.ChatMessage) bool {
	return slices.ContainsFunc(h.msgs, func(o models.ChatMessage) bool {
		return o.UserID == m.UserID && o.Timestamp == m.Timestamp
	})
}

func (h *History) truncate() {
	if over := len(h.msgs) - h.limit; over > 0 {
		h.msgs = slices.Delete(h.msgs, 0, over)
	}
}
