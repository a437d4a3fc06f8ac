package dialogue

import (
	"time"

	"github.com/voxloop/voxloop/pkg/provider/llm"
)

// history is the committed conversation record for one call. Assistant
// entries are appended only when a turn completes uninterrupted; a
// rollback removes the tail assistant entry when a barge-in lands just
// after the commit.
type history struct {
	entries []llm.Message

	// savedAt is when the tail assistant entry was committed. Zero when
	// the tail is not an assistant entry or was never committed.
	savedAt time.Time
}

// appendUser records a completed user utterance.
func (h *history) appendUser(text string) {
	h.entries = append(h.entries, llm.Message{Role: llm.RoleUser, Content: text})
	h.savedAt = time.Time{}
}

// commitAssistant records the assistant's finished reply.
func (h *history) commitAssistant(text string, now time.Time) {
	h.entries = append(h.entries, llm.Message{Role: llm.RoleAssistant, Content: text})
	h.savedAt = now
}

// rollback removes the tail assistant entry if it was committed within
// window before now. Reports whether an entry was removed.
func (h *history) rollback(now time.Time, window time.Duration) bool {
	if h.savedAt.IsZero() || now.Sub(h.savedAt) >= window {
		return false
	}
	n := len(h.entries)
	if n == 0 || h.entries[n-1].Role != llm.RoleAssistant {
		return false
	}
	h.entries = h.entries[:n-1]
	h.savedAt = time.Time{}
	return true
}

// clearSavedAt forgets the commit timestamp without touching entries.
func (h *history) clearSavedAt() {
	h.savedAt = time.Time{}
}

// messages returns a copy of the committed entries.
func (h *history) messages() []llm.Message {
	out := make([]llm.Message, len(h.entries))
	copy(out, h.entries)
	return out
}
