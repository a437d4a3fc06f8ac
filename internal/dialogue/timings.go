package dialogue

import "time"

// turnTimings holds the four monotonic timestamps captured along one
// turn's critical path. The record is cleared on turn completion or
// interrupt.
type turnTimings struct {
	vadEnd        time.Time
	llmCall       time.Time
	llmFirstToken time.Time
	ttsFirstChunk time.Time
}

// TurnDeltas are the per-turn latency measurements emitted on clean
// turn completion.
type TurnDeltas struct {
	// VADToLLM is speech end to LLM request dispatch.
	VADToLLM time.Duration
	// LLMFirstToken is LLM request dispatch to first streamed token.
	LLMFirstToken time.Duration
	// TokenToAudio is first LLM token to first synthesized audio frame.
	TokenToAudio time.Duration
	// EndToEnd is speech end to first synthesized audio frame.
	EndToEnd time.Duration
}

// deltas computes the four latency deltas. ok is false when any
// timestamp is missing, which happens on turns that never produced
// audio.
func (t *turnTimings) deltas() (d TurnDeltas, ok bool) {
	if t.vadEnd.IsZero() || t.llmCall.IsZero() || t.llmFirstToken.IsZero() || t.ttsFirstChunk.IsZero() {
		return TurnDeltas{}, false
	}
	return TurnDeltas{
		VADToLLM:      t.llmCall.Sub(t.vadEnd),
		LLMFirstToken: t.llmFirstToken.Sub(t.llmCall),
		TokenToAudio:  t.ttsFirstChunk.Sub(t.llmFirstToken),
		EndToEnd:      t.ttsFirstChunk.Sub(t.vadEnd),
	}, true
}

// clear resets the record for the next turn.
func (t *turnTimings) clear() {
	*t = turnTimings{}
}
