package dialogue

import (
	"fmt"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/vad"
)

// maxPendingFrames caps the utterance frame queue at 30 seconds of
// audio so a stuck-open gate cannot grow without bound.
const maxPendingFrames = 1500

// gateResult describes the outcome of feeding one frame through the
// VAD gate.
type gateResult struct {
	// Started is true on the frame that opened an utterance.
	Started bool

	// Ended is true on the frame that closed an utterance after the
	// silence hangover elapsed.
	Ended bool

	// Utterance is the concatenated µ-law audio of the finished
	// utterance. Set only when Ended is true.
	Utterance []byte

	// Speaking reports the gate state after this frame. Audio is
	// forwarded to STT only while Speaking.
	Speaking bool
}

// vadGate turns per-frame voice classifications into utterance
// boundaries. Silence inside an utterance is tolerated up to the
// hangover duration; longer silence closes the utterance.
type vadGate struct {
	vad      vad.SessionHandle
	hangover time.Duration

	speaking        bool
	speechStartedAt time.Time
	lastVoiceAt     time.Time
	pending         [][]byte
	dropped         int
}

func newVADGate(session vad.SessionHandle, hangover time.Duration) *vadGate {
	return &vadGate{vad: session, hangover: hangover}
}

// processFrame classifies one 20 ms µ-law frame and advances the
// utterance state machine.
func (g *vadGate) processFrame(frame []byte, now time.Time) (gateResult, error) {
	pcm := audio.DecodeMulawLE(frame)
	res, err := g.vad.ProcessFrame(pcm)
	if err != nil {
		return gateResult{Speaking: g.speaking}, fmt.Errorf("dialogue: vad classify: %w", err)
	}

	switch {
	case res.Type == vad.Voice && !g.speaking:
		g.speaking = true
		g.speechStartedAt = now
		g.lastVoiceAt = now
		g.pending = g.pending[:0]
		g.appendPending(frame)
		return gateResult{Started: true, Speaking: true}, nil

	case res.Type == vad.Voice && g.speaking:
		g.lastVoiceAt = now
		g.appendPending(frame)
		return gateResult{Speaking: true}, nil

	case res.Type == vad.Silence && g.speaking:
		if now.Sub(g.lastVoiceAt) <= g.hangover {
			g.appendPending(frame)
			return gateResult{Speaking: true}, nil
		}
		utterance := g.concatPending()
		g.speaking = false
		g.pending = g.pending[:0]
		return gateResult{Ended: true, Utterance: utterance, Speaking: false}, nil
	}

	// Silence while idle.
	return gateResult{}, nil
}

// speechDuration reports how long the current utterance has been open.
// Zero when the gate is idle.
func (g *vadGate) speechDuration(now time.Time) time.Duration {
	if !g.speaking || g.speechStartedAt.IsZero() {
		return 0
	}
	return now.Sub(g.speechStartedAt)
}

// isSpeaking reports whether an utterance is currently open.
func (g *vadGate) isSpeaking() bool { return g.speaking }

// reset returns the gate to idle and clears the classifier's smoothing
// window.
func (g *vadGate) reset() {
	g.speaking = false
	g.speechStartedAt = time.Time{}
	g.lastVoiceAt = time.Time{}
	g.pending = g.pending[:0]
	g.vad.Reset()
}

func (g *vadGate) appendPending(frame []byte) {
	if len(g.pending) >= maxPendingFrames {
		g.dropped++
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	g.pending = append(g.pending, cp)
}

func (g *vadGate) concatPending() []byte {
	total := 0
	for _, f := range g.pending {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range g.pending {
		out = append(out, f...)
	}
	return out
}
