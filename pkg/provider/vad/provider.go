// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine classifies short PCM frames as voice or silence and surfaces the
// classifier as a stateful, per-stream session. Each session maintains its own
// smoothing history so that multiple concurrent calls can be processed
// independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// classification, making it suitable for the low-latency gate that sits between
// the telephony leg and STT.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Aggressiveness selects how eagerly a classifier labels a frame as voice.
// Higher modes admit less noise at the cost of clipping quiet speech onsets.
type Aggressiveness int

const (
	// Quality favours recall: almost anything above the noise floor is voice.
	Quality Aggressiveness = iota

	// Balanced is a middle ground suitable for clean lines.
	Balanced

	// Aggressive suppresses most line noise.
	Aggressive

	// VeryAggressive is the telephony default. It tolerates codec hiss and
	// background chatter on 8 kHz lines.
	VeryAggressive
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// Mode tunes the classifier thresholds.
	Mode Aggressiveness
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations without a
// live classifier. Reset clears detection state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the
	// classification. The frame must be raw little-endian PCM16 at the
	// SampleRate and FrameSizeMs configured when the session was created.
	// Returns an error if the frame size is wrong.
	//
	// ProcessFrame is called from the audio pipeline loop and must not block.
	ProcessFrame(frame []byte) (Result, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when a new utterance window begins so stale history
	// from the previous segment does not affect subsequent frames.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
