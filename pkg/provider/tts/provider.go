// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// token-granular streaming interface. The primary entry point is OpenStream,
// which opens a synthesis stream for one spoken response: the caller pushes
// text fragments as the LLM emits them, calls Flush when the response text is
// complete, and drains synthesized audio from the Audio channel as it becomes
// available. This enables low-latency pipelining between LLM output and the
// telephony leg.
//
// Implementations must be safe for concurrent use across streams. A single
// StreamHandle may be used by one producer goroutine (SendText/Flush/Close)
// and one consumer goroutine (Audio) concurrently.
package tts

import "context"

// StreamConfig describes the voice and audio format for a synthesis stream.
type StreamConfig struct {
	// VoiceID selects the vendor voice. Required by vendors with voice
	// catalogues; ignored by single-voice backends.
	VoiceID string

	// OutputFormat names the audio encoding for the Audio channel, e.g.
	// "ulaw_8000". An empty string selects the provider default.
	OutputFormat string

	// Stability, SimilarityBoost, and Speed tune vendor voice settings where
	// supported. Zero values select vendor defaults.
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// StreamHandle represents one open synthesis stream, scoped to a single
// spoken response.
//
// Callers must call Close when the stream is no longer needed, including
// after an interrupt, so the implementation can release its connection.
type StreamHandle interface {
	// SendText pushes a text fragment (typically one LLM token) into the
	// synthesis stream. Calling SendText after Flush or Close returns an
	// error.
	SendText(text string) error

	// Flush signals that no more text is coming and asks the vendor to
	// synthesize everything buffered. Audio continues to arrive on the
	// Audio channel until the vendor finishes.
	Flush() error

	// Audio returns a read-only channel emitting raw audio chunks in the
	// configured output format. The channel is closed when synthesis
	// completes, when the stream fails, or after Close. When the channel
	// closes earlier than expected, check Err for the failure.
	Audio() <-chan []byte

	// Err reports the first failure the stream encountered, or nil. It is
	// meaningful once the Audio channel is closed.
	Err() error

	// Close tears the stream down and drops any undelivered audio. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple streams may be
// open simultaneously, one per active call.
type Provider interface {
	// OpenStream opens a synthesis stream for one spoken response. The
	// returned StreamHandle is ready to accept text immediately.
	//
	// Returns an error if the stream cannot be started (authentication
	// failure, unknown voice, ctx already cancelled).
	OpenStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
