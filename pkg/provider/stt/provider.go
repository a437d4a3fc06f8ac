// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle: once
// opened, a session accepts raw audio chunks and emits a single ordered stream
// of Transcript values, low-latency partials interleaved with authoritative
// finals. Keeping both on one channel preserves the provider's emission order,
// which the dialogue layer depends on when it promotes the last partial after
// an interrupt.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony sessions use 8000.
	SampleRate int

	// Encoding names the wire format of the audio chunks, e.g. "MULAW" or
	// "LINEAR16". An empty string selects the provider default.
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "ko-KR"). An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider for
	// transcription. The chunk must match the SampleRate and Encoding agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Results returns a read-only channel that emits Transcript values in
	// provider order: interim partials as the provider revises its guess,
	// then the final that supersedes them. The channel is closed when the
	// session ends, after any results flushed during Close have been
	// delivered.
	Results() <-chan Transcript

	// Close signals end of audio, waits briefly for the provider to flush
	// pending results, and releases all associated resources. After Close
	// returns, the Results channel is closed. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously, one per active call.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
