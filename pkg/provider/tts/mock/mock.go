// Package mock provides test doubles for the tts package interfaces.
//
// Use Provider to verify that streams are opened with the expected
// StreamConfig. Use Stream to inject audio chunks and inspect the text
// fragments that were sent.
//
// Example:
//
//	st := mock.NewStream()
//	prov := &mock.Provider{Stream: st}
//	handle, _ := prov.OpenStream(ctx, cfg)
//	st.EmitAudio([]byte{0xFF, 0xFF})
//	st.FinishAudio()
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/tts"
)

// OpenStreamCall records a single invocation of Provider.OpenStream.
type OpenStreamCall struct {
	// Cfg is the StreamConfig passed to OpenStream.
	Cfg tts.StreamConfig
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Stream is the StreamHandle returned by OpenStream. If nil, OpenStream
	// returns a new default Stream.
	Stream tts.StreamHandle

	// OpenStreamErr, if non-nil, is returned as the error from OpenStream.
	OpenStreamErr error

	// OpenStreamCalls records every call to OpenStream in order.
	OpenStreamCalls []OpenStreamCall
}

// OpenStream records the call and returns Stream, OpenStreamErr.
func (p *Provider) OpenStream(_ context.Context, cfg tts.StreamConfig) (tts.StreamHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenStreamCalls = append(p.OpenStreamCalls, OpenStreamCall{Cfg: cfg})
	if p.OpenStreamErr != nil {
		return nil, p.OpenStreamErr
	}
	if p.Stream != nil {
		return p.Stream, nil
	}
	return NewStream(), nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenStreamCalls = nil
}

var _ tts.Provider = (*Provider)(nil)

// Stream is a mock implementation of tts.StreamHandle.
type Stream struct {
	mu sync.Mutex

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// FlushErr, if non-nil, is returned by Flush.
	FlushErr error

	// StreamErr is returned by Err.
	StreamErr error

	// --- Call records ---

	// SentTexts records every text passed to SendText in order.
	SentTexts []string

	// FlushCallCount is the number of times Flush was called.
	FlushCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	audio  chan []byte
	closed bool
}

// NewStream returns a Stream ready to emit audio.
func NewStream() *Stream {
	return &Stream{audio: make(chan []byte, 64)}
}

// EmitAudio pushes an audio chunk onto the Audio channel. It is a no-op
// after Close or FinishAudio.
func (s *Stream) EmitAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.audio <- chunk
}

// FinishAudio closes the Audio channel, signalling synthesis completion.
func (s *Stream) FinishAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.audio)
}

// SendText records the call and returns SendTextErr.
func (s *Stream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: stream is closed")
	}
	s.SentTexts = append(s.SentTexts, text)
	return s.SendTextErr
}

// Flush records the call and returns FlushErr.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCallCount++
	return s.FlushErr
}

// Audio returns the audio channel fed by EmitAudio.
func (s *Stream) Audio() <-chan []byte { return s.audio }

// Err returns StreamErr.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// Close records the call and closes the Audio channel once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.audio)
	}
	return nil
}

var _ tts.StreamHandle = (*Stream)(nil)
