// Package openaispeech provides a TTS provider backed by the OpenAI speech
// endpoint. It implements the tts.Provider interface.
//
// Unlike a duplex streaming vendor, the speech endpoint is request/response:
// the stream buffers every text fragment and issues one synthesis call when
// Flush is invoked, then delivers the result through the Audio channel in
// chunks. Interrupts behave the same as with a streaming vendor because
// Close drops any undelivered audio.
package openaispeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxloop/voxloop/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	// chunkBytes is the delivery granularity of the synthesized audio, a
	// half second of 8 kHz µ-law.
	chunkBytes = 4000
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
}

// New constructs a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaispeech: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// OpenStream returns a buffering stream that synthesizes on Flush.
func (p *Provider) OpenStream(ctx context.Context, cfg tts.StreamConfig) (tts.StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openaispeech: open stream: %w", err)
	}

	voice := cfg.VoiceID
	if voice == "" {
		voice = defaultVoice
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &stream{
		provider: p,
		voice:    voice,
		speed:    cfg.Speed,
		audio:    make(chan []byte, 16),
		ctx:      sctx,
		cancel:   cancel,
	}, nil
}

var _ tts.Provider = (*Provider)(nil)

// stream buffers text until Flush, then runs one blocking synthesis call.
type stream struct {
	provider *Provider
	voice    string
	speed    float64

	audio  chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	buf     strings.Builder
	flushed bool
	closed  bool
	err     error
}

// SendText buffers one text fragment for the eventual synthesis call.
func (s *stream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("openaispeech: stream is closed")
	}
	if s.flushed {
		return errors.New("openaispeech: stream already flushed")
	}
	s.buf.WriteString(text)
	return nil
}

// Flush issues the synthesis request for the buffered text. The call runs in
// the background; audio arrives on the Audio channel as it is read from the
// response body.
func (s *stream) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("openaispeech: stream is closed")
	}
	if s.flushed {
		s.mu.Unlock()
		return nil
	}
	s.flushed = true
	text := s.buf.String()
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		close(s.audio)
		return nil
	}

	go s.synthesize(text)
	return nil
}

func (s *stream) synthesize(text string) {
	defer close(s.audio)

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.provider.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat("ulaw"),
	}
	if s.speed != 0 {
		params.Speed = oai.Float(s.speed)
	}

	resp, err := s.provider.client.Audio.Speech.New(s.ctx, params)
	if err != nil {
		s.recordErr(fmt.Errorf("openaispeech: speech request: %w", err))
		return
	}
	defer resp.Body.Close()

	buf := make([]byte, chunkBytes)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.audio <- chunk:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.recordErr(fmt.Errorf("openaispeech: read audio: %w", err))
			}
			return
		}
	}
}

// Audio returns the synthesized audio channel.
func (s *stream) Audio() <-chan []byte { return s.audio }

// Err reports the first stream failure.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close aborts any in-flight synthesis and drops undelivered audio.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	neverFlushed := !s.flushed
	s.flushed = true
	s.mu.Unlock()

	s.cancel()
	if neverFlushed {
		// No synthesis goroutine was ever started, so the channel is
		// still ours to close.
		close(s.audio)
	}
	return nil
}

func (s *stream) recordErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
