// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider
// interface.
//
// Each OpenStream call dials one stream-input WebSocket, authenticates with
// the BOI message, pushes `{text, try_trigger_generation}` frames per token,
// and decodes base64 audio frames downstream until the vendor reports
// isFinal.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxloop/voxloop/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "ulaw_8000"

	defaultStability  = 0.5
	defaultSimilarity = 0.75
	defaultSpeed      = 1.0
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the WebSocket endpoint format. Intended for tests.
// The format must contain verbs for voice ID, model, and output format.
func WithEndpoint(format string) Option {
	return func(p *Provider) {
		p.endpointFmt = format
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey      string
	model       string
	endpointFmt string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		endpointFmt: wsEndpointFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// boiMessage is the initial "begin of input" handshake that authenticates
// and configures the stream.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	Flush                bool   `json:"flush,omitempty"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OpenStream dials the stream-input WebSocket for the configured voice and
// returns a handle ready to accept text.
func (p *Provider) OpenStream(ctx context.Context, cfg tts.StreamConfig) (tts.StreamHandle, error) {
	if cfg.VoiceID == "" {
		return nil, errors.New("elevenlabs: cfg.VoiceID must not be empty")
	}

	outputFmt := cfg.OutputFormat
	if outputFmt == "" {
		outputFmt = defaultOutputFmt
	}

	wsURL := fmt.Sprintf(p.endpointFmt, cfg.VoiceID, p.model, outputFmt)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	boi := buildBOI(p.apiKey, cfg)
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	s := &stream{
		conn:  conn,
		audio: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop(context.WithoutCancel(ctx))
	return s, nil
}

// buildBOI assembles the handshake message. ElevenLabs requires a non-empty
// first text value, so a single space is sent.
func buildBOI(apiKey string, cfg tts.StreamConfig) boiMessage {
	vs := &voiceSettings{
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		Speed:           cfg.Speed,
	}
	if vs.Stability == 0 {
		vs.Stability = defaultStability
	}
	if vs.SimilarityBoost == 0 {
		vs.SimilarityBoost = defaultSimilarity
	}
	if vs.Speed == 0 {
		vs.Speed = defaultSpeed
	}
	return boiMessage{
		Text:          " ",
		VoiceSettings: vs,
		XiAPIKey:      apiKey,
	}
}

// ---- stream ----

// stream is a live ElevenLabs synthesis stream. It implements
// tts.StreamHandle.
type stream struct {
	conn  *websocket.Conn
	audio chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu      sync.Mutex
	flushed bool
	err     error
}

// SendText pushes one text fragment with the eager-generation flag set.
func (s *stream) SendText(text string) error {
	s.mu.Lock()
	if s.flushed {
		s.mu.Unlock()
		return errors.New("elevenlabs: stream already flushed")
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return errors.New("elevenlabs: stream is closed")
	default:
	}
	if text == "" {
		return nil
	}

	payload, _ := json.Marshal(textMessage{Text: text, TryTriggerGeneration: true})
	if err := s.conn.Write(context.Background(), websocket.MessageText, payload); err != nil {
		s.recordErr(fmt.Errorf("elevenlabs: send text: %w", err))
		return err
	}
	return nil
}

// Flush sends the end-of-input frame asking the vendor to synthesize
// everything buffered.
func (s *stream) Flush() error {
	s.mu.Lock()
	if s.flushed {
		s.mu.Unlock()
		return nil
	}
	s.flushed = true
	s.mu.Unlock()

	select {
	case <-s.done:
		return errors.New("elevenlabs: stream is closed")
	default:
	}

	payload, _ := json.Marshal(textMessage{Text: "", Flush: true})
	if err := s.conn.Write(context.Background(), websocket.MessageText, payload); err != nil {
		s.recordErr(fmt.Errorf("elevenlabs: flush: %w", err))
		return err
	}
	return nil
}

// Audio returns the synthesized audio channel.
func (s *stream) Audio() <-chan []byte { return s.audio }

// Err reports the first stream failure.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the stream down. Undelivered audio is dropped.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		s.wg.Wait()
	})
	return nil
}

func (s *stream) recordErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// readLoop decodes downstream frames and forwards audio until the vendor
// reports isFinal or the connection drops.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.audio)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Closed locally; not a failure.
			default:
				s.recordErr(fmt.Errorf("elevenlabs: read: %w", err))
			}
			return
		}

		chunk, final, err := parseAudioResponse(msg)
		if err != nil {
			s.recordErr(err)
			return
		}
		if chunk != nil {
			select {
			case s.audio <- chunk:
			case <-s.done:
				return
			}
		}
		if final {
			return
		}
	}
}

// parseAudioResponse decodes one downstream message. Returns the audio chunk
// (nil when the frame carries none), whether the vendor marked the stream
// final, and any vendor-reported error.
func parseAudioResponse(data []byte) (chunk []byte, final bool, err error) {
	var resp audioResponse
	if jsonErr := json.Unmarshal(data, &resp); jsonErr != nil {
		return nil, false, nil
	}
	if resp.Error != "" {
		return nil, false, fmt.Errorf("elevenlabs: vendor error: %s: %s", resp.Error, resp.Message)
	}
	if resp.Audio != "" {
		decoded, decErr := base64.StdEncoding.DecodeString(resp.Audio)
		if decErr != nil {
			return nil, false, fmt.Errorf("elevenlabs: decode audio: %w", decErr)
		}
		chunk = decoded
	}
	return chunk, resp.IsFinal, nil
}

var _ tts.Provider = (*Provider)(nil)
