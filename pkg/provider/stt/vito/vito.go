// Package vito provides a VITO-backed STT provider using the VITO streaming
// WebSocket API. It implements the stt.Provider interface.
//
// VITO authenticates with short-lived bearer tokens obtained from a
// form-encoded credential exchange. The provider caches one token and shares
// it across sessions, renewing it when it expires or when a dial is rejected
// with 401.
package vito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop/voxloop/pkg/provider/stt"
)

const (
	defaultAPIBase   = "https://openapi.vito.ai"
	defaultWSBase    = "wss://openapi.vito.ai"
	tokenPath        = "/v1/authenticate"
	streamPath       = "/v1/transcribe:streaming"
	defaultModelName = "sommers_ko"

	// connectTimeout bounds the WebSocket dial. Exceeding it is fatal for
	// the call being set up.
	connectTimeout = 10 * time.Second

	// closeGrace is how long Close waits for results the service flushes
	// after the EOS sentinel.
	closeGrace = 500 * time.Millisecond
)

// Option is a functional option for configuring the VITO Provider.
type Option func(*Provider)

// WithModelName sets the recognition model (e.g., "sommers_ko").
func WithModelName(name string) Option {
	return func(p *Provider) {
		p.modelName = name
	}
}

// WithHTTPClient sets the HTTP client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithEndpoints overrides the API and WebSocket base URLs. Intended for tests
// and self-hosted gateways.
func WithEndpoints(apiBase, wsBase string) Option {
	return func(p *Provider) {
		p.apiBase = apiBase
		p.wsBase = wsBase
	}
}

// Provider implements stt.Provider backed by the VITO streaming API.
type Provider struct {
	clientID     string
	clientSecret string
	modelName    string
	apiBase      string
	wsBase       string
	httpClient   *http.Client

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a new VITO Provider. Both credentials must be non-empty.
func New(clientID, clientSecret string, opts ...Option) (*Provider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("vito: client credentials must not be empty")
	}
	p := &Provider{
		clientID:     clientID,
		clientSecret: clientSecret,
		modelName:    defaultModelName,
		apiBase:      defaultAPIBase,
		wsBase:       defaultWSBase,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// tokenResponse is the JSON body of a successful credential exchange.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpireAt    int64  `json:"expire_at"`
}

// bearerToken returns a cached token, exchanging credentials when the cache
// is empty or within a minute of expiry.
func (p *Provider) bearerToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()
	if p.token != "" && time.Until(p.tokenExpiry) > time.Minute {
		return p.token, nil
	}
	return p.refreshTokenLocked(ctx)
}

// invalidateToken drops the cached token so the next use exchanges
// credentials again. Called after a 401 dial rejection.
func (p *Provider) invalidateToken() {
	p.tokenMu.Lock()
	p.token = ""
	p.tokenMu.Unlock()
}

func (p *Provider) refreshTokenLocked(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBase+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("vito: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vito: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vito: token exchange returned %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("vito: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("vito: token response missing access_token")
	}

	p.token = tr.AccessToken
	p.tokenExpiry = time.Unix(tr.ExpireAt, 0)
	return p.token, nil
}

// StartStream opens a streaming transcription session with VITO. A dial
// rejected with 401 invalidates the cached token and retries once with a
// fresh one.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("vito: build URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := p.dial(dialCtx, wsURL, false)
	if err != nil {
		return nil, err
	}

	sess := &session{
		conn:     conn,
		results:  make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		readExit: make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(context.WithoutCancel(ctx))
	go sess.writeLoop(context.WithoutCancel(ctx))

	return sess, nil
}

func (p *Provider) dial(ctx context.Context, wsURL string, retried bool) (*websocket.Conn, error) {
	token, err := p.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if !retried && resp != nil && resp.StatusCode == http.StatusUnauthorized {
			p.invalidateToken()
			return p.dial(ctx, wsURL, true)
		}
		return nil, fmt.Errorf("vito: dial: %w", err)
	}
	return conn, nil
}

// buildURL constructs the VITO streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.wsBase + streamPath)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = 8000
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = "MULAW"
	}

	q := u.Query()
	q.Set("model_name", p.modelName)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("encoding", enc)
	q.Set("use_itn", "true")
	q.Set("use_disfluency_filter", "true")
	q.Set("use_profanity_filter", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// vitoResponse is the JSON structure of a downstream result frame.
type vitoResponse struct {
	Seq          int  `json:"seq"`
	Final        bool `json:"final"`
	Alternatives []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

// session is a live VITO streaming session. It implements stt.SessionHandle.
type session struct {
	conn    *websocket.Conn
	results chan stt.Transcript
	audio   chan []byte

	done     chan struct{}
	readExit chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// SendAudio queues a µ-law audio chunk for delivery to VITO.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("vito: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("vito: session is closed")
	}
}

// Results returns the ordered transcript channel.
func (s *session) Results() <-chan stt.Transcript { return s.results }

// Close signals end of audio with the EOS sentinel, waits out the flush
// grace so trailing finals can land, then tears the connection down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte("EOS"))
		timer := time.NewTimer(closeGrace)
		select {
		case <-s.readExit:
		case <-timer.C:
		}
		timer.Stop()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages upstream.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain buffered audio so the tail of the utterance reaches
			// the recognizer before EOS.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON result frames and forwards them, partials and
// finals alike, on the single ordered results channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)
	defer close(s.readExit)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, ok := parseResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.results <- t:
		case <-s.done:
			// Still deliver flush-grace results if there is room.
			select {
			case s.results <- t:
			default:
			}
		}
	}
}

// parseResponse parses a raw downstream message into a Transcript. Returns
// (zero, false) if the message should be ignored.
func parseResponse(data []byte) (stt.Transcript, bool) {
	var resp vitoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if len(resp.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := resp.Alternatives[0]
	if alt.Text == "" {
		return stt.Transcript{}, false
	}
	return stt.Transcript{
		Text:       alt.Text,
		IsFinal:    resp.Final,
		Confidence: alt.Confidence,
		Seq:        resp.Seq,
	}, true
}
