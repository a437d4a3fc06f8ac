package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/telephony"
	"github.com/voxloop/voxloop/pkg/provider/llm"
)

// EndOfCall is the record handed to end-of-call hooks. Persistence and
// webhook delivery live outside this package.
type EndOfCall struct {
	CallID    string
	StartedAt time.Time
	EndedAt   time.Time
	History   []llm.Message
	Inbound   []byte
	Outbound  []byte
}

// EndOfCallHook runs after a session has fully closed.
type EndOfCallHook func(EndOfCall)

// RegistryConfig carries the per-deployment defaults applied to every
// call.
type RegistryConfig struct {
	// SystemPrompt is the agent prompt template. Occurrences of
	// {{name}} are replaced with the matching customParameters value
	// from the telephony start event.
	SystemPrompt string

	Session SessionConfig
}

// Registry is the process-wide store of active call sessions. It
// implements telephony.Handler, so the media server feeds it directly.
type Registry struct {
	cfg       RegistryConfig
	providers Providers
	logger    *slog.Logger
	metrics   Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closing  map[string]struct{}
	hooks    []EndOfCallHook
}

// NewRegistry creates an empty Registry. A nil logger falls back to
// slog.Default; a nil metrics falls back to the no-op.
func NewRegistry(cfg RegistryConfig, providers Providers, logger *slog.Logger, metrics Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Registry{
		cfg:       cfg,
		providers: providers,
		logger:    logger,
		metrics:   metrics,
		sessions:  make(map[string]*Session),
		closing:   make(map[string]struct{}),
	}
}

// OnSessionEnd registers a hook invoked after each session closes.
// Hooks run in registration order on the closing goroutine.
func (r *Registry) OnSessionEnd(hook EndOfCallHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Create opens the upstream streams for a new call and starts its
// session actor. Fails when a session for callID already exists.
func (r *Registry) Create(callID string, writer FrameWriter, params map[string]string) (*Session, error) {
	cfg := r.cfg.Session
	cfg.CallID = callID
	cfg.SystemPrompt = renderPrompt(r.cfg.SystemPrompt, params)

	r.mu.Lock()
	if _, exists := r.sessions[callID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("dialogue: session %q already exists", callID)
	}
	r.mu.Unlock()

	sess, err := newSession(cfg, r.providers, writer, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[callID] = sess
	r.mu.Unlock()
	r.metrics.SessionStarted()
	return sess, nil
}

// Get returns the session for callID, or nil.
func (r *Registry) Get(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[callID]
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears a session down and runs the end-of-call hooks.
// Idempotent: concurrent close paths (stop event, socket close,
// upstream failure) collapse into one teardown.
func (r *Registry) CloseAll(callID string) {
	r.mu.Lock()
	if _, busy := r.closing[callID]; busy {
		r.mu.Unlock()
		return
	}
	sess, ok := r.sessions[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.closing[callID] = struct{}{}
	delete(r.sessions, callID)
	hooks := make([]EndOfCallHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	sess.close()
	r.metrics.SessionEnded()
	summary := sess.summary(time.Now())
	r.logger.Info("session closed",
		"call_id", callID,
		"history_len", len(summary.History),
		"duration_ms", summary.EndedAt.Sub(summary.StartedAt).Milliseconds())

	for _, hook := range hooks {
		hook(summary)
	}

	r.mu.Lock()
	delete(r.closing, callID)
	r.mu.Unlock()
}

// Shutdown closes every active session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.CloseAll(id)
	}
}

// ---- telephony.Handler ----

// HandleStart creates the session for a new media stream and kicks off
// the greeting turn.
func (r *Registry) HandleStart(_ context.Context, w *telephony.Writer, start *telephony.StartEvent) error {
	sess, err := r.Create(start.StreamSID, w, start.CustomParameters)
	if err != nil {
		return err
	}
	sess.Greet()
	return nil
}

// HandleMedia routes one frame to its session. Frames for unknown
// streams are dropped.
func (r *Registry) HandleMedia(streamSID string, frame []byte) {
	if sess := r.Get(streamSID); sess != nil {
		sess.HandleMedia(frame)
	}
}

// HandleStop closes the session on the carrier's stop event.
func (r *Registry) HandleStop(streamSID string) {
	r.CloseAll(streamSID)
}

// HandleClose closes the session when the socket is gone.
func (r *Registry) HandleClose(streamSID string) {
	r.CloseAll(streamSID)
}

var _ telephony.Handler = (*Registry)(nil)

// renderPrompt substitutes {{name}} placeholders with the carrier's
// custom parameters.
func renderPrompt(template string, params map[string]string) string {
	if len(params) == 0 || template == "" {
		return template
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
