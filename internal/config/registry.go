package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/provider/llm/anyllm"
	oaillm "github.com/voxloop/voxloop/pkg/provider/llm/openai"
	"github.com/voxloop/voxloop/pkg/provider/tts"
	"github.com/voxloop/voxloop/pkg/provider/tts/elevenlabs"
	"github.com/voxloop/voxloop/pkg/provider/tts/openaispeech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         map[string]func(LLMConfig) (llm.Provider, error)
	llmFallback func(LLMConfig) (llm.Provider, error)
	tts         map[string]func(TTSConfig) (tts.Provider, error)
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(LLMConfig) (llm.Provider, error)),
		tts: make(map[string]func(TTSConfig) (tts.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterLLMFallback registers the factory used for LLM provider names
// without a dedicated registration.
func (r *Registry) RegisterLLMFallback(factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmFallback = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// cfg.Name, falling back to the fallback factory for unregistered names.
// Returns [ErrProviderNotRegistered] when neither exists.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Name]
	if !ok {
		factory = r.llmFallback
	}
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTTS instantiates a TTS provider using the factory registered under
// cfg.Vendor. Returns [ErrProviderNotRegistered] for unknown vendors.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Vendor]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Vendor)
	}
	return factory(cfg)
}

// DefaultRegistry returns a [Registry] with all built-in provider factories
// wired: the native OpenAI chat backend, the provider-agnostic backend for
// every other LLM name, and both synthesis vendors.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterLLM("openai", func(cfg LLMConfig) (llm.Provider, error) {
		var opts []oaillm.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(cfg.BaseURL))
		}
		return oaillm.New(cfg.APIKey, cfg.Model, opts...)
	})

	r.RegisterLLMFallback(func(cfg LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(cfg.Name, cfg.Model, opts...)
	})

	r.RegisterTTS("elevenlabs", func(cfg TTSConfig) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if cfg.Model != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.Model))
		}
		return elevenlabs.New(cfg.APIKey, opts...)
	})

	r.RegisterTTS("openai-blocking", func(cfg TTSConfig) (tts.Provider, error) {
		var opts []openaispeech.Option
		if cfg.Model != "" {
			opts = append(opts, openaispeech.WithModel(cfg.Model))
		}
		return openaispeech.New(cfg.APIKey, opts...)
	})

	return r
}
