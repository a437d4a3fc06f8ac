// Package config provides the configuration schema, loader, and provider
// registry for the voxloop server.
//
// Configuration is read from a YAML file and overlaid with environment
// variables ([ApplyEnv]), so credentials never need to live on disk.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// LogLevel controls log verbosity for the voxloop server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
}

// ServerConfig holds network and logging settings for the voxloop server.
type ServerConfig struct {
	// ListenAddr is the TCP address the media-stream WebSocket server and
	// the health/metrics endpoints listen on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig configures the upstream speech services, one block per
// pipeline stage.
type ProvidersConfig struct {
	STT STTConfig `yaml:"stt"`
	LLM LLMConfig `yaml:"llm"`
	TTS TTSConfig `yaml:"tts"`
}

// STTConfig configures the speech-to-text duplex stream.
type STTConfig struct {
	// ClientID and ClientSecret authenticate against the STT token
	// endpoint. Usually supplied via STT_CLIENT_ID / STT_CLIENT_SECRET.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Model overrides the recognition model. Empty selects the vendor default.
	Model string `yaml:"model"`
}

// LLMConfig configures the response-generation model.
type LLMConfig struct {
	// Name selects the backend (e.g., "openai", "anthropic", "ollama").
	// Names without a dedicated implementation are routed through the
	// provider-agnostic backend.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o-mini"). Empty selects
	// the backend default for "openai"; the other providers reject an empty
	// model.
	Model string `yaml:"model"`

	// Temperature is the sampling temperature in [0, 2]. 0 selects the
	// backend default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the response length. 0 means no explicit cap.
	MaxTokens int `yaml:"max_tokens"`

	// FallbackName optionally selects a second backend used when the
	// primary fails or its circuit breaker is open.
	FallbackName string `yaml:"fallback_name"`

	// FallbackAPIKey authenticates the fallback backend. Empty reuses
	// APIKey.
	FallbackAPIKey string `yaml:"fallback_api_key"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	// Vendor selects the synthesis backend: "elevenlabs" (streaming) or
	// "openai-blocking" (one synthesis call per turn).
	Vendor string `yaml:"vendor"`

	// APIKey is the vendor API key.
	APIKey string `yaml:"api_key"`

	// Model selects the vendor's synthesis model.
	Model string `yaml:"model"`

	// VoiceID is the vendor-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Speed adjusts speaking rate in [0.5, 2.0]. 0 selects the vendor default.
	Speed float64 `yaml:"speed"`

	// Stability and Similarity tune vendor voice settings in [0, 1].
	// Zero values select vendor defaults.
	Stability  float64 `yaml:"stability"`
	Similarity float64 `yaml:"similarity"`

	// FallbackVendor optionally selects a second synthesis backend used
	// when the primary fails or its circuit breaker is open.
	FallbackVendor string `yaml:"fallback_vendor"`

	// FallbackAPIKey authenticates the fallback vendor. Empty reuses
	// APIKey.
	FallbackAPIKey string `yaml:"fallback_api_key"`
}

// DialogueConfig holds the conversation prompt and the turn-taking timing
// tunables, all in milliseconds. Zero values select the built-in defaults.
type DialogueConfig struct {
	// SystemPrompt is the agent prompt template. {{key}} placeholders are
	// filled from the telephony start event's custom parameters.
	SystemPrompt string `yaml:"system_prompt"`

	// SilenceHangoverMS is how much in-utterance silence ends a caller
	// utterance.
	SilenceHangoverMS int `yaml:"silence_hangover_ms"`

	// InterruptFastMS is the minimum caller speech duration for a
	// transcript-confirmed barge-in.
	InterruptFastMS int `yaml:"interrupt_fast_ms"`

	// InterruptSafetyMS forces a barge-in on sustained speech even without
	// a transcript.
	InterruptSafetyMS int `yaml:"interrupt_safety_ms"`

	// InterruptTTSRecentMS extends the interruptible window past the last
	// outbound audio frame.
	InterruptTTSRecentMS int `yaml:"interrupt_tts_recent_ms"`

	// HistoryRollbackMS is the window after an assistant commit in which a
	// barge-in still retracts the committed response.
	HistoryRollbackMS int `yaml:"history_rollback_ms"`

	// FlushQuietMS is the downstream audio silence after a synthesis flush
	// that marks the spoken response as complete.
	FlushQuietMS int `yaml:"flush_quiet_ms"`
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"tts": {"elevenlabs", "openai-blocking"},
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLM.FallbackName)
	validateProviderName("tts", cfg.Providers.TTS.Vendor)
	validateProviderName("tts", cfg.Providers.TTS.FallbackVendor)
	if fb := cfg.Providers.TTS.FallbackVendor; fb != "" && fb == cfg.Providers.TTS.Vendor {
		errs = append(errs, errors.New("providers.tts.fallback_vendor must differ from vendor"))
	}
	if fb := cfg.Providers.LLM.FallbackName; fb != "" && fb == cfg.Providers.LLM.Name {
		errs = append(errs, errors.New("providers.llm.fallback_name must differ from name"))
	}

	// Credential availability warnings. Credentials usually arrive via the
	// environment overlay, so absence is not a hard error.
	if cfg.Providers.STT.ClientID == "" || cfg.Providers.STT.ClientSecret == "" {
		slog.Warn("stt client credentials not configured; transcription streams will fail to authenticate")
	}
	if cfg.Providers.TTS.APIKey == "" {
		slog.Warn("tts api key not configured; synthesis streams will fail to authenticate")
	}

	// LLM
	if t := cfg.Providers.LLM.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("providers.llm.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Providers.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.max_tokens %d must not be negative", cfg.Providers.LLM.MaxTokens))
	}

	// TTS voice settings
	if s := cfg.Providers.TTS.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("providers.tts.speed %.2f is out of range [0.5, 2.0]", s))
	}
	if s := cfg.Providers.TTS.Stability; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("providers.tts.stability %.2f is out of range [0, 1]", s))
	}
	if s := cfg.Providers.TTS.Similarity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("providers.tts.similarity %.2f is out of range [0, 1]", s))
	}

	// Dialogue timing tunables
	for _, tun := range []struct {
		name string
		ms   int
	}{
		{"dialogue.silence_hangover_ms", cfg.Dialogue.SilenceHangoverMS},
		{"dialogue.interrupt_fast_ms", cfg.Dialogue.InterruptFastMS},
		{"dialogue.interrupt_safety_ms", cfg.Dialogue.InterruptSafetyMS},
		{"dialogue.interrupt_tts_recent_ms", cfg.Dialogue.InterruptTTSRecentMS},
		{"dialogue.history_rollback_ms", cfg.Dialogue.HistoryRollbackMS},
		{"dialogue.flush_quiet_ms", cfg.Dialogue.FlushQuietMS},
	} {
		if tun.ms < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", tun.name, tun.ms))
		}
	}
	if fast, safety := cfg.Dialogue.InterruptFastMS, cfg.Dialogue.InterruptSafetyMS; fast > 0 && safety > 0 && safety < fast {
		errs = append(errs, fmt.Errorf("dialogue.interrupt_safety_ms %d must not be below interrupt_fast_ms %d", safety, fast))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
