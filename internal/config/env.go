package config

import (
	"log/slog"
	"os"
	"strconv"
)

// ApplyEnv overlays environment variables onto cfg. A variable that is set
// to a non-empty value wins over the YAML value, so credentials can be
// injected at deploy time without touching the file; an empty value leaves
// the YAML value in place. Unparsable numeric values are logged and
// ignored.
//
// Recognised variables:
//
//	STT_CLIENT_ID, STT_CLIENT_SECRET
//	LLM_API_KEY, LLM_MODEL, LLM_TEMPERATURE
//	TTS_VENDOR, TTS_MODEL, TTS_VOICE, TTS_SPEED, TTS_STABILITY, TTS_SIMILARITY
//	VAD_SILENCE_MS, INTERRUPT_FAST_MS, INTERRUPT_SAFETY_MS,
//	INTERRUPT_TTS_RECENT_MS, HISTORY_ROLLBACK_MS, TTS_FLUSH_QUIET_MS
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	setString(lookup, "STT_CLIENT_ID", &cfg.Providers.STT.ClientID)
	setString(lookup, "STT_CLIENT_SECRET", &cfg.Providers.STT.ClientSecret)

	setString(lookup, "LLM_API_KEY", &cfg.Providers.LLM.APIKey)
	setString(lookup, "LLM_MODEL", &cfg.Providers.LLM.Model)
	setFloat(lookup, "LLM_TEMPERATURE", &cfg.Providers.LLM.Temperature)

	setString(lookup, "TTS_VENDOR", &cfg.Providers.TTS.Vendor)
	setString(lookup, "TTS_MODEL", &cfg.Providers.TTS.Model)
	setString(lookup, "TTS_VOICE", &cfg.Providers.TTS.VoiceID)
	setFloat(lookup, "TTS_SPEED", &cfg.Providers.TTS.Speed)
	setFloat(lookup, "TTS_STABILITY", &cfg.Providers.TTS.Stability)
	setFloat(lookup, "TTS_SIMILARITY", &cfg.Providers.TTS.Similarity)

	setInt(lookup, "VAD_SILENCE_MS", &cfg.Dialogue.SilenceHangoverMS)
	setInt(lookup, "INTERRUPT_FAST_MS", &cfg.Dialogue.InterruptFastMS)
	setInt(lookup, "INTERRUPT_SAFETY_MS", &cfg.Dialogue.InterruptSafetyMS)
	setInt(lookup, "INTERRUPT_TTS_RECENT_MS", &cfg.Dialogue.InterruptTTSRecentMS)
	setInt(lookup, "HISTORY_ROLLBACK_MS", &cfg.Dialogue.HistoryRollbackMS)
	setInt(lookup, "TTS_FLUSH_QUIET_MS", &cfg.Dialogue.FlushQuietMS)
}

func setString(lookup func(string) (string, bool), key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setFloat(lookup func(string) (string, bool), key string, dst *float64) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring unparsable environment variable", "key", key, "value", v, "err", err)
		return
	}
	*dst = f
}

func setInt(lookup func(string) (string, bool), key string, dst *int) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring unparsable environment variable", "key", key, "value", v, "err", err)
		return
	}
	*dst = n
}
