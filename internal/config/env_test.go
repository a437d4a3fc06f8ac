package config

import "testing"

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.STT.ClientID = "from-yaml"
	cfg.Providers.LLM.Temperature = 0.7
	cfg.Dialogue.SilenceHangoverMS = 800

	applyEnv(cfg, mapLookup(map[string]string{
		"STT_CLIENT_ID":       "from-env",
		"STT_CLIENT_SECRET":   "hunter2",
		"LLM_API_KEY":         "sk-env",
		"LLM_MODEL":           "gpt-4o",
		"LLM_TEMPERATURE":     "0.2",
		"TTS_VENDOR":          "openai-blocking",
		"TTS_VOICE":           "alloy",
		"TTS_SPEED":           "1.1",
		"VAD_SILENCE_MS":      "600",
		"INTERRUPT_FAST_MS":   "400",
		"HISTORY_ROLLBACK_MS": "2500",
	}))

	if cfg.Providers.STT.ClientID != "from-env" {
		t.Errorf("ClientID = %q", cfg.Providers.STT.ClientID)
	}
	if cfg.Providers.STT.ClientSecret != "hunter2" {
		t.Errorf("ClientSecret = %q", cfg.Providers.STT.ClientSecret)
	}
	if cfg.Providers.LLM.APIKey != "sk-env" || cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("LLM = %+v", cfg.Providers.LLM)
	}
	if cfg.Providers.LLM.Temperature != 0.2 {
		t.Errorf("Temperature = %v", cfg.Providers.LLM.Temperature)
	}
	if cfg.Providers.TTS.Vendor != "openai-blocking" || cfg.Providers.TTS.VoiceID != "alloy" {
		t.Errorf("TTS = %+v", cfg.Providers.TTS)
	}
	if cfg.Providers.TTS.Speed != 1.1 {
		t.Errorf("Speed = %v", cfg.Providers.TTS.Speed)
	}
	if cfg.Dialogue.SilenceHangoverMS != 600 {
		t.Errorf("SilenceHangoverMS = %d", cfg.Dialogue.SilenceHangoverMS)
	}
	if cfg.Dialogue.InterruptFastMS != 400 {
		t.Errorf("InterruptFastMS = %d", cfg.Dialogue.InterruptFastMS)
	}
	if cfg.Dialogue.HistoryRollbackMS != 2500 {
		t.Errorf("HistoryRollbackMS = %d", cfg.Dialogue.HistoryRollbackMS)
	}
}

func TestApplyEnv_UnsetAndEmptyKeepYAML(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.LLM.Model = "gpt-4o-mini"
	cfg.Dialogue.FlushQuietMS = 500

	applyEnv(cfg, mapLookup(map[string]string{
		"LLM_MODEL": "",
	}))

	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, empty env should not clear it", cfg.Providers.LLM.Model)
	}
	if cfg.Dialogue.FlushQuietMS != 500 {
		t.Errorf("FlushQuietMS = %d", cfg.Dialogue.FlushQuietMS)
	}
}

func TestApplyEnv_UnparsableNumbersIgnored(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.LLM.Temperature = 0.7
	cfg.Dialogue.SilenceHangoverMS = 800

	applyEnv(cfg, mapLookup(map[string]string{
		"LLM_TEMPERATURE": "warm",
		"VAD_SILENCE_MS":  "0.8s",
	}))

	if cfg.Providers.LLM.Temperature != 0.7 {
		t.Errorf("Temperature = %v", cfg.Providers.LLM.Temperature)
	}
	if cfg.Dialogue.SilenceHangoverMS != 800 {
		t.Errorf("SilenceHangoverMS = %d", cfg.Dialogue.SilenceHangoverMS)
	}
}
