package config

import (
	"strings"
	"testing"
)

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []LogLevel{"", "verbose", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero config ok", func(*Config) {}, ""},
		{
			"bad log level",
			func(c *Config) { c.Server.LogLevel = "loud" },
			"log_level",
		},
		{
			"tls missing key file",
			func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			"cert_file and key_file",
		},
		{
			"temperature too high",
			func(c *Config) { c.Providers.LLM.Temperature = 2.5 },
			"temperature",
		},
		{
			"negative max tokens",
			func(c *Config) { c.Providers.LLM.MaxTokens = -1 },
			"max_tokens",
		},
		{
			"speed out of range",
			func(c *Config) { c.Providers.TTS.Speed = 0.1 },
			"speed",
		},
		{
			"zero speed means default",
			func(c *Config) { c.Providers.TTS.Speed = 0 },
			"",
		},
		{
			"stability out of range",
			func(c *Config) { c.Providers.TTS.Stability = -0.2 },
			"stability",
		},
		{
			"similarity out of range",
			func(c *Config) { c.Providers.TTS.Similarity = 1.1 },
			"similarity",
		},
		{
			"tts fallback same as primary",
			func(c *Config) {
				c.Providers.TTS.Vendor = "elevenlabs"
				c.Providers.TTS.FallbackVendor = "elevenlabs"
			},
			"fallback_vendor",
		},
		{
			"llm fallback same as primary",
			func(c *Config) {
				c.Providers.LLM.Name = "openai"
				c.Providers.LLM.FallbackName = "openai"
			},
			"fallback_name",
		},
		{
			"distinct tts fallback ok",
			func(c *Config) {
				c.Providers.TTS.Vendor = "elevenlabs"
				c.Providers.TTS.FallbackVendor = "openai-blocking"
			},
			"",
		},
		{
			"negative hangover",
			func(c *Config) { c.Dialogue.SilenceHangoverMS = -100 },
			"silence_hangover_ms",
		},
		{
			"safety below fast",
			func(c *Config) {
				c.Dialogue.InterruptFastMS = 900
				c.Dialogue.InterruptSafetyMS = 500
			},
			"interrupt_safety_ms",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q missing %q", err, tc.wantErr)
			}
		})
	}
}
