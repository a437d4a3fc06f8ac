package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  stt:
    client_id: id-123
    client_secret: secret-456
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    temperature: 0.7
  tts:
    vendor: elevenlabs
    api_key: el-test
    voice_id: v-42
    stability: 0.5
    similarity: 0.75
dialogue:
  system_prompt: "You are {{agent}}."
  silence_hangover_ms: 800
  interrupt_fast_ms: 500
  interrupt_safety_ms: 1500
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.STT.ClientID != "id-123" {
		t.Errorf("STT.ClientID = %q", cfg.Providers.STT.ClientID)
	}
	if cfg.Providers.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v", cfg.Providers.LLM.Temperature)
	}
	if cfg.Providers.TTS.Vendor != "elevenlabs" {
		t.Errorf("TTS.Vendor = %q", cfg.Providers.TTS.Vendor)
	}
	if cfg.Dialogue.SilenceHangoverMS != 800 {
		t.Errorf("SilenceHangoverMS = %d", cfg.Dialogue.SilenceHangoverMS)
	}
	if cfg.Dialogue.SystemPrompt != "You are {{agent}}." {
		t.Errorf("SystemPrompt = %q", cfg.Dialogue.SystemPrompt)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
  lsiten_addr: ":9090"
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("server: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoadFromReader_CollectsAllValidationErrors(t *testing.T) {
	yaml := `
server:
  log_level: verbose
providers:
  llm:
    temperature: 3.5
  tts:
    stability: 1.5
dialogue:
  interrupt_fast_ms: -1
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "temperature", "stability", "interrupt_fast_ms"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("LLM.Name = %q", cfg.Providers.LLM.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want fs not-exist", err)
	}
}
