package dialogue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/voxloop/voxloop/internal/telephony"
	llmmock "github.com/voxloop/voxloop/pkg/provider/llm/mock"
	sttmock "github.com/voxloop/voxloop/pkg/provider/stt/mock"
	ttsmock "github.com/voxloop/voxloop/pkg/provider/tts/mock"
	vadmock "github.com/voxloop/voxloop/pkg/provider/vad/mock"
)

func newTestRegistry(cfg RegistryConfig) *Registry {
	providers := Providers{
		VAD: &vadmock.Engine{},
		STT: &sttmock.Provider{},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(cfg, providers, logger, nil)
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(RegistryConfig{})
	defer r.Shutdown()

	sess, err := r.Create("call-1", &fakeWriter{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil {
		t.Fatal("nil session")
	}
	if r.Get("call-1") != sess {
		t.Error("Get returned a different session")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if r.Get("missing") != nil {
		t.Error("Get for unknown call should be nil")
	}
}

func TestRegistry_DuplicateCreateRejected(t *testing.T) {
	r := newTestRegistry(RegistryConfig{})
	defer r.Shutdown()

	if _, err := r.Create("call-1", &fakeWriter{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create("call-1", &fakeWriter{}, nil); err == nil {
		t.Error("expected error for duplicate call ID")
	}
}

func TestRegistry_CreateSTTFailure(t *testing.T) {
	providers := Providers{
		VAD: &vadmock.Engine{},
		STT: &sttmock.Provider{StartStreamErr: errTest},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(RegistryConfig{}, providers, logger, nil)

	if _, err := r.Create("call-1", &fakeWriter{}, nil); err == nil {
		t.Error("expected error when stt open fails")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_CloseAllIdempotent(t *testing.T) {
	r := newTestRegistry(RegistryConfig{})

	var mu sync.Mutex
	var ends []EndOfCall
	r.OnSessionEnd(func(e EndOfCall) {
		mu.Lock()
		defer mu.Unlock()
		ends = append(ends, e)
	})

	if _, err := r.Create("call-1", &fakeWriter{}, nil); err != nil {
		t.Fatal(err)
	}

	r.CloseAll("call-1")
	r.CloseAll("call-1")
	r.CloseAll("never-existed")

	mu.Lock()
	defer mu.Unlock()
	if len(ends) != 1 {
		t.Fatalf("hooks ran %d times, want 1", len(ends))
	}
	if ends[0].CallID != "call-1" {
		t.Errorf("hook CallID = %q", ends[0].CallID)
	}
	if ends[0].EndedAt.Before(ends[0].StartedAt) {
		t.Error("EndedAt before StartedAt")
	}
	if r.Get("call-1") != nil {
		t.Error("session still registered after close")
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	r := newTestRegistry(RegistryConfig{})

	hookCalls := 0
	var mu sync.Mutex
	r.OnSessionEnd(func(EndOfCall) {
		mu.Lock()
		defer mu.Unlock()
		hookCalls++
	})

	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Create(id, &fakeWriter{}, nil); err != nil {
			t.Fatal(err)
		}
	}
	r.Shutdown()

	if r.Len() != 0 {
		t.Errorf("Len = %d after shutdown", r.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if hookCalls != 3 {
		t.Errorf("hooks = %d, want 3", hookCalls)
	}
}

func TestRegistry_TelephonyHandler(t *testing.T) {
	r := newTestRegistry(RegistryConfig{})

	start := &telephony.StartEvent{StreamSID: "MZ7"}
	if err := r.HandleStart(context.Background(), telephony.NewWriter("MZ7", nil), start); err != nil {
		t.Fatal(err)
	}
	if r.Get("MZ7") == nil {
		t.Fatal("session not created on start")
	}

	// Unknown stream frames are dropped without panic.
	r.HandleMedia("unknown", make([]byte, 160))

	r.HandleStop("MZ7")
	if r.Get("MZ7") != nil {
		t.Error("session still present after stop")
	}
	// Socket close after stop is a no-op.
	r.HandleClose("MZ7")
}

func TestRegistry_SystemPromptTemplate(t *testing.T) {
	cfg := RegistryConfig{SystemPrompt: "You are {{agent}} for {{team}}."}
	r := newTestRegistry(cfg)
	defer r.Shutdown()

	sess, err := r.Create("call-1", &fakeWriter{}, map[string]string{
		"agent": "Vox",
		"team":  "support",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := sess.cfg.SystemPrompt; got != "You are Vox for support." {
		t.Errorf("rendered prompt = %q", got)
	}
}

func TestRenderPrompt(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]string
		want     string
	}{
		{"no params", "hello {{name}}", nil, "hello {{name}}"},
		{"substitution", "hello {{name}}", map[string]string{"name": "world"}, "hello world"},
		{"unknown placeholder kept", "{{a}} {{b}}", map[string]string{"a": "x"}, "x {{b}}"},
		{"empty template", "", map[string]string{"a": "x"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderPrompt(tc.template, tc.params); got != tc.want {
				t.Errorf("renderPrompt = %q, want %q", got, tc.want)
			}
		})
	}
}
