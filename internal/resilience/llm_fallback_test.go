package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxloop/voxloop/pkg/provider/llm"
	llmmock "github.com/voxloop/voxloop/pkg/provider/llm/mock"
)

func drain(ch <-chan llm.Chunk) []llm.Chunk {
	var out []llm.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestLLMFallback_StreamsFromPrimary(t *testing.T) {
	primary := &llmmock.Provider{Chunks: []llm.Chunk{{Text: "hi"}}}
	backup := &llmmock.Provider{}

	f := NewLLMFallback(primary, "openai", testBreakerConfig())
	f.AddFallback("groq", backup)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion = %v, want nil", err)
	}
	chunks := drain(ch)
	if len(chunks) != 1 || chunks[0].Text != "hi" {
		t.Errorf("chunks = %v, want one chunk %q", chunks, "hi")
	}
	if len(backup.StreamCompletionCalls) != 0 {
		t.Errorf("backup calls = %d, want 0", len(backup.StreamCompletionCalls))
	}
}

func TestLLMFallback_FailsOverOnSetupError(t *testing.T) {
	primary := &llmmock.Provider{StreamCompletionErr: errors.New("401 unauthorized")}
	backup := &llmmock.Provider{Chunks: []llm.Chunk{{Text: "fallback"}}}

	f := NewLLMFallback(primary, "openai", testBreakerConfig())
	f.AddFallback("groq", backup)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion = %v, want nil", err)
	}
	chunks := drain(ch)
	if len(chunks) != 1 || chunks[0].Text != "fallback" {
		t.Errorf("chunks = %v, want fallback chunk", chunks)
	}
}

func TestLLMFallback_AllBackendsDown(t *testing.T) {
	primary := &llmmock.Provider{StreamCompletionErr: errors.New("down")}
	backup := &llmmock.Provider{StreamCompletionErr: errors.New("also down")}

	f := NewLLMFallback(primary, "openai", testBreakerConfig())
	f.AddFallback("groq", backup)

	_, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("StreamCompletion = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_CompleteFailsOver(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	backup := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "pong"},
	}

	f := NewLLMFallback(primary, "openai", testBreakerConfig())
	f.AddFallback("groq", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete = %v, want nil", err)
	}
	if resp.Content != "pong" {
		t.Errorf("response = %q, want pong", resp.Content)
	}
}
