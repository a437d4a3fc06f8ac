// Package mock provides test doubles for the llm package interfaces.
//
// Use Provider to script streamed chunks and inspect the requests the
// dialogue layer issued.
//
// Example:
//
//	prov := &mock.Provider{
//	    Chunks: []llm.Chunk{{Text: "Hel"}, {Text: "lo"}, {FinishReason: "stop"}},
//	}
//	ch, _ := prov.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/llm"
)

// StreamCompletionCall records a single invocation of Provider.StreamCompletion.
type StreamCompletionCall struct {
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Provider.Complete.
type CompleteCall struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the scripted stream returned by StreamCompletion. Each call
	// replays the full script.
	Chunks []llm.Chunk

	// ChunkDelay, if set, is a channel the stream goroutine receives from
	// before emitting each chunk. It lets tests pace token arrival.
	ChunkDelay <-chan struct{}

	// StreamCompletionErr, if non-nil, is returned from StreamCompletion.
	StreamCompletionErr error

	// CompleteResponse is returned by Complete. If nil, Complete returns an
	// empty response.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned from Complete.
	CompleteErr error

	// StreamCompletionCalls records every call to StreamCompletion in order.
	StreamCompletionCalls []StreamCompletionCall

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall
}

// StreamCompletion records the call and replays the scripted chunks on a new
// channel. The channel closes after the last chunk or when ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCompletionCalls = append(p.StreamCompletionCalls, StreamCompletionCall{Req: req})
	chunks := make([]llm.Chunk, len(p.Chunks))
	copy(chunks, p.Chunks)
	delay := p.ChunkDelay
	err := p.StreamCompletionErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay != nil {
				select {
				case <-delay:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCompletionCalls = nil
	p.CompleteCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
