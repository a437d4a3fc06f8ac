package resilience

import (
	"context"

	"github.com/voxloop/voxloop/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across synthesis
// vendors. Only stream setup is covered: once a StreamHandle is open,
// mid-stream failures surface through the handle as usual.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers an additional synthesis vendor.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// OpenStream opens a synthesis stream on the first healthy vendor.
func (f *TTSFallback) OpenStream(ctx context.Context, cfg tts.StreamConfig) (tts.StreamHandle, error) {
	return Try(f.group, func(p tts.Provider) (tts.StreamHandle, error) {
		return p.OpenStream(ctx, cfg)
	})
}
