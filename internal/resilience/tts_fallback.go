package resilience

import (
	"context"

	"github.com/MrWong99/aura/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends. A response without audio counts as a failure.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Synthesize implements tts.Provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (string, error) {
	return Do(ctx, f.group, func(p tts.Provider) (string, error) {
		return p.Synthesize(ctx, req)
	})
}
