package resilience

import (
	"context"
	"time"

	"github.com/lingopair/lingopair/pkg/provider/asr"
	"github.com/lingopair/lingopair/pkg/provider/mt"
	"github.com/lingopair/lingopair/pkg/provider/tts"
	"github.com/lingopair/lingopair/pkg/types"
)

// ASRFallback implements [asr.Provider] with failover across backends.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg BreakerConfig) *ASRFallback {
	return &ASRFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognition backend.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs recognition on the first healthy backend.
func (f *ASRFallback) Transcribe(ctx context.Context, pcm []float32, language string) (types.Transcript, error) {
	return Execute(f.group, func(p asr.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, pcm, language)
	})
}

// Close releases every backend.
func (f *ASRFallback) Close() error {
	f.group.Each(func(p asr.Provider) { _ = p.Close() })
	return nil
}

// MTFallback implements [mt.Provider] with failover across backends.
type MTFallback struct {
	group *FallbackGroup[mt.Provider]
}

var _ mt.Provider = (*MTFallback)(nil)

// NewMTFallback creates an [MTFallback] with primary as the preferred
// backend.
func NewMTFallback(primary mt.Provider, primaryName string, cfg BreakerConfig) *MTFallback {
	return &MTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional translation backend.
func (f *MTFallback) AddFallback(name string, provider mt.Provider) {
	f.group.AddFallback(name, provider)
}

// Translate runs translation on the first healthy backend.
func (f *MTFallback) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return Execute(f.group, func(p mt.Provider) (string, error) {
		return p.Translate(ctx, text, sourceLang, targetLang)
	})
}

// Close releases every backend.
func (f *MTFallback) Close() error {
	f.group.Each(func(p mt.Provider) { _ = p.Close() })
	return nil
}

// TTSFallback implements [tts.Provider] with failover across backends. With
// a single backend it still pays off: once the breaker opens, utterances
// skip synthesis immediately instead of stalling at the stage deadline.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg BreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesis backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize runs synthesis on the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return Execute(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, language)
	})
}

// Close releases every backend.
func (f *TTSFallback) Close() error {
	f.group.Each(func(p tts.Provider) { _ = p.Close() })
	return nil
}

// DefaultBreakerConfig is the breaker tuning used for provider wrappers; the
// reset timeout is short enough that a recovered model server is picked up
// within a conversation.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:    5,
		ResetTimeout:   30 * time.Second,
		ProbeSuccesses: 2,
	}
}
