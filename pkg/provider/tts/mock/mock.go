// Package mock provides a test double for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/lingopair/lingopair/pkg/audio"
	"github.com/lingopair/lingopair/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Text     string
	Language string
}

// Provider is a mock implementation of tts.Provider. By default it returns a
// valid (silent) WAV blob whose duration scales with the text length, so
// callers computing lockout windows from audio length see plausible values.
type Provider struct {
	mu sync.Mutex

	// Result, when non-nil, is returned by every Synthesize call instead of
	// the generated blob.
	Result []byte

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// SampleRate of the generated blob. Defaults to 22050.
	SampleRate int

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Language: language})
	result, errv, rate := p.Result, p.Err, p.SampleRate
	p.mu.Unlock()

	if errv != nil {
		return nil, errv
	}
	if result != nil {
		return result, nil
	}
	if rate <= 0 {
		rate = 22050
	}
	// ~60 ms of silence per character.
	samples := len(text) * rate * 60 / 1000
	if samples == 0 {
		samples = rate / 10
	}
	return audio.EncodeWAV(make([]byte, samples*2), rate, 1), nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Calls returns a snapshot of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
