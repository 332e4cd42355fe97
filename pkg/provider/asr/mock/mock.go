// Package mock provides a test double for the asr package interfaces.
//
// Transcribe results can be scripted per call or derived from the input via
// TranscribeFunc; every invocation is recorded for inspection.
package mock

import (
	"context"
	"sync"

	"github.com/lingopair/lingopair/pkg/provider/asr"
	"github.com/lingopair/lingopair/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the span passed to Transcribe.
	PCM []float32

	// Language is the language argument.
	Language string
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, when set, computes the result of every Transcribe call.
	// It takes precedence over Result/Err.
	TranscribeFunc func(ctx context.Context, pcm []float32, language string) (types.Transcript, error)

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result types.Transcript

	// Err, if non-nil, is returned by Transcribe when TranscribeFunc is nil.
	Err error

	// Delay blocks each Transcribe call for the given duration before
	// returning, honouring ctx cancellation. Useful for timeout tests.
	Delay func(ctx context.Context) error

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, pcm []float32, language string) (types.Transcript, error) {
	p.mu.Lock()
	cp := make([]float32, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: cp, Language: language})
	fn := p.TranscribeFunc
	delay := p.Delay
	result, errv := p.Result, p.Err
	p.mu.Unlock()

	if delay != nil {
		if err := delay(ctx); err != nil {
			return types.Transcript{}, err
		}
	}
	if fn != nil {
		return fn(ctx, pcm, language)
	}
	return result, errv
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Calls returns a snapshot of the recorded Transcribe calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)
