// Package mock provides a test double for the mt package interfaces.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/lingopair/lingopair/pkg/provider/mt"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Provider is a mock implementation of mt.Provider. By default it returns
// "<text> [<target>]" so tests can verify routing without scripting.
type Provider struct {
	mu sync.Mutex

	// TranslateFunc, when set, computes the result of every Translate call.
	TranslateFunc func(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// Err, if non-nil, is returned by every Translate call.
	Err error

	// TranslateCalls records every call in order.
	TranslateCalls []TranslateCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Translate records the call and returns the configured result.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	fn := p.TranslateFunc
	errv := p.Err
	p.mu.Unlock()

	if errv != nil {
		return "", errv
	}
	if fn != nil {
		return fn(ctx, text, sourceLang, targetLang)
	}
	return fmt.Sprintf("%s [%s]", text, targetLang), nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Calls returns a snapshot of the recorded Translate calls.
func (p *Provider) Calls() []TranslateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranslateCall, len(p.TranslateCalls))
	copy(out, p.TranslateCalls)
	return out
}

// Ensure Provider implements mt.Provider at compile time.
var _ mt.Provider = (*Provider)(nil)
