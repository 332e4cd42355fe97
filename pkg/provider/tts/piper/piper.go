// Package piper provides a TTS provider that connects to a local Piper
// HTTP server. It implements the tts.Provider interface.
//
// Piper's HTTP wrapper exposes a single endpoint: GET /?text=... returns a
// complete WAV blob. One server process serves one voice, so multilingual
// deployments run one Piper instance per language and the provider routes by
// language code.
//
// Typical usage:
//
//	p, err := piper.New(map[string]string{
//	    "en": "http://localhost:5000",
//	    "es": "http://localhost:5001",
//	    "pt": "http://localhost:5002",
//	})
//	wav, err := p.Synthesize(ctx, "hola", "es")
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lingopair/lingopair/pkg/provider/tts"
)

const defaultTimeout = 30 * time.Second

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ErrNoVoice is returned when no server is configured for the requested
// language.
var ErrNoVoice = errors.New("piper: no voice for language")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely, e.g. to inject a test
// transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider over per-language Piper servers.
type Provider struct {
	voices     map[string]string // language code -> server base URL
	httpClient *http.Client
}

// New creates a Provider from a language-to-server map.
func New(voices map[string]string, opts ...Option) (*Provider, error) {
	if len(voices) == 0 {
		return nil, errors.New("piper: at least one voice server is required")
	}
	normalised := make(map[string]string, len(voices))
	for lang, base := range voices {
		if base == "" {
			return nil, fmt.Errorf("piper: empty server URL for language %q", lang)
		}
		normalised[strings.ToLower(lang)] = strings.TrimRight(base, "/")
	}

	p := &Provider{
		voices:     normalised,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Languages lists the language codes with a configured voice.
func (p *Provider) Languages() []string {
	out := make([]string, 0, len(p.voices))
	for lang := range p.voices {
		out = append(out, lang)
	}
	return out
}

// Synthesize performs one GET round trip against the language's server.
func (p *Provider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	base, ok := p.voices[strings.ToLower(language)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoVoice, language)
	}

	u := base + "/?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("piper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read audio: %w", err)
	}
	if len(wav) == 0 {
		return nil, errors.New("piper: server returned an empty body")
	}
	return wav, nil
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }
