// Package nllb provides a machine-translation provider that talks to a local
// NLLB-200 inference server over its JSON REST API. It implements the
// mt.Provider interface.
//
// The server is expected to expose POST /translate accepting
// {"text": ..., "source": ..., "target": ...} and answering
// {"translation": ...}. NLLB uses FLORES-200 language tags internally; the
// provider maps the wire codes to them.
package nllb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lingopair/lingopair/pkg/provider/mt"
)

// Compile-time assertion that Provider satisfies mt.Provider.
var _ mt.Provider = (*Provider)(nil)

const (
	defaultTimeout    = 15 * time.Second
	translateEndpoint = "/translate"
)

// floresTags maps wire language codes to FLORES-200 tags.
var floresTags = map[string]string{
	"en": "eng_Latn",
	"es": "spa_Latn",
	"pt": "por_Latn",
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely, e.g. to inject a test
// transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements mt.Provider against an NLLB REST server.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the NLLB server at baseURL
// (e.g., "http://localhost:8500").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("nllb: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

// Translate performs one POST /translate round trip.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || sourceLang == targetLang {
		return text, nil
	}

	body, err := json.Marshal(translateRequest{
		Text:   text,
		Source: floresTag(sourceLang),
		Target: floresTag(targetLang),
	})
	if err != nil {
		return "", fmt.Errorf("nllb: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+translateEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("nllb: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("nllb: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("nllb: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("nllb: decode response: %w", err)
	}
	return strings.TrimSpace(out.Translation), nil
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// floresTag resolves a wire code, passing unknown codes through untouched so
// a pre-tagged value keeps working.
func floresTag(code string) string {
	if tag, ok := floresTags[code]; ok {
		return tag
	}
	return code
}
