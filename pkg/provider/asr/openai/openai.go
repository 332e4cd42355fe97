// Package openai provides an ASR provider backed by the OpenAI audio
// transcription API. It implements the asr.Provider interface.
//
// Each Transcribe call wraps the PCM span in a WAV container and performs one
// HTTP request, which makes this backend a good hosted fallback when no local
// whisper.cpp build is available. Latency is network-bound.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lingopair/lingopair/pkg/audio"
	"github.com/lingopair/lingopair/pkg/provider/asr"
	"github.com/lingopair/lingopair/pkg/types"
)

const (
	defaultModel   = oai.AudioModelWhisper1
	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// WithModel sets the transcription model (e.g., "whisper-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint, e.g. for an OpenAI-compatible
// local server.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements asr.Provider over the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := config{
		model:   string(defaultModel),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  oai.AudioModel(cfg.model),
	}, nil
}

// Transcribe uploads the span as a WAV file and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, pcm []float32, language string) (types.Transcript, error) {
	if len(pcm) == 0 {
		return types.Transcript{}, nil
	}

	wav := audio.EncodeWAVFloat32(pcm, audio.PipelineSampleRate)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: p.model,
	}
	if language != "" && language != asr.LanguageAuto {
		params.Language = oai.String(language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai: transcription request: %w", err)
	}

	detected := language
	if detected == "" || detected == asr.LanguageAuto {
		// The plain transcription response does not include the detected
		// language, so auto stays auto for the caller to resolve.
		detected = asr.LanguageAuto
	}

	return types.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: detected,
		Final:    true,
	}, nil
}

// Close is a no-op; the HTTP client holds no resources worth freeing.
func (p *Provider) Close() error { return nil }
