// Package whisper provides an ASR provider backed by the whisper.cpp CGO
// bindings, eliminating HTTP overhead entirely. It implements the
// asr.Provider interface.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH. The model is
// loaded once at startup and shared across all concurrent transcriptions;
// each call gets its own whisper context, which is the unit of thread safety
// in whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lingopair/lingopair/pkg/provider/asr"
	"github.com/lingopair/lingopair/pkg/types"
)

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language used when Transcribe is called with
// an empty language. Defaults to auto-detection.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTranslateToEnglish enables whisper's built-in any-to-English translate
// task instead of plain transcription. Off by default; the engine performs
// translation as its own pipeline stage.
func WithTranslateToEnglish(enabled bool) Option {
	return func(p *Provider) { p.translate = enabled }
}

// Provider implements asr.Provider on a shared whisper.cpp model.
type Provider struct {
	model     whisperlib.Model
	language  string
	translate bool
}

// New loads the whisper.cpp model at modelPath. The caller must Close the
// provider when it is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: asr.LanguageAuto,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe runs whisper.cpp inference over the PCM span using a fresh
// context. Contexts are not thread-safe but the model can be shared, so
// concurrent calls are fine.
func (p *Provider) Transcribe(ctx context.Context, pcm []float32, language string) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(pcm) == 0 {
		return types.Transcript{}, nil
	}

	lang := language
	if lang == "" {
		lang = p.language
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if p.translate {
		wctx.SetTranslate(true)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		// Inference finished after the deadline; the result is stale.
		return types.Transcript{}, err
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	detected := lang
	if lang == asr.LanguageAuto {
		if dl := wctx.DetectedLanguage(); dl != "" {
			detected = dl
		}
	}

	return types.Transcript{
		Text:     strings.Join(parts, " "),
		Language: detected,
		Final:    true,
	}, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}
