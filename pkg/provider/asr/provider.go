// Package asr defines the Provider interface for speech recognition
// backends.
//
// Recognition is deliberately synchronous: the session engine already runs
// every model call on its worker pool and gates partial results by utterance
// generation, so providers only need to turn one frozen span of PCM into one
// Transcript. Providers are process-wide singletons and must be safe for
// concurrent Transcribe calls; a provider whose backend is single-threaded
// serialises internally.
package asr

import (
	"context"

	"github.com/lingopair/lingopair/pkg/types"
)

// LanguageAuto requests source-language auto-detection.
const LanguageAuto = "auto"

// Provider transcribes spans of 16 kHz mono float32 PCM.
type Provider interface {
	// Transcribe recognises the given PCM span. language is a BCP-47 code or
	// LanguageAuto (an empty string means auto as well). The returned
	// Transcript carries the recognised text and the detected or echoed
	// language; an empty Text with a nil error means the span contained no
	// intelligible speech.
	//
	// Transcribe must respect ctx cancellation: the engine applies a
	// per-stage deadline and discards the utterance on timeout.
	Transcribe(ctx context.Context, pcm []float32, language string) (types.Transcript, error)

	// Close releases backend resources (loaded models, HTTP clients).
	Close() error
}
