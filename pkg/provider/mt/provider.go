// Package mt defines the Provider interface for machine translation
// backends.
//
// Translation is synchronous for the same reason recognition is: the session
// engine owns the worker pool and the per-stage deadline, so a provider only
// needs to map one string into one target language. Providers are
// process-wide singletons and must be safe for concurrent Translate calls.
package mt

import "context"

// Provider translates text between languages.
type Provider interface {
	// Translate renders text from sourceLang into targetLang, both BCP-47
	// codes. Implementations return the input unchanged when the two codes
	// are equal. An empty result with a nil error is valid for empty input.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// Close releases backend resources.
	Close() error
}
