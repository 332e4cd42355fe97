// Package tts defines the Provider interface for speech synthesis backends.
//
// Synthesis operates in batch mode: one call produces one complete WAV blob,
// which the wire protocol forwards as a single binary frame. Providers are
// process-wide singletons and must be safe for concurrent Synthesize calls.
package tts

import "context"

// Provider synthesizes speech from text.
type Provider interface {
	// Synthesize renders text in the voice configured for language (a BCP-47
	// code) and returns a complete RIFF WAV blob: PCM16 mono at the voice
	// model's native rate. An error is returned when no voice is available
	// for the language.
	Synthesize(ctx context.Context, text, language string) ([]byte, error)

	// Close releases backend resources.
	Close() error
}
