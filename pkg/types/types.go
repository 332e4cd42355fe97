// Package types holds the small data structures shared between the provider
// interfaces and the session engine.
package types

import "time"

// Transcript is the result of one speech-recognition pass over a span of PCM.
type Transcript struct {
	// Text is the recognised text, whitespace-trimmed. May be empty when the
	// audio contained no intelligible speech.
	Text string

	// Language is the BCP-47 code of the recognised language. When the caller
	// requested a fixed language this echoes it; when auto-detection was
	// requested this is the detected code.
	Language string

	// Confidence is the backend's confidence score in [0, 1]. Zero when the
	// backend does not report one.
	Confidence float64

	// Final reports whether this is an authoritative end-of-utterance result
	// as opposed to an interim (partial) one.
	Final bool
}

// Translation is a rendering of transcribed text into a target language.
type Translation struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

// Utterance is one maximal contiguous span of speech bracketed by detected
// silence, together with everything the pipeline derived from it.
type Utterance struct {
	// Generation is the strictly monotonic per-participant utterance counter.
	Generation uint64

	// PCM is the utterance audio: 16 kHz mono float32 in [-1, 1].
	PCM []float32

	// Start is when speech onset was detected.
	Start time.Time

	// Duration is the speech span length as measured by the segmenter.
	Duration time.Duration
}
