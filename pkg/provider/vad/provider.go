// Package vad defines the Engine interface for voice-activity detection
// backends.
//
// A VAD engine wraps a window-level speech detector (e.g., Silero VAD or a
// plain energy gate) and surfaces it as a stateful, per-stream session. Each
// session maintains its own internal state (recurrent model state, smoothing
// history) so that multiple concurrent audio streams can be processed
// independently.
//
// VAD is synchronous by design: ProcessWindow returns immediately with a
// detection result, making it suitable for the low-latency path that gates
// transcription input. The silence-hangover segmentation that turns these
// per-window results into utterance boundaries lives in the pipeline package,
// not here.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM windows passed to ProcessWindow.
	SampleRate int

	// WindowSize is the number of samples per window. Silero operates on
	// 512-sample windows at 16 kHz (~32 ms); ProcessWindow returns an error
	// if the supplied window does not match this size.
	WindowSize int

	// Threshold is the probability above which a window is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	Threshold float64

	// ModelPath locates the backend's model artifact, when it has one
	// (e.g., the Silero ONNX file). Ignored by model-free backends.
	ModelPath string
}

// Result is the detection outcome for a single window.
type Result struct {
	// Speech reports whether the window was classified as speech.
	Speech bool

	// Probability is the raw speech probability in [0, 1]. Backends that
	// only produce a boolean report 0 or 1.
	Probability float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears accumulated detector state without closing the session; use it
// when the stream is interrupted or restarted so stale recurrent state cannot
// bleed into the next utterance.
type SessionHandle interface {
	// ProcessWindow analyses one window of 16 kHz mono float32 PCM and
	// returns the detection result. It must not block.
	ProcessWindow(window []float32) (Result, error)

	// Reset clears all accumulated detection state.
	Reset() error

	// Close releases the session's resources. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously to
// create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration, immediately
	// ready to accept windows.
	NewSession(cfg Config) (SessionHandle, error)

	// Close releases engine-level resources shared across sessions. Calling
	// Close more than once is safe and returns nil.
	Close() error
}
