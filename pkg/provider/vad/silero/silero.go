// Package silero provides a Silero VAD-backed engine using the ONNX runtime
// bindings from github.com/streamer45/silero-vad-go. It implements the
// vad.Engine interface.
//
// The ONNX model file (silero_vad.onnx) must be available on disk; its path
// is taken from Config.ModelPath, falling back to the engine-level default.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/lingopair/lingopair/pkg/provider/vad"
)

const (
	defaultSampleRate = 16000
	defaultWindowSize = 512
	defaultThreshold  = 0.5
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreshold sets the default speech probability threshold used when a
// session Config leaves it zero.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// Engine creates Silero VAD sessions. Each session owns its own detector and
// therefore its own recurrent model state.
type Engine struct {
	modelPath string
	threshold float64
}

// New creates a Silero engine loading the ONNX model at modelPath.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	e := &Engine{
		modelPath: modelPath,
		threshold: defaultThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewSession creates a detector for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ws := cfg.WindowSize
	if ws <= 0 {
		ws = defaultWindowSize
	}
	th := cfg.Threshold
	if th <= 0 {
		th = e.threshold
	}
	modelPath := cfg.ModelPath
	if modelPath == "" {
		modelPath = e.modelPath
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  modelPath,
		SampleRate: sr,
		Threshold:  float32(th),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &session{det: det, windowSize: ws}, nil
}

// Close releases engine-level resources. Detectors are owned by their
// sessions, so there is nothing to release here.
func (e *Engine) Close() error { return nil }

// session wraps one speech.Detector. The detector carries LSTM state across
// Detect calls, so feeding consecutive windows behaves as one continuous
// stream.
type session struct {
	det        *speech.Detector
	windowSize int
	speaking   bool
	closed     bool
	once       sync.Once
}

// ProcessWindow classifies one window.
func (s *session) ProcessWindow(window []float32) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, errors.New("silero: session is closed")
	}
	if len(window) != s.windowSize {
		return vad.Result{}, fmt.Errorf("silero: window size %d, want %d", len(window), s.windowSize)
	}

	segments, err := s.det.Detect(window)
	if err != nil {
		return vad.Result{}, fmt.Errorf("silero: detect: %w", err)
	}

	// The detector reports segments relative to the whole stream. A segment
	// without an end timestamp is still open, so speech continues past this
	// window.
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		s.speaking = last.SpeechEndAt == 0
		return vad.Result{Speech: true, Probability: 1}, nil
	}
	if s.speaking {
		return vad.Result{Speech: true, Probability: 1}, nil
	}
	return vad.Result{}, nil
}

// Reset clears the detector's recurrent state.
func (s *session) Reset() error {
	if s.closed {
		return nil
	}
	s.speaking = false
	if err := s.det.Reset(); err != nil {
		return fmt.Errorf("silero: reset: %w", err)
	}
	return nil
}

// Close destroys the detector and releases its ONNX session.
func (s *session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed = true
		if derr := s.det.Destroy(); derr != nil {
			err = fmt.Errorf("silero: destroy: %w", derr)
		}
	})
	return err
}
