// Package energy provides a model-free RMS-energy VAD engine. It implements
// the vad.Engine interface.
//
// It is deliberately crude: a window is speech when its root-mean-square
// level exceeds a fixed threshold. It exists as a zero-dependency fallback
// for deployments without the Silero ONNX model and as a deterministic
// backend for tests.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/lingopair/lingopair/pkg/provider/vad"
)

// defaultThreshold is the RMS level above which a window counts as speech,
// on normalised float32 samples.
const defaultThreshold = 0.015

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates RMS-gate sessions.
type Engine struct {
	threshold float64
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreshold sets the RMS speech threshold. Values are on normalised
// samples, so 0.015 corresponds to roughly -36 dBFS.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// New creates an energy-gate engine.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: defaultThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession creates a session. Config.Threshold, when set, overrides the
// engine default; it is interpreted as an RMS level, not a probability.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	th := cfg.Threshold
	if th <= 0 {
		th = e.threshold
	}
	ws := cfg.WindowSize
	if ws <= 0 {
		ws = 512
	}
	return &session{threshold: th, windowSize: ws}, nil
}

// Close is a no-op; the engine holds no resources.
func (e *Engine) Close() error { return nil }

type session struct {
	threshold  float64
	windowSize int
	closed     bool
}

// ProcessWindow classifies one window by RMS level.
func (s *session) ProcessWindow(window []float32) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, errors.New("energy: session is closed")
	}
	if len(window) != s.windowSize {
		return vad.Result{}, fmt.Errorf("energy: window size %d, want %d", len(window), s.windowSize)
	}

	var sum float64
	for _, v := range window {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(window)))

	return vad.Result{
		Speech:      rms >= s.threshold,
		Probability: math.Min(rms/s.threshold, 1),
	}, nil
}

// Reset is a no-op; the gate carries no state between windows.
func (s *session) Reset() error { return nil }

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}
