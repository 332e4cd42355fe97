package pipeline_test

import (
	"testing"
	"time"

	"github.com/lingopair/lingopair/internal/pipeline"
	"github.com/lingopair/lingopair/pkg/provider/vad"
	vadmock "github.com/lingopair/lingopair/pkg/provider/vad/mock"
)

func speech(n int) []vad.Result {
	out := make([]vad.Result, n)
	for i := range out {
		out[i] = vad.Result{Speech: true, Probability: 0.9}
	}
	return out
}

func silence(n int) []vad.Result {
	return make([]vad.Result, n)
}

func window() []float32 {
	return make([]float32, pipeline.WindowSize)
}

func TestSegmenter_SpeechStartAndEnd(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{}
	sess.Script = append(sess.Script, speech(10)...)
	sess.Script = append(sess.Script, silence(20)...)
	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)

	var events []pipeline.Event
	for range 30 {
		evs, err := seg.Push(window())
		if err != nil {
			t.Fatalf("Push() error: %v", err)
		}
		events = append(events, evs...)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (%+v)", len(events), events)
	}
	if events[0].Kind != pipeline.EventSpeechStart {
		t.Errorf("events[0].Kind = %v, want EventSpeechStart", events[0].Kind)
	}
	if events[1].Kind != pipeline.EventSpeechEnd {
		t.Errorf("events[1].Kind = %v, want EventSpeechEnd", events[1].Kind)
	}
	// 10 speech windows at 32 ms each.
	if want := 10 * 32 * time.Millisecond; events[1].Duration != want {
		t.Errorf("Duration = %v, want %v", events[1].Duration, want)
	}
}

func TestSegmenter_ShortPauseDoesNotClose(t *testing.T) {
	t.Parallel()

	// speech, a 5-window pause (160 ms < 500 ms hangover), more speech.
	sess := &vadmock.Session{}
	sess.Script = append(sess.Script, speech(5)...)
	sess.Script = append(sess.Script, silence(5)...)
	sess.Script = append(sess.Script, speech(5)...)
	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)

	var events []pipeline.Event
	for range 15 {
		evs, err := seg.Push(window())
		if err != nil {
			t.Fatalf("Push() error: %v", err)
		}
		events = append(events, evs...)
	}

	if len(events) != 1 || events[0].Kind != pipeline.EventSpeechStart {
		t.Fatalf("events = %+v, want exactly one speech_start", events)
	}
	if !seg.Speaking() {
		t.Error("Speaking() = false, want true after intra-utterance pause")
	}
}

func TestSegmenter_CarryBufferAlignsOddChunks(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Default: vad.Result{Speech: true, Probability: 0.9}}
	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)

	// 1000 samples: one full window consumed, 488 carried.
	if _, err := seg.Push(make([]float32, 1000)); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if got := len(sess.Windows); got != 1 {
		t.Fatalf("windows processed = %d, want 1", got)
	}

	// 24 more completes the second window exactly.
	if _, err := seg.Push(make([]float32, 24)); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if got := len(sess.Windows); got != 2 {
		t.Fatalf("windows processed = %d, want 2", got)
	}
	for i, w := range sess.Windows {
		if len(w) != pipeline.WindowSize {
			t.Errorf("window %d length = %d, want %d", i, len(w), pipeline.WindowSize)
		}
	}
}

func TestSegmenter_SingleChunkOpensAndCloses(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{}
	sess.Script = append(sess.Script, speech(3)...)
	sess.Script = append(sess.Script, silence(16)...)
	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)

	evs, err := seg.Push(make([]float32, 19*pipeline.WindowSize))
	if err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %+v, want speech_start then speech_end", evs)
	}
	if evs[0].Kind != pipeline.EventSpeechStart || evs[1].Kind != pipeline.EventSpeechEnd {
		t.Errorf("event kinds = %v, %v", evs[0].Kind, evs[1].Kind)
	}
}

func TestSegmenter_ResetClearsStateAndVAD(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{Default: vad.Result{Speech: true, Probability: 0.9}}
	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)

	if _, err := seg.Push(window()); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if !seg.Speaking() {
		t.Fatal("Speaking() = false, want true")
	}

	if err := seg.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if seg.Speaking() {
		t.Error("Speaking() = true after Reset")
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("vad Reset calls = %d, want 1", sess.ResetCallCount)
	}
}
