// Package pipeline turns decoded PCM into translated, synthesized speech.
//
// It contains the voice segmenter that cuts the incoming sample stream into
// utterances, and the stage pipeline that moves each utterance through
// recognition, translation, and synthesis on a shared worker pool without
// ever blocking the caller's receive path.
package pipeline

import (
	"fmt"
	"time"

	"github.com/lingopair/lingopair/pkg/audio"
	"github.com/lingopair/lingopair/pkg/provider/vad"
)

// WindowSize is the number of samples the segmenter feeds the VAD per
// decision, roughly 32 ms at the pipeline rate.
const WindowSize = 512

const windowDuration = time.Duration(WindowSize) * time.Second / audio.PipelineSampleRate

// EventKind identifies a segmenter state transition.
type EventKind int

const (
	EventNone EventKind = iota
	EventSpeechStart
	EventSpeechEnd
)

// Event is a segmenter transition. Duration is only set on [EventSpeechEnd]
// and covers the whole utterance including intra-utterance pauses.
type Event struct {
	Kind     EventKind
	Duration time.Duration
}

// Segmenter cuts a PCM stream into utterances using a VAD session. Samples
// arrive in arbitrary chunk sizes; a carry buffer aligns them to
// [WindowSize] windows. Not safe for concurrent use; each participant owns
// one segmenter driven from its read pump.
type Segmenter struct {
	session vad.SessionHandle

	carry         []float32
	speaking      bool
	silentWindows int
	hangover      int
	spokenWindows int
}

// NewSegmenter wraps session with the utterance state machine. silenceWindow
// is the hangover that closes an utterance; values below one window are
// rounded up.
func NewSegmenter(session vad.SessionHandle, silenceWindow time.Duration) *Segmenter {
	hangover := int((silenceWindow + windowDuration - 1) / windowDuration)
	if hangover < 1 {
		hangover = 1
	}
	return &Segmenter{
		session:  session,
		carry:    make([]float32, 0, WindowSize*4),
		hangover: hangover,
	}
}

// Push consumes pcm and returns the transitions it caused, in order. A
// single large chunk can open and close an utterance in one call.
func (s *Segmenter) Push(pcm []float32) ([]Event, error) {
	s.carry = append(s.carry, pcm...)

	var events []Event
	for len(s.carry) >= WindowSize {
		window := s.carry[:WindowSize]
		s.carry = s.carry[WindowSize:]

		res, err := s.session.ProcessWindow(window)
		if err != nil {
			return events, fmt.Errorf("pipeline: vad window: %w", err)
		}

		if ev := s.step(res.Speech); ev.Kind != EventNone {
			events = append(events, ev)
		}
	}
	return events, nil
}

// step advances the state machine by one window decision.
func (s *Segmenter) step(speech bool) Event {
	s.spokenWindows++
	if !s.speaking {
		if !speech {
			return Event{}
		}
		s.speaking = true
		s.silentWindows = 0
		s.spokenWindows = 1
		return Event{Kind: EventSpeechStart}
	}

	if speech {
		s.silentWindows = 0
		return Event{}
	}

	s.silentWindows++
	if s.silentWindows < s.hangover {
		return Event{}
	}

	// The hangover windows are trailing silence, not speech.
	duration := time.Duration(s.spokenWindows-s.silentWindows) * windowDuration
	s.speaking = false
	s.silentWindows = 0
	s.spokenWindows = 0
	return Event{Kind: EventSpeechEnd, Duration: duration}
}

// Speaking reports whether the segmenter is inside an utterance.
func (s *Segmenter) Speaking() bool {
	return s.speaking
}

// Reset drops the carry buffer and any in-progress utterance, and clears the
// VAD session's recurrent state. Called when a participant mutes or its
// phase leaves active.
func (s *Segmenter) Reset() error {
	s.carry = s.carry[:0]
	s.speaking = false
	s.silentWindows = 0
	s.spokenWindows = 0
	if err := s.session.Reset(); err != nil {
		return fmt.Errorf("pipeline: vad reset: %w", err)
	}
	return nil
}

// Close releases the VAD session.
func (s *Segmenter) Close() error {
	return s.session.Close()
}
