package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lingopair/lingopair/internal/config"
	"github.com/lingopair/lingopair/internal/pipeline"
	"github.com/lingopair/lingopair/pkg/audio"
	"github.com/lingopair/lingopair/pkg/provider/asr"
)

type soloParams struct {
	lang   string
	target string
	tts    bool
}

// parseSoloParams validates the /ws/audio query string. lang defaults to
// auto; target_lang defaults to none.
func parseSoloParams(q url.Values) (soloParams, error) {
	p := soloParams{lang: asr.LanguageAuto}

	if lang := q.Get("lang"); lang != "" && lang != asr.LanguageAuto {
		if !slices.Contains(config.SupportedLanguages, lang) {
			return p, fmt.Errorf("unknown language %q", lang)
		}
		p.lang = lang
	}
	if target := q.Get("target_lang"); target != "" && target != "none" {
		if !slices.Contains(config.SupportedLanguages, target) {
			return p, fmt.Errorf("unknown target language %q", target)
		}
		p.target = target
	}
	if tts := q.Get("tts"); tts != "" {
		v, err := strconv.ParseBool(tts)
		if err != nil {
			return p, fmt.Errorf("invalid tts value %q", tts)
		}
		p.tts = v
	}
	if p.tts && p.target == "" {
		return p, errors.New("tts requires a target_lang")
	}
	return p, nil
}

// handleSolo serves a single-participant pipeline: transcripts and optional
// synthesized audio are sent back on the same connection.
func (s *Server) handleSolo(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}

	sessionID := uuid.New().String()
	log := s.log.With("session", sessionID, "mode", "solo")
	conn := newWSConn(ws, log)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	params, err := parseSoloParams(r.URL.Query())
	if err != nil {
		conn.closeAfterError(ctx, KindBadRequest, err.Error())
		return
	}

	seg, err := s.newSegmenter()
	if err != nil {
		log.Error("vad session unavailable", "error", err)
		conn.closeAfterError(ctx, KindCapabilityUnavailable, "voice detection unavailable")
		return
	}

	pipe := pipeline.New(ctx, s.pipelineConfig(params.lang, params.target, params.tts),
		s.providers, seg, s.workers, s.metrics, log)
	defer pipe.Close()

	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.Background(), -1)
	log.Info("solo session opened", "lang", params.lang, "target", params.target, "tts", params.tts)

	go conn.writePump(ctx)
	go s.soloResults(ctx, conn, pipe)

	rec := s.readAudio(ctx, conn, pipe, audio.NewStreamDecoder(log), readHooks{})

	cancel()
	s.saveRecording(sessionID, rec)
	conn.close(websocket.StatusNormalClosure, "")
	log.Info("solo session closed")
}

// soloResults maps pipeline outputs back onto the caller's own connection.
func (s *Server) soloResults(ctx context.Context, conn *wsConn, pipe *pipeline.Pipeline) {
	for {
		var res pipeline.Result
		select {
		case <-ctx.Done():
			return
		case res = <-pipe.Results():
		}

		switch res.Kind {
		case pipeline.KindPartial:
			_ = conn.sendJSON(Message{
				Type:           "transcript_partial",
				Speaker:        speakerSelf,
				Text:           res.Transcript.Text,
				Language:       res.Transcript.Language,
				Translation:    res.Translation,
				TargetLanguage: res.TargetLang,
			})
		case pipeline.KindFinal:
			_ = conn.sendJSON(Message{
				Type:           "transcript",
				Speaker:        speakerSelf,
				Text:           res.Transcript.Text,
				Language:       res.Transcript.Language,
				Translation:    res.Translation,
				TargetLanguage: res.TargetLang,
				Duration:       res.SpeechDuration.Seconds(),
				HasTTSAudio:    len(res.Audio) > 0,
			})
			if len(res.Audio) > 0 {
				_ = conn.sendBinary(res.Audio)
			}
		case pipeline.KindStageError:
			if errors.Is(res.Err, context.DeadlineExceeded) {
				_ = conn.sendJSON(errorMsg(KindCapabilityTimeout, res.Stage+" timed out"))
			}
		}
	}
}

// readHooks customizes the shared read pump per mode. Nil hooks default to
// accepting audio and ignoring markers.
type readHooks struct {
	// accept gates each audio frame; rejected frames are dropped silently.
	accept func() bool

	// onMarker receives control markers.
	onMarker func(Frame)

	// onSpeechStart fires on a detected speech onset; a false return
	// discards the utterance (the turn belongs to the partner).
	onSpeechStart func() bool

	// onSpeechEnd fires when an utterance closes.
	onSpeechEnd func()
}

// frameDecoder is the slice of the stream decoder the read pump consumes.
type frameDecoder interface {
	Ingest(chunk []byte) ([]float32, error)
}

// readAudio is the per-connection read pump shared by solo and room modes.
// Binary audio frames pass through the decoder, accept, and the pipeline;
// text frames are validated and ignored. Returns the accumulated PCM for
// the recording dump.
func (s *Server) readAudio(ctx context.Context, conn *wsConn, pipe *pipeline.Pipeline, dec frameDecoder, hooks readHooks) []float32 {
	var rec []float32

	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			return rec
		}
		if typ == websocket.MessageText {
			if !s.acceptTextFrame(conn, data) {
				return rec
			}
			continue
		}
		if frame := ClassifyFrame(data); frame != FrameAudio {
			if hooks.onMarker != nil {
				hooks.onMarker(frame)
			}
			continue
		}
		// Gated frames (mute, mic lock, non-active phase) are still decoded
		// so the stream stays aligned; their PCM is discarded.
		gated := hooks.accept != nil && !hooks.accept()

		pcm, err := dec.Ingest(data)
		if err != nil {
			conn.log.Warn("audio decode failed", "error", err)
			continue
		}
		if gated {
			if pipe.Speaking() {
				_ = pipe.Reset()
			}
			continue
		}
		if len(pcm) == 0 {
			continue
		}
		if s.recordings != nil {
			rec = append(rec, pcm...)
		}

		wasSpeaking := pipe.Speaking()
		if err := pipe.Ingest(pcm); err != nil {
			conn.log.Warn("pipeline ingest failed", "error", err)
			continue
		}
		switch speaking := pipe.Speaking(); {
		case speaking && !wasSpeaking && hooks.onSpeechStart != nil:
			if !hooks.onSpeechStart() {
				_ = pipe.Reset()
			}
		case !speaking && wasSpeaking && hooks.onSpeechEnd != nil:
			hooks.onSpeechEnd()
		}
	}
}

// acceptTextFrame validates an inbound TEXT frame. Well-formed JSON with an
// unknown type is ignored for forward compatibility; malformed JSON is a
// protocol violation that closes the connection.
func (s *Server) acceptTextFrame(conn *wsConn, data []byte) bool {
	if !json.Valid(data) {
		conn.log.Warn("malformed JSON text frame")
		_ = conn.sendJSON(errorMsg(KindProtocolViolation, "malformed JSON"))
		conn.close(websocket.StatusPolicyViolation, KindProtocolViolation)
		return false
	}
	return true
}

// saveRecording dumps the session's decoded PCM, when recording is enabled.
func (s *Server) saveRecording(sessionID string, pcm []float32) {
	if _, err := s.recordings.Save(sessionID, pcm, audio.PipelineSampleRate); err != nil {
		s.log.Error("recording save failed", "session", sessionID, "error", err)
	}
}
