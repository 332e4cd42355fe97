package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/lingopair/lingopair/internal/archive"
	"github.com/lingopair/lingopair/internal/config"
	"github.com/lingopair/lingopair/internal/pipeline"
	"github.com/lingopair/lingopair/internal/room"
	"github.com/lingopair/lingopair/pkg/audio"
)

// roomClient adapts a connection to the room's Observer. Events raised
// before activate are buffered, so the join/create reply always precedes
// the first session_status on the wire.
type roomClient struct {
	conn *wsConn

	mu      sync.Mutex
	active  bool
	pending []Message
}

func newRoomClient(conn *wsConn) *roomClient {
	return &roomClient{conn: conn}
}

// send enqueues msg, buffering until activate.
func (c *roomClient) send(msg Message) {
	c.mu.Lock()
	if !c.active {
		c.pending = append(c.pending, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.conn.sendJSON(msg)
}

// activate flushes buffered events in arrival order.
func (c *roomClient) activate() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.active = true
	c.mu.Unlock()
	for _, msg := range pending {
		_ = c.conn.sendJSON(msg)
	}
}

// PhaseChanged forwards the new phase; the terminal phase also shuts the
// connection down once the status has flushed.
func (c *roomClient) PhaseChanged(phase room.Phase) {
	c.send(sessionStatusMsg(phase))
	if phase == room.PhaseEnded {
		c.conn.closeAfterDrain(websocket.StatusNormalClosure, "session ended")
	}
}
func (c *roomClient) PartnerJoined(name, language string) {
	c.send(partnerJoinedMsg(name, language))
}
func (c *roomClient) PartnerLeft()                  { c.send(partnerLeftMsg()) }
func (c *roomClient) PartnerMuteChanged(muted bool) { c.send(partnerMutedMsg(muted)) }

var _ room.Observer = (*roomClient)(nil)

type sessionParams struct {
	join        bool
	roomID      string
	name        string
	myLang      string
	partnerLang string
}

// maxNameLength caps participant display names.
const maxNameLength = 20

// cleanName normalises a display name: surrounding whitespace is trimmed and
// the result is cut to maxNameLength runes.
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}
	return name
}

// parseSessionParams validates the /ws/session query string. A room_id
// selects the join path; otherwise my_lang, partner_lang, and name describe
// a room creation.
func parseSessionParams(q url.Values) (sessionParams, error) {
	p := sessionParams{name: cleanName(q.Get("name"))}

	if roomID := q.Get("room_id"); roomID != "" {
		p.join = true
		p.roomID = roomID
		if p.name == "" {
			p.name = "Guest"
		}
		return p, nil
	}

	p.myLang = q.Get("my_lang")
	p.partnerLang = q.Get("partner_lang")
	if !slices.Contains(config.SupportedLanguages, p.myLang) {
		return p, fmt.Errorf("unknown language %q", p.myLang)
	}
	if !slices.Contains(config.SupportedLanguages, p.partnerLang) {
		return p, fmt.Errorf("unknown partner language %q", p.partnerLang)
	}
	if p.myLang == p.partnerLang {
		return p, errors.New("my_lang and partner_lang must differ")
	}
	if p.name == "" {
		p.name = "Host"
	}
	return p, nil
}

// handleSession serves one participant of a two-party room.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}

	conn := newWSConn(ws, s.log)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	params, err := parseSessionParams(r.URL.Query())
	if err != nil {
		conn.closeAfterError(ctx, KindBadRequest, err.Error())
		return
	}

	client := newRoomClient(conn)

	var (
		rm *room.Room
		p  *room.Participant
	)
	if params.join {
		rm, p, err = s.rooms.Join(params.roomID, params.name, client)
	} else {
		rm, p, err = s.rooms.Create(params.name, params.myLang, params.partnerLang, client)
	}
	if err != nil {
		conn.closeAfterError(ctx, joinErrorKind(err), err.Error())
		return
	}

	log := s.log.With("room", rm.Code, "role", p.Role.String(), "participant", p.ID)
	conn.log = log

	// The create/join reply goes out first, then the buffered phase events.
	if params.join {
		var partnerName, partnerLang string
		if partner := rm.Partner(p); partner != nil {
			partnerName, partnerLang = partner.Name, partner.Language
		}
		_ = conn.sendJSON(roomJoinedMsg(rm.Code, p.Language, partnerName, partnerLang))
	} else {
		_ = conn.sendJSON(roomCreatedMsg(rm.Code, p.Language))
		_ = conn.sendJSON(sessionStatusMsg(rm.Phase()))
	}
	client.activate()

	seg, err := s.newSegmenter()
	if err != nil {
		log.Error("vad session unavailable", "error", err)
		s.rooms.Leave(p)
		conn.closeAfterError(ctx, KindCapabilityUnavailable, "voice detection unavailable")
		return
	}

	targetLang := s.targetLanguage(rm, p)
	pipe := pipeline.New(ctx, s.pipelineConfig(p.Language, targetLang, true),
		s.providers, seg, s.workers, s.metrics, log)
	defer pipe.Close()

	s.clients.Store(p.ID, client)
	defer s.clients.Delete(p.ID)

	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.Background(), -1)
	log.Info("participant connected", "name", p.Name, "lang", p.Language, "target", targetLang)

	go conn.writePump(ctx)
	go s.roomResults(ctx, rm, p, client, pipe)

	rec := s.readAudio(ctx, conn, pipe, audio.NewStreamDecoder(log), readHooks{
		accept: func() bool {
			rm.Touch()
			return rm.AcceptAudio(p)
		},
		onMarker:      func(f Frame) { s.handleMarker(rm, p, pipe, f) },
		onSpeechStart: func() bool { return rm.ClaimFloor(p) },
		onSpeechEnd:   func() { rm.YieldFloor(p) },
	})

	cancel()
	s.rooms.Leave(p)
	s.saveRecording(rm.Code+"-"+p.ID.String(), rec)
	conn.close(websocket.StatusNormalClosure, "")
	log.Info("participant disconnected")
}

// handleMarker applies a control marker. Markers from the wrong role or in
// the wrong phase are ignored, not errors.
func (s *Server) handleMarker(rm *room.Room, p *room.Participant, pipe *pipeline.Pipeline, f Frame) {
	rm.Touch()
	switch f {
	case FrameStart:
		rm.Start(p)
	case FrameEnd:
		if rm.End(p) {
			_ = pipe.Reset()
		}
	case FrameMute:
		if rm.SetMuted(p, true) {
			_ = pipe.Reset()
		}
	case FrameUnmute:
		rm.SetMuted(p, false)
	}
}

// targetLanguage resolves the listener-side language for p's pipeline.
func (s *Server) targetLanguage(rm *room.Room, p *room.Participant) string {
	if partner := rm.Partner(p); partner != nil {
		return partner.Language
	}
	// The host's pipeline is built before the guest arrives; the pair is
	// fixed at creation, so the guest slot's language is already known.
	return rm.GuestLanguage()
}

// partnerClient resolves the partner's connection, if any.
func (s *Server) partnerClient(rm *room.Room, p *room.Participant) (*room.Participant, *roomClient) {
	partner := rm.Partner(p)
	if partner == nil {
		return nil, nil
	}
	v, ok := s.clients.Load(partner.ID)
	if !ok {
		return nil, nil
	}
	return partner, v.(*roomClient)
}

// roomResults fans one participant's pipeline outputs out to both sides:
// transcripts echo to the speaker, translations and synthesized audio go to
// the partner, and the partner's mic lock is armed after audio dispatch.
func (s *Server) roomResults(ctx context.Context, rm *room.Room, p *room.Participant, self *roomClient, pipe *pipeline.Pipeline) {
	for {
		var res pipeline.Result
		select {
		case <-ctx.Done():
			return
		case res = <-pipe.Results():
		}

		switch res.Kind {
		case pipeline.KindPartial:
			if _, partner := s.partnerClient(rm, p); partner != nil {
				partner.send(Message{
					Type:           "transcript_partial",
					Speaker:        speakerPartner,
					Text:           res.Transcript.Text,
					Language:       res.Transcript.Language,
					Translation:    res.Translation,
					TargetLanguage: res.TargetLang,
				})
			}

		case pipeline.KindFinal:
			self.send(Message{
				Type:     "transcript",
				Speaker:  speakerSelf,
				Text:     res.Transcript.Text,
				Language: res.Transcript.Language,
				Duration: res.SpeechDuration.Seconds(),
			})

			if partnerP, partner := s.partnerClient(rm, p); partner != nil {
				partner.send(Message{
					Type:           "transcript",
					Speaker:        speakerPartner,
					SpeakerName:    p.Name,
					Text:           res.Transcript.Text,
					Language:       res.Transcript.Language,
					Translation:    res.Translation,
					TargetLanguage: res.TargetLang,
					Duration:       res.SpeechDuration.Seconds(),
					HasTTSAudio:    len(res.Audio) > 0,
				})
				if len(res.Audio) > 0 {
					_ = partner.conn.sendBinary(res.Audio)
					audioLen, err := audio.WAVDuration(res.Audio)
					if err != nil {
						audioLen = 0
					}
					lock := rm.ArmLock(partnerP, audioLen)
					partner.send(micLockedMsg(lock))
				}
			}

			s.archiveTranscript(ctx, rm, p, res)

		case pipeline.KindStageError:
			if errors.Is(res.Err, context.DeadlineExceeded) {
				self.send(errorMsg(KindCapabilityTimeout, res.Stage+" timed out"))
			}
		}
	}
}

// archiveTranscript persists a final transcript when archiving is enabled.
func (s *Server) archiveTranscript(ctx context.Context, rm *room.Room, p *room.Participant, res pipeline.Result) {
	err := s.archive.Save(ctx, archive.Record{
		RoomCode:       rm.Code,
		Speaker:        p.Name,
		Language:       res.Transcript.Language,
		Text:           res.Transcript.Text,
		Translation:    res.Translation,
		TargetLanguage: res.TargetLang,
		Duration:       res.SpeechDuration,
	})
	if err != nil {
		s.log.Warn("transcript archive failed", "room", rm.Code, "error", err)
	}
}

// joinErrorKind maps registry errors onto wire error kinds.
func joinErrorKind(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return KindRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		return KindRoomFull
	default:
		return KindBadRequest
	}
}
