package server

import (
	"time"

	"github.com/lingopair/lingopair/internal/room"
)

// Error kinds carried in the "error" wire message.
const (
	KindCapabilityUnavailable = "capability_unavailable"

	KindBadRequest        = "bad_request"
	KindRoomNotFound      = "room_not_found"
	KindRoomFull          = "room_full"
	KindCapabilityTimeout = "capability_timeout"
	KindBackpressure      = "backpressure"
	KindProtocolViolation = "protocol_violation"
)

// Speaker values for transcript messages.
const (
	speakerSelf    = "self"
	speakerPartner = "partner"
)

// Message is the server-to-client JSON envelope. Type is always set; the
// remaining fields are populated per type and omitted otherwise.
type Message struct {
	Type string `json:"type"`

	RoomID          string `json:"room_id,omitempty"`
	Language        string `json:"language,omitempty"`
	Name            string `json:"name,omitempty"`
	PartnerName     string `json:"partner_name,omitempty"`
	PartnerLanguage string `json:"partner_language,omitempty"`

	Status string `json:"status,omitempty"`

	Speaker        string  `json:"speaker,omitempty"`
	SpeakerName    string  `json:"speaker_name,omitempty"`
	Text           string  `json:"text,omitempty"`
	Translation    string  `json:"translation,omitempty"`
	TargetLanguage string  `json:"target_language,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	HasTTSAudio    bool    `json:"has_tts_audio,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`

	ErrorMessage string `json:"message,omitempty"`
	Kind         string `json:"kind,omitempty"`
}

func roomCreatedMsg(roomID, language string) Message {
	return Message{Type: "room_created", RoomID: roomID, Language: language}
}

func roomJoinedMsg(roomID, language, partnerName, partnerLanguage string) Message {
	return Message{
		Type:            "room_joined",
		RoomID:          roomID,
		Language:        language,
		PartnerName:     partnerName,
		PartnerLanguage: partnerLanguage,
	}
}

func partnerJoinedMsg(name, language string) Message {
	return Message{Type: "partner_joined", Name: name, Language: language}
}

func partnerLeftMsg() Message {
	return Message{Type: "partner_left"}
}

func sessionStatusMsg(phase room.Phase) Message {
	return Message{Type: "session_status", Status: string(phase)}
}

func partnerMutedMsg(muted bool) Message {
	if muted {
		return Message{Type: "partner_muted"}
	}
	return Message{Type: "partner_unmuted"}
}

func micLockedMsg(d time.Duration) Message {
	return Message{Type: "mic_locked", DurationMs: d.Milliseconds()}
}

func errorMsg(kind, message string) Message {
	return Message{Type: "error", Kind: kind, ErrorMessage: message}
}

// Control markers: any 4-byte binary frame matching one of these is control,
// every other binary frame is encoded audio.
const (
	markerStart  = "STRT"
	markerEnd    = "ENDS"
	markerMute   = "MUTE"
	markerUnmute = "UNMT"
)

// Frame classifies an inbound binary frame.
type Frame int

const (
	FrameAudio Frame = iota
	FrameStart
	FrameEnd
	FrameMute
	FrameUnmute
)

// ClassifyFrame maps a binary payload to its frame type. Only exact 4-byte
// marker payloads are control; a longer frame that happens to begin with a
// marker is audio.
func ClassifyFrame(payload []byte) Frame {
	if len(payload) != 4 {
		return FrameAudio
	}
	switch string(payload) {
	case markerStart:
		return FrameStart
	case markerEnd:
		return FrameEnd
	case markerMute:
		return FrameMute
	case markerUnmute:
		return FrameUnmute
	}
	return FrameAudio
}
