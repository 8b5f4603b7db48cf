package websocket

import (
	"time"

	"github.com/raihanakbr/consult-roles/internal/diarize"
)

// Message types for AssemblyAI
type BeginMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TurnMessage struct {
	Type            string `json:"type"`
	TurnOrder       int    `json:"turn_order"`
	Transcript      string `json:"transcript"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn       bool   `json:"end_of_turn"`
	SpeakerLabel    string `json:"speaker_label,omitempty"`
	Words           []Word `json:"words,omitempty"`
}

// Word timings are milliseconds from the start of the stream.
type Word struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence,omitempty"`
	WordIsFinal bool    `json:"word_is_final,omitempty"`
	Speaker     string  `json:"speaker,omitempty"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type TerminateMessage struct {
	Type string `json:"type"`
}

type UpstreamError struct {
	Type         string `json:"type"`
	ErrorCode    any    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Messages sent to the browser

// SegmentsMessage carries the full segment list after every processed batch. Clients
// re-render it wholesale.
type SegmentsMessage struct {
	Type      string                             `json:"type"`
	SessionID string                             `json:"sessionId"`
	Segments  []diarize.Segment                  `json:"segments"`
	Roles     map[diarize.SpeakerID]diarize.Role `json:"roles"`
	Method    diarize.Method                     `json:"method"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func newSegmentsMessage(id string, up diarize.Update) SegmentsMessage {
	return SegmentsMessage{
		Type:      "segments",
		SessionID: id,
		Segments:  up.Segments,
		Roles:     up.Assignment.Roles,
		Method:    up.Assignment.Method,
	}
}

func newErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: "error", Error: true, Message: msg}
}
