package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
)

// ClientMessageType identifies an inbound websocket message.
type ClientMessageType string

const (
	ClientMessageJoinRoom         ClientMessageType = "join_room"
	ClientMessageSetReady         ClientMessageType = "set_ready"
	ClientMessageHostStart        ClientMessageType = "host_start"
	ClientMessageHostNextQuestion ClientMessageType = "host_next_question"
	ClientMessageHostPause        ClientMessageType = "host_pause"
	ClientMessageHostResume       ClientMessageType = "host_resume"
	ClientMessageHostEnd          ClientMessageType = "host_end"
	ClientMessageHostRemove       ClientMessageType = "host_remove_participant"
	ClientMessageSubmitAnswer     ClientMessageType = "submit_answer"
	ClientMessageLeaveRoom        ClientMessageType = "leave_room"
)

// ClientMessage is the envelope every inbound message travels in.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// JoinRoomPayload is the payload for a join_room message, the mandatory first
// message on every connection.
type JoinRoomPayload struct {
	RoomCode string `json:"room_code"`
	AsHost   bool   `json:"as_host,omitempty"`
}

// SetReadyPayload is the payload for a set_ready message.
type SetReadyPayload struct {
	Ready bool `json:"ready"`
}

// RemoveParticipantPayload is the payload for a host_remove_participant
// message.
type RemoveParticipantPayload struct {
	ParticipantID string `json:"participant_id"`
}

// SubmitAnswerPayload is the payload for a submit_answer message. The client
// elapsed time is advisory only; the server clock decides scoring.
type SubmitAnswerPayload struct {
	QuestionID      string `json:"question_id"`
	OptionID        string `json:"option_id"`
	ClientElapsedMs int64  `json:"client_elapsed_ms,omitempty"`
}

var knownClientMessages = map[ClientMessageType]bool{
	ClientMessageJoinRoom:         true,
	ClientMessageSetReady:         true,
	ClientMessageHostStart:        true,
	ClientMessageHostNextQuestion: true,
	ClientMessageHostPause:        true,
	ClientMessageHostResume:       true,
	ClientMessageHostEnd:          true,
	ClientMessageHostRemove:       true,
	ClientMessageSubmitAnswer:     true,
	ClientMessageLeaveRoom:        true,
}

// ParseClientMessage decodes and validates an inbound message envelope.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if !knownClientMessages[msg.Type] {
		return ClientMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// Wire error codes carried on error events and mapped from the live package's
// sentinel errors.
const (
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeTooLate                = "TOO_LATE"
	CodeDuplicateAnswer        = "DUPLICATE_ANSWER"
	CodeNotFound               = "NOT_FOUND"
	CodeMalformed              = "MALFORMED"
	CodeConnectionLost         = "CONNECTION_LOST"
	CodeInternal               = "INTERNAL"
)

// wireCode maps a session error to its wire error code.
func wireCode(err error) string {
	switch {
	case errors.Is(err, live.ErrInvalidTransition):
		return CodeInvalidStateTransition
	case errors.Is(err, live.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, live.ErrTooLate):
		return CodeTooLate
	case errors.Is(err, live.ErrDuplicateAnswer):
		return CodeDuplicateAnswer
	case errors.Is(err, live.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, live.ErrMalformed):
		return CodeMalformed
	default:
		return CodeInternal
	}
}
