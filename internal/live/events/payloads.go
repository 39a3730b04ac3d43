package events

import (
	"time"

	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// Event payload types shared between the live, gateway and relay packages

// RoomJoinedPayload is the payload for a room_joined event, sent only to the
// joining connection as its full resynchronization state
type RoomJoinedPayload struct {
	Snapshot models.RoomSnapshot `json:"snapshot"`
}

// ParticipantJoinedPayload is the payload for a participant_joined event
type ParticipantJoinedPayload struct {
	Participant models.Participant `json:"participant"`
	Reconnected bool               `json:"reconnected,omitempty"`
}

// ParticipantLeftPayload is the payload for a participant_left event
type ParticipantLeftPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Reason        string `json:"reason"`
}

// ParticipantReadyPayload is the payload for a participant_ready_changed event
type ParticipantReadyPayload struct {
	ParticipantID string `json:"participant_id"`
	Ready         bool   `json:"ready"`
}

// QuizStartedPayload is the payload for a quiz_started event
type QuizStartedPayload struct {
	QuizTitle      string    `json:"quiz_title"`
	TotalQuestions int       `json:"total_questions"`
	StartedAt      time.Time `json:"started_at"`
}

// QuestionStartedPayload is the payload for a question_started event. The
// deadline is absolute server time; clients interpolate their countdown from
// Deadline minus ServerTime and never trust local elapsed time.
type QuestionStartedPayload struct {
	Question       models.PublicQuestion `json:"question"`
	QuestionIndex  int                   `json:"question_index"`
	TotalQuestions int                   `json:"total_questions"`
	Deadline       time.Time             `json:"deadline"`
	ServerTime     time.Time             `json:"server_time"`
}

// AnswerAcknowledgedPayload is the payload for an answer_acknowledged event,
// sent only to the submitting connection
type AnswerAcknowledgedPayload struct {
	Received   bool   `json:"received"`
	QuestionID string `json:"question_id"`
}

// QuestionEndedPayload is the payload for a question_ended event
type QuestionEndedPayload struct {
	QuestionID      string                    `json:"question_id"`
	QuestionIndex   int                       `json:"question_index"`
	CorrectOptionID string                    `json:"correct_option_id"`
	Statistics      models.QuestionStatistics `json:"statistics"`
}

// LeaderboardUpdatedPayload is the payload for a leaderboard_updated event
type LeaderboardUpdatedPayload struct {
	Entries []models.LeaderboardEntry `json:"entries"`
}

// QuizPausedPayload is the payload for a quiz_paused event
type QuizPausedPayload struct {
	PausedAt     time.Time `json:"paused_at"`
	RemainingSec float64   `json:"remaining_sec"`
}

// QuizResumedPayload is the payload for a quiz_resumed event
type QuizResumedPayload struct {
	ResumedAt  time.Time  `json:"resumed_at"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	ServerTime time.Time  `json:"server_time"`
}

// QuizEndedPayload is the payload for a quiz_ended event
type QuizEndedPayload struct {
	Reason  string              `json:"reason"`
	Results models.FinalResults `json:"results"`
}

// RemovedFromRoomPayload is the payload for a removed_from_room event, sent
// only to the removed participant's connection before it is closed
type RemovedFromRoomPayload struct {
	ParticipantID string `json:"participant_id"`
}

// ErrorPayload is the payload for an error event, sent only to the
// originating connection
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
