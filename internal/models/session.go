package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus represents the lifecycle state of a live room
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "WAITING"
	RoomStatusActive  RoomStatus = "ACTIVE"
	RoomStatusPaused  RoomStatus = "PAUSED"
	RoomStatusEnded   RoomStatus = "ENDED"
)

// Participant is one joined player in a room. The host is not a participant.
type Participant struct {
	ParticipantID string `json:"participant_id"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	Connected     bool   `json:"connected"`
	Ready         bool   `json:"ready"`
	Removed       bool   `json:"removed,omitempty"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correct_count"`
	AnswerTimeMs  int64  `json:"answer_time_ms"`

	// JoinSeq orders participants by arrival; used as the final leaderboard
	// tie-break, never exposed on the wire.
	JoinSeq int `json:"-"`
}

// Answer is one immutable ledger entry. Time taken is server-computed and
// clamped to the question's time limit.
type Answer struct {
	QuestionID       string    `json:"question_id"`
	ParticipantID    string    `json:"participant_id"`
	SelectedOptionID string    `json:"selected_option_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
	TimeTakenMs      int64     `json:"time_taken_ms"`
	IsCorrect        bool      `json:"is_correct"`
	PointsAwarded    int       `json:"points_awarded"`
}

// LeaderboardEntry is one ranked row. Ranks are 1-based and unique.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correct_count"`
	AnswerTimeMs  int64  `json:"answer_time_ms"`
}

// QuestionStatistics aggregates the ledger for one question
type QuestionStatistics struct {
	QuestionID      string         `json:"question_id"`
	QuestionIndex   int            `json:"question_index"`
	CorrectOptionID string         `json:"correct_option_id"`
	TotalAnswered   int            `json:"total_answered"`
	OptionCounts    map[string]int `json:"option_counts"`
}

// FinalResults is computed exactly once when a room ends and handed to the
// results store for durable retrieval.
type FinalResults struct {
	RoomID     uuid.UUID            `json:"room_id"`
	RoomCode   string               `json:"room_code"`
	QuizID     string               `json:"quiz_id"`
	Title      string               `json:"title"`
	EndedAt    time.Time            `json:"ended_at"`
	Entries    []LeaderboardEntry   `json:"entries"`
	Statistics []QuestionStatistics `json:"statistics,omitempty"`
}

// AnswerReceipt tells a reconnecting participant what the ledger holds for
// them on the current question.
type AnswerReceipt struct {
	QuestionID       string `json:"question_id"`
	SelectedOptionID string `json:"selected_option_id"`
	Received         bool   `json:"received"`
}

// RoomSnapshot is the full resynchronization state pushed to a connection on
// join/rejoin and served over the state endpoint. The deadline is absolute;
// ServerTime lets clients interpolate a countdown without trusting their own
// clocks.
type RoomSnapshot struct {
	RoomID            uuid.UUID          `json:"room_id"`
	RoomCode          string             `json:"room_code"`
	Status            RoomStatus         `json:"status"`
	QuizTitle         string             `json:"quiz_title"`
	Participants      []Participant      `json:"participants"`
	QuestionIndex     int                `json:"question_index"`
	TotalQuestions    int                `json:"total_questions"`
	CurrentQuestion   *PublicQuestion    `json:"current_question,omitempty"`
	WindowOpen        bool               `json:"window_open"`
	Deadline          *time.Time         `json:"deadline,omitempty"`
	RemainingSec      float64            `json:"remaining_sec"`
	ServerTime        time.Time          `json:"server_time"`
	Leaderboard       []LeaderboardEntry `json:"leaderboard"`
	YourParticipantID string             `json:"your_participant_id,omitempty"`
	YourAnswer        *AnswerReceipt     `json:"your_answer,omitempty"`
}
