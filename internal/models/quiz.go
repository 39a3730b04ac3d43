package models

import "time"

// QuizSnapshot is the read-only copy of a quiz taken when a room is created.
// Later edits to the authoring quiz never affect a running session.
type QuizSnapshot struct {
	QuizID    string     `json:"quiz_id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question is one timed question inside a quiz snapshot
type Question struct {
	QuestionID       string   `json:"question_id"`
	Text             string   `json:"text"`
	Options          []Option `json:"options"`
	TimeLimitSeconds int      `json:"time_limit_sec"`
	Points           int      `json:"points"`
}

// Option is one selectable answer option
type Option struct {
	OptionID  string `json:"option_id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// TimeLimit returns the answer window duration for the question
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// CorrectOptionID returns the ID of the correct option, or empty if the
// question has none
func (q Question) CorrectOptionID() string {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o.OptionID
		}
	}
	return ""
}

// HasOption reports whether optionID is one of the question's options
func (q Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.OptionID == optionID {
			return true
		}
	}
	return false
}

// Public strips correctness flags so the question is safe to push to players
func (q Question) Public() PublicQuestion {
	opts := make([]PublicOption, len(q.Options))
	for i, o := range q.Options {
		opts[i] = PublicOption{OptionID: o.OptionID, Text: o.Text}
	}
	return PublicQuestion{
		QuestionID:       q.QuestionID,
		Text:             q.Text,
		Options:          opts,
		TimeLimitSeconds: q.TimeLimitSeconds,
		Points:           q.Points,
	}
}

// PublicQuestion is the player-facing view of a question
type PublicQuestion struct {
	QuestionID       string         `json:"question_id"`
	Text             string         `json:"text"`
	Options          []PublicOption `json:"options"`
	TimeLimitSeconds int            `json:"time_limit_sec"`
	Points           int            `json:"points"`
}

// PublicOption is the player-facing view of an option
type PublicOption struct {
	OptionID string `json:"option_id"`
	Text     string `json:"text"`
}
