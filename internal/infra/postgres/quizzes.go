package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// QuizStore loads quiz snapshots from Postgres. Questions live in a single
// JSONB column: rooms read the whole quiz once at creation, so there is
// nothing to join.
type QuizStore struct {
	pool *pgxpool.Pool
}

func NewQuizStore(pool *pgxpool.Pool) *QuizStore {
	return &QuizStore{pool: pool}
}

func (s *QuizStore) LoadQuiz(ctx context.Context, quizID string) (models.QuizSnapshot, error) {
	var (
		title         string
		questionsJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT title, questions FROM quizzes WHERE quiz_id = $1`,
		quizID,
	).Scan(&title, &questionsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QuizSnapshot{}, fmt.Errorf("quiz %q: %w", quizID, live.ErrNotFound)
	}
	if err != nil {
		return models.QuizSnapshot{}, fmt.Errorf("load quiz %q: %w", quizID, err)
	}

	var questions []models.Question
	if err := json.Unmarshal(questionsJSON, &questions); err != nil {
		return models.QuizSnapshot{}, fmt.Errorf("decode questions for quiz %q: %w", quizID, err)
	}

	return models.QuizSnapshot{
		QuizID:    quizID,
		Title:     title,
		Questions: questions,
	}, nil
}

// SaveQuiz upserts a quiz. Used by the seed command.
func (s *QuizStore) SaveQuiz(ctx context.Context, quiz models.QuizSnapshot) error {
	if quiz.QuizID == "" {
		return fmt.Errorf("save quiz: %w: missing quiz id", live.ErrMalformed)
	}
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("encode questions for quiz %q: %w", quiz.QuizID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO quizzes (quiz_id, title, questions)
		VALUES ($1, $2, $3)
		ON CONFLICT (quiz_id) DO UPDATE
		SET title = EXCLUDED.title, questions = EXCLUDED.questions, updated_at = now()
	`, quiz.QuizID, quiz.Title, questions)
	if err != nil {
		return fmt.Errorf("save quiz %q: %w", quiz.QuizID, err)
	}
	return nil
}
