package memory

import (
	"context"
	"fmt"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// StaticQuizLoader serves quiz snapshots from an in-memory catalog (useful
// for development and tests).
type StaticQuizLoader struct {
	quizzes map[string]models.QuizSnapshot
}

func NewStaticQuizLoader(quizzes map[string]models.QuizSnapshot) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (models.QuizSnapshot, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return models.QuizSnapshot{}, fmt.Errorf("quiz %q: %w", quizID, live.ErrNotFound)
}
