package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// ResultsStore persists final results so they outlive the in-memory session.
// The leaderboard is a JSONB document; per-question statistics are nullable
// because pre-start terminations end with none.
type ResultsStore struct {
	db *sql.DB
}

func NewResultsStore(db *sql.DB) *ResultsStore {
	return &ResultsStore{db: db}
}

func (s *ResultsStore) SaveFinalResults(ctx context.Context, results models.FinalResults) error {
	leaderboard, err := json.Marshal(results.Entries)
	if err != nil {
		return fmt.Errorf("encode leaderboard for room %s: %w", results.RoomID, err)
	}

	var statistics pqtype.NullRawMessage
	if len(results.Statistics) > 0 {
		b, err := json.Marshal(results.Statistics)
		if err != nil {
			return fmt.Errorf("encode statistics for room %s: %w", results.RoomID, err)
		}
		statistics = pqtype.NullRawMessage{RawMessage: b, Valid: true}
	}

	// Archiving retries after the first success are no-ops: results are
	// immutable once written.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quiz_results (room_id, room_code, quiz_id, title, ended_at, leaderboard, statistics)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id) DO NOTHING
	`, results.RoomID, results.RoomCode, results.QuizID, results.Title, results.EndedAt, leaderboard, statistics)
	if err != nil {
		return fmt.Errorf("save results for room %s: %w", results.RoomID, err)
	}
	return nil
}

func (s *ResultsStore) GetFinalResults(ctx context.Context, roomID uuid.UUID) (models.FinalResults, error) {
	var (
		results     models.FinalResults
		leaderboard []byte
		statistics  pqtype.NullRawMessage
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, room_code, quiz_id, title, ended_at, leaderboard, statistics
		FROM quiz_results
		WHERE room_id = $1
	`, roomID).Scan(
		&results.RoomID,
		&results.RoomCode,
		&results.QuizID,
		&results.Title,
		&results.EndedAt,
		&leaderboard,
		&statistics,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FinalResults{}, fmt.Errorf("results for room %s: %w", roomID, live.ErrNotFound)
	}
	if err != nil {
		return models.FinalResults{}, fmt.Errorf("get results for room %s: %w", roomID, err)
	}

	if err := json.Unmarshal(leaderboard, &results.Entries); err != nil {
		return models.FinalResults{}, fmt.Errorf("decode leaderboard for room %s: %w", roomID, err)
	}
	if statistics.Valid {
		if err := json.Unmarshal(statistics.RawMessage, &results.Statistics); err != nil {
			return models.FinalResults{}, fmt.Errorf("decode statistics for room %s: %w", roomID, err)
		}
	}
	return results, nil
}
