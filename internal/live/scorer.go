package live

import (
	"math"
	"sort"
	"time"

	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// ScoringConfig tunes how answer points are computed.
type ScoringConfig struct {
	// SpeedBonus scales points down linearly with time taken when enabled.
	SpeedBonus bool
	// FloorFraction is the fraction of base points a correct answer keeps
	// even at the full time limit. Must be in (0, 1].
	FloorFraction float64
}

// DefaultScoringConfig returns the scoring used when none is configured.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{SpeedBonus: true, FloorFraction: 0.5}
}

// ScoreAnswer computes correctness and points for one answer. Pure: no clock
// reads, no randomness, so identical inputs always reproduce the ledger.
//
// A wrong option scores zero. A correct option scores the question's base
// points, scaled linearly from full points at t=0 down to FloorFraction of
// them at the time limit when the speed bonus is enabled.
func ScoreAnswer(q models.Question, selectedOptionID string, timeTaken time.Duration, cfg ScoringConfig) (bool, int) {
	if selectedOptionID == "" || selectedOptionID != q.CorrectOptionID() {
		return false, 0
	}
	if !cfg.SpeedBonus {
		return true, q.Points
	}
	limit := q.TimeLimit()
	if limit <= 0 {
		return true, q.Points
	}
	floor := cfg.FloorFraction
	if floor <= 0 || floor > 1 {
		floor = DefaultScoringConfig().FloorFraction
	}
	frac := float64(timeTaken) / float64(limit)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	mult := 1 - (1-floor)*frac
	return true, int(math.Round(float64(q.Points) * mult))
}

// LeaderboardRow is one participant's standing fed into ComputeLeaderboard.
type LeaderboardRow struct {
	ParticipantID string
	DisplayName   string
	Score         int
	CorrectCount  int
	AnswerTimeMs  int64
	JoinSeq       int
}

// ComputeLeaderboard ranks rows by score descending, ties broken by lower
// cumulative answer time, remaining ties by join order. The ordering is a
// total order, so recomputation over unchanged input is idempotent. Ranks are
// 1-based with no duplicates.
func ComputeLeaderboard(rows []LeaderboardRow) []models.LeaderboardEntry {
	sorted := make([]LeaderboardRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AnswerTimeMs != b.AnswerTimeMs {
			return a.AnswerTimeMs < b.AnswerTimeMs
		}
		return a.JoinSeq < b.JoinSeq
	})

	entries := make([]models.LeaderboardEntry, len(sorted))
	for i, row := range sorted {
		entries[i] = models.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: row.ParticipantID,
			DisplayName:   row.DisplayName,
			Score:         row.Score,
			CorrectCount:  row.CorrectCount,
			AnswerTimeMs:  row.AnswerTimeMs,
		}
	}
	return entries
}
