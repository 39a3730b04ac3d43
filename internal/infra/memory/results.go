package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// ResultsStore keeps final results in memory for development and tests.
type ResultsStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]models.FinalResults
}

func NewResultsStore() *ResultsStore {
	return &ResultsStore{results: make(map[uuid.UUID]models.FinalResults)}
}

func (s *ResultsStore) SaveFinalResults(_ context.Context, results models.FinalResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[results.RoomID]; exists {
		// Results are write-once; a second save for the same room is a bug
		// upstream, not something to overwrite silently.
		return fmt.Errorf("final results for room %s already stored", results.RoomID)
	}
	s.results[results.RoomID] = results
	return nil
}

func (s *ResultsStore) GetFinalResults(_ context.Context, roomID uuid.UUID) (models.FinalResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results, ok := s.results[roomID]
	if !ok {
		return models.FinalResults{}, fmt.Errorf("results for room %s: %w", roomID, live.ErrNotFound)
	}
	return results, nil
}
