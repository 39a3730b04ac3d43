package live

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// CodeAllocator reserves room codes so two live rooms never share one, even
// across coordinator instances.
type CodeAllocator interface {
	// Reserve claims code for roomID. Returns false when the code is taken.
	Reserve(ctx context.Context, code string, roomID uuid.UUID) (bool, error)
	// Release frees a code once its session has ended.
	Release(ctx context.Context, code string) error
}

// QuizLoader supplies the read-only quiz snapshot a room is created from.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (models.QuizSnapshot, error)
}

// ResultsStore persists final results for retrieval after the session is
// gone from the registry.
type ResultsStore interface {
	SaveFinalResults(ctx context.Context, results models.FinalResults) error
	GetFinalResults(ctx context.Context, roomID uuid.UUID) (models.FinalResults, error)
}

// RegistryConfig tunes session lifecycle behavior.
type RegistryConfig struct {
	// HostGrace is how long a session survives without a bound host
	// connection before auto-ending. Zero disables the auto-end.
	HostGrace time.Duration
	// Retention is how long an ended session stays fetchable by ID before
	// removal. Zero removes it immediately on end.
	Retention time.Duration
	// CodeLength is the room code length; defaults to 6.
	CodeLength int
	// Scoring configures the scorer for every session.
	Scoring ScoringConfig
}

const (
	defaultCodeLength = 6
	maxCodeAttempts   = 5

	// No 0/O or 1/I; codes are typed from a screen across the room.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// Registry maps room IDs and codes to live sessions. Safe for concurrent
// use; its lock is never held while a session's lock is taken.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Session
	byCode map[string]*Session

	clock   Clock
	sink    events.Sink
	codes   CodeAllocator
	results ResultsStore
	cfg     RegistryConfig
}

// NewRegistry creates a registry. sink receives every event any session
// emits; codes and results may not be nil (use the memory implementations
// for single-node runs).
func NewRegistry(clock Clock, sink events.Sink, codes CodeAllocator, results ResultsStore, cfg RegistryConfig) *Registry {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	return &Registry{
		byID:    make(map[uuid.UUID]*Session),
		byCode:  make(map[string]*Session),
		clock:   clock,
		sink:    sink,
		codes:   codes,
		results: results,
		cfg:     cfg,
	}
}

// CreateSession validates the snapshot, reserves a fresh room code and starts
// a Waiting session with its timer goroutine running.
func (r *Registry) CreateSession(ctx context.Context, quiz models.QuizSnapshot, hostUserID string) (*Session, error) {
	if err := validateSnapshot(quiz); err != nil {
		return nil, err
	}
	if hostUserID == "" {
		return nil, fmt.Errorf("create session: host user id required: %w", ErrMalformed)
	}

	id := uuid.New()
	code, err := r.reserveCode(ctx, id)
	if err != nil {
		return nil, err
	}

	s := newSession(sessionConfig{
		id:         id,
		code:       code,
		quiz:       quiz,
		hostUserID: hostUserID,
		scoring:    r.cfg.Scoring,
		hostGrace:  r.cfg.HostGrace,
		clock:      r.clock,
		sink:       r.sink,
		onEnded:    r.afterEnd,
	})

	r.mu.Lock()
	r.byID[id] = s
	r.byCode[code] = s
	r.mu.Unlock()

	log.Info().
		Str("room_id", id.String()).
		Str("room_code", code).
		Str("quiz_id", quiz.QuizID).
		Str("host_user_id", hostUserID).
		Msg("session created")
	return s, nil
}

// LookupByCode finds a live session by its join code. Codes are released at
// end, so ended sessions are not reachable this way.
func (r *Registry) LookupByCode(code string) (*Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	r.mu.RLock()
	s, ok := r.byCode[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room code %q: %w", code, ErrNotFound)
	}
	return s, nil
}

// LookupByID finds a session by room ID, including ended sessions still
// inside their retention window.
func (r *Registry) LookupByID(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// Remove drops a session from the registry and stops its timers. A session
// still live is ended first so connected clients hear quiz_ended.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		if cur, live := r.byCode[s.code]; live && cur == s {
			delete(r.byCode, s.code)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := s.endWith(EndReasonTerminated); err != nil {
		// Already ended; just stop the timer goroutine.
		s.shutdown()
	}
	log.Info().Str("room_id", id.String()).Msg("session removed")
}

// Shutdown ends every session so timers stop and connected clients hear
// quiz_ended before the process exits.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.endWith(EndReasonShutdown); err != nil {
			s.shutdown()
		}
	}
	log.Info().Int("sessions", len(sessions)).Msg("registry shut down")
}

// SessionCount returns the number of registered sessions, ended ones in
// retention included.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// afterEnd runs once per session, after it has entered Ended: release the
// code for reuse, hand the finals to the results store, schedule removal.
func (r *Registry) afterEnd(s *Session) {
	r.mu.Lock()
	if cur, ok := r.byCode[s.code]; ok && cur == s {
		delete(r.byCode, s.code)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.codes.Release(ctx, s.code); err != nil {
		log.Warn().Err(err).Str("room_code", s.code).Msg("failed to release room code")
	}

	if final, err := s.FinalResults(); err == nil {
		go r.archive(final)
	}

	if r.cfg.Retention > 0 {
		r.clock.AfterFunc(r.cfg.Retention, func() { r.Remove(s.id) })
	} else {
		r.mu.Lock()
		delete(r.byID, s.id)
		r.mu.Unlock()
		s.shutdown()
	}
}

// archive writes final results to the durable store off the caller's path.
func (r *Registry) archive(final models.FinalResults) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.results.SaveFinalResults(ctx, final); err != nil {
		log.Error().
			Err(err).
			Str("room_id", final.RoomID.String()).
			Msg("failed to archive final results")
		return
	}
	log.Info().
		Str("room_id", final.RoomID.String()).
		Int("entries", len(final.Entries)).
		Msg("final results archived")
}

// reserveCode draws random codes until the allocator accepts one.
func (r *Registry) reserveCode(ctx context.Context, roomID uuid.UUID) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := randomCode(r.cfg.CodeLength)
		ok, err := r.codes.Reserve(ctx, code, roomID)
		if err != nil {
			return "", fmt.Errorf("reserve room code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("reserve room code: exhausted %d attempts", maxCodeAttempts)
}

func randomCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

func validateSnapshot(quiz models.QuizSnapshot) error {
	if quiz.QuizID == "" {
		return fmt.Errorf("create session: quiz id required: %w", ErrMalformed)
	}
	if len(quiz.Questions) == 0 {
		return fmt.Errorf("create session: quiz has no questions: %w", ErrMalformed)
	}
	for i, q := range quiz.Questions {
		if q.QuestionID == "" {
			return fmt.Errorf("create session: question %d has no id: %w", i, ErrMalformed)
		}
		if q.TimeLimitSeconds <= 0 {
			return fmt.Errorf("create session: question %s has no time limit: %w", q.QuestionID, ErrMalformed)
		}
		if q.Points <= 0 {
			return fmt.Errorf("create session: question %s has no points: %w", q.QuestionID, ErrMalformed)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("create session: question %s needs at least two options: %w", q.QuestionID, ErrMalformed)
		}
		correct := 0
		for _, o := range q.Options {
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("create session: question %s must have exactly one correct option: %w", q.QuestionID, ErrMalformed)
		}
	}
	return nil
}
