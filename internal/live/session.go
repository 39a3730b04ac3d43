package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// Reasons carried on participant_left events.
const (
	LeaveReasonLeft         = "left"
	LeaveReasonDisconnected = "disconnected"
	LeaveReasonRemoved      = "removed"
)

// Reasons carried on quiz_ended events.
const (
	EndReasonHost       = "host_ended"
	EndReasonHostAbsent = "host_absent"
	EndReasonShutdown   = "server_shutdown"
	EndReasonTerminated = "terminated"
)

// Session is the state machine for one live room. Every exported method is
// safe for concurrent use: a single mutex serializes all operations,
// including the clock-driven ones, so two rooms never block each other and
// no two operations on one room interleave.
type Session struct {
	mu sync.Mutex

	id         uuid.UUID
	code       string
	quiz       models.QuizSnapshot
	hostUserID string

	status     models.RoomStatus
	current    int  // -1 before start; never decreases
	windowOpen bool // current question still accepts answers

	// deadline is the absolute close of the current answer window, valid
	// while Active with an open window. pausedRemaining freezes the window
	// across Pause/Resume so paused time never counts against participants.
	deadline        time.Time
	pausedRemaining time.Duration

	hostConnID   string
	hostDeadline time.Time // auto-end when the host stays unbound past this

	participants map[string]*models.Participant // by participant ID
	byUser       map[string]string              // user ID -> participant ID
	joinSeq      int

	answers map[answerKey]*models.Answer

	scoring   ScoringConfig
	hostGrace time.Duration
	clock     Clock
	sink      events.Sink
	onEnded   func(*Session)

	final   *models.FinalResults
	endedAt time.Time

	wake   chan struct{}
	cancel context.CancelFunc
}

type answerKey struct {
	questionID    string
	participantID string
}

type sessionConfig struct {
	id         uuid.UUID
	code       string
	quiz       models.QuizSnapshot
	hostUserID string
	scoring    ScoringConfig
	hostGrace  time.Duration
	clock      Clock
	sink       events.Sink
	onEnded    func(*Session)
}

func newSession(cfg sessionConfig) *Session {
	s := &Session{
		id:           cfg.id,
		code:         cfg.code,
		quiz:         cfg.quiz,
		hostUserID:   cfg.hostUserID,
		status:       models.RoomStatusWaiting,
		current:      -1,
		participants: make(map[string]*models.Participant),
		byUser:       make(map[string]string),
		answers:      make(map[answerKey]*models.Answer),
		scoring:      cfg.scoring,
		hostGrace:    cfg.hostGrace,
		clock:        cfg.clock,
		sink:         cfg.sink,
		onEnded:      cfg.onEnded,
		wake:         make(chan struct{}, 1),
	}
	// A room whose host never shows up is reclaimed by the same grace timer
	// that covers mid-quiz host loss.
	if s.hostGrace > 0 {
		s.hostDeadline = s.clock.Now().Add(s.hostGrace)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.runTimers(ctx)
	return s
}

// ID returns the room's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Code returns the human-entry join code.
func (s *Session) Code() string { return s.code }

// HostUserID returns the user allowed to bind as host.
func (s *Session) HostUserID() string { return s.hostUserID }

// Status returns the current lifecycle status.
func (s *Session) Status() models.RoomStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Join adds a participant, or reconnects an existing one when the same user
// joins again. Allowed while Waiting, Active or Paused; late joiners simply
// have no answers for questions already played.
func (s *Session) Join(userID, displayName string) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.RoomStatusEnded {
		return models.Participant{}, fmt.Errorf("join room %s: session ended: %w", s.code, ErrNotFound)
	}
	if userID == "" || displayName == "" {
		return models.Participant{}, fmt.Errorf("join room %s: user id and display name required: %w", s.code, ErrMalformed)
	}

	if pid, ok := s.byUser[userID]; ok {
		p := s.participants[pid]
		if p.Removed {
			return models.Participant{}, fmt.Errorf("join room %s: participant was removed: %w", s.code, ErrUnauthorized)
		}
		p.Connected = true
		s.emitLocked(events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{
			Participant: *p,
			Reconnected: true,
		})
		log.Info().
			Str("room_id", s.id.String()).
			Str("participant_id", p.ParticipantID).
			Str("user_id", userID).
			Msg("participant reconnected")
		return *p, nil
	}

	s.joinSeq++
	p := &models.Participant{
		ParticipantID: uuid.New().String(),
		UserID:        userID,
		DisplayName:   displayName,
		Connected:     true,
		JoinSeq:       s.joinSeq,
	}
	s.participants[p.ParticipantID] = p
	s.byUser[userID] = p.ParticipantID

	s.emitLocked(events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{Participant: *p})
	log.Info().
		Str("room_id", s.id.String()).
		Str("participant_id", p.ParticipantID).
		Str("user_id", userID).
		Int("participants", len(s.participants)).
		Msg("participant joined")
	return *p, nil
}

// SetReady flags a participant ready in the lobby. Waiting only.
func (s *Session) SetReady(participantID string, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.RoomStatusWaiting {
		return fmt.Errorf("set ready in status %s: %w", s.status, ErrInvalidTransition)
	}
	p, ok := s.participants[participantID]
	if !ok || p.Removed {
		return fmt.Errorf("set ready: participant %s: %w", participantID, ErrNotFound)
	}
	p.Ready = ready
	s.emitLocked(events.EventTypeParticipantReady, events.ParticipantReadyPayload{
		ParticipantID: participantID,
		Ready:         ready,
	})
	return nil
}

// Start moves Waiting to Active and opens the first question's answer window.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.RoomStatusWaiting {
		return fmt.Errorf("start in status %s: %w", s.status, ErrInvalidTransition)
	}
	if s.activeParticipantCountLocked() == 0 {
		return fmt.Errorf("start: at least one participant required: %w", ErrInvalidTransition)
	}

	now := s.clock.Now()
	s.status = models.RoomStatusActive
	s.current = 0
	s.openQuestionLocked(now)

	s.emitLocked(events.EventTypeQuizStarted, events.QuizStartedPayload{
		QuizTitle:      s.quiz.Title,
		TotalQuestions: len(s.quiz.Questions),
		StartedAt:      now,
	})
	s.emitQuestionStartedLocked(now)
	s.signalTimers()

	log.Info().
		Str("room_id", s.id.String()).
		Int("questions", len(s.quiz.Questions)).
		Int("participants", s.activeParticipantCountLocked()).
		Msg("quiz started")
	return nil
}

// SubmitAnswer records one answer for the current question. The ledger write
// and the score increment are a single atomic step under the session lock;
// a second submission for the same (question, participant) pair observes the
// first and is rejected.
func (s *Session) SubmitAnswer(participantID, questionID, optionID string, clientElapsedMs int64) (models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return models.Answer{}, fmt.Errorf("submit answer: participant %s: %w", participantID, ErrNotFound)
	}
	if p.Removed {
		return models.Answer{}, fmt.Errorf("submit answer: participant removed: %w", ErrUnauthorized)
	}
	if s.status != models.RoomStatusActive {
		return models.Answer{}, fmt.Errorf("submit answer in status %s: %w", s.status, ErrInvalidTransition)
	}

	q := s.quiz.Questions[s.current]
	if questionID != q.QuestionID {
		return models.Answer{}, fmt.Errorf("submit answer: question %s is not current: %w", questionID, ErrTooLate)
	}
	now := s.clock.Now()
	if !s.windowOpen || now.After(s.deadline) {
		return models.Answer{}, fmt.Errorf("submit answer: deadline passed: %w", ErrTooLate)
	}
	if !q.HasOption(optionID) {
		return models.Answer{}, fmt.Errorf("submit answer: unknown option %s: %w", optionID, ErrMalformed)
	}

	key := answerKey{questionID: questionID, participantID: participantID}
	if _, exists := s.answers[key]; exists {
		return models.Answer{}, fmt.Errorf("submit answer: %w", ErrDuplicateAnswer)
	}

	// Time taken is derived from the deadline rather than the question start
	// so pause gaps are excluded automatically: the deadline shifts on resume.
	timeTaken := q.TimeLimit() - s.deadline.Sub(now)
	if timeTaken < 0 {
		timeTaken = 0
	}
	if timeTaken > q.TimeLimit() {
		timeTaken = q.TimeLimit()
	}

	correct, points := ScoreAnswer(q, optionID, timeTaken, s.scoring)
	ans := &models.Answer{
		QuestionID:       questionID,
		ParticipantID:    participantID,
		SelectedOptionID: optionID,
		SubmittedAt:      now,
		TimeTakenMs:      timeTaken.Milliseconds(),
		IsCorrect:        correct,
		PointsAwarded:    points,
	}
	s.answers[key] = ans
	p.Score += points
	if correct {
		p.CorrectCount++
	}
	p.AnswerTimeMs += ans.TimeTakenMs

	log.Debug().
		Str("room_id", s.id.String()).
		Str("participant_id", participantID).
		Str("question_id", questionID).
		Bool("correct", correct).
		Int("points", points).
		Int64("time_taken_ms", ans.TimeTakenMs).
		Int64("client_elapsed_ms", clientElapsedMs).
		Msg("answer recorded")
	return *ans, nil
}

// AdvanceQuestion closes the current answer window if it is still open and
// moves to the next question. At the last question it only closes the window;
// the host ends the session explicitly.
func (s *Session) AdvanceQuestion() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.RoomStatusActive {
		return fmt.Errorf("advance question in status %s: %w", s.status, ErrInvalidTransition)
	}

	now := s.clock.Now()
	last := s.current == len(s.quiz.Questions)-1
	if s.windowOpen {
		s.closeWindowLocked()
		if last {
			return nil
		}
	} else if last {
		return fmt.Errorf("advance question: no more questions: %w", ErrInvalidTransition)
	}

	s.current++
	s.openQuestionLocked(now)
	s.emitQuestionStartedLocked(now)
	s.signalTimers()

	log.Info().
		Str("room_id", s.id.String()).
		Int("question_index", s.current).
		Msg("question advanced")
	return nil
}

// Pause freezes the remaining answer window time.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.RoomStatusActive {
		return fmt.Errorf("pause in status %s: %w", s.status, ErrInvalidTransition)
	}
	now := s.clock.Now()
	s.status = models.RoomStatusPaused
	s.pausedRemaining = 0
	if s.windowOpen {
		s.pausedRemaining = s.deadline.Sub(now)
		if s.pausedRemaining < 0 {
			s.pausedRemaining = 0
		}
	}
	s.emitLocked(events.EventTypeQuizPaused, events.QuizPausedPayload{
		PausedAt:     now,
		RemainingSec: s.pausedRemaining.Seconds(),
	})
	s.signalTimers()

	log.Info().
		Str("room_id", s.id.String()).
		Float64("remaining_sec", s.pausedRemaining.Seconds()).
		Msg("quiz paused")
	return nil
}

// Resume restores the frozen answer window from the moment of resumption.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.RoomStatusPaused {
		return fmt.Errorf("resume in status %s: %w", s.status, ErrInvalidTransition)
	}
	now := s.clock.Now()
	s.status = models.RoomStatusActive

	payload := events.QuizResumedPayload{ResumedAt: now, ServerTime: now}
	if s.windowOpen {
		s.deadline = now.Add(s.pausedRemaining)
		dl := s.deadline
		payload.Deadline = &dl
	}
	s.emitLocked(events.EventTypeQuizResumed, payload)
	s.signalTimers()

	log.Info().
		Str("room_id", s.id.String()).
		Msg("quiz resumed")
	return nil
}

// RemoveParticipant flags a participant removed. Their past answers stay in
// the ledger for statistics, but they are excluded from future answering and
// leaderboards, and may not rejoin.
func (s *Session) RemoveParticipant(participantID string) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.RoomStatusEnded {
		return models.Participant{}, fmt.Errorf("remove participant in status %s: %w", s.status, ErrInvalidTransition)
	}
	p, ok := s.participants[participantID]
	if !ok || p.Removed {
		return models.Participant{}, fmt.Errorf("remove participant %s: %w", participantID, ErrNotFound)
	}
	p.Removed = true
	p.Connected = false
	p.Ready = false

	s.emitLocked(events.EventTypeParticipantLeft, events.ParticipantLeftPayload{
		ParticipantID: participantID,
		DisplayName:   p.DisplayName,
		Reason:        LeaveReasonRemoved,
	})
	log.Info().
		Str("room_id", s.id.String()).
		Str("participant_id", participantID).
		Msg("participant removed")
	return *p, nil
}

// End terminates the session at the host's request.
func (s *Session) End() error {
	return s.endWith(EndReasonHost)
}

// endWith transitions to Ended exactly once, computes and caches the final
// results, stops the timers and notifies the registry.
func (s *Session) endWith(reason string) error {
	s.mu.Lock()
	if s.status == models.RoomStatusEnded {
		s.mu.Unlock()
		return fmt.Errorf("end: already ended: %w", ErrInvalidTransition)
	}
	now := s.clock.Now()
	s.status = models.RoomStatusEnded
	s.windowOpen = false
	s.endedAt = now

	final := s.computeFinalLocked(now)
	s.final = &final
	s.emitLocked(events.EventTypeQuizEnded, events.QuizEndedPayload{
		Reason:  reason,
		Results: final,
	})
	hook := s.onEnded
	s.mu.Unlock()

	s.cancel()
	if hook != nil {
		hook(s)
	}

	log.Info().
		Str("room_id", s.id.String()).
		Str("reason", reason).
		Msg("quiz ended")
	return nil
}

// Disconnect marks a participant disconnected without touching their answers
// or score. Idempotent; a no-op once the session has ended.
func (s *Session) Disconnect(participantID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.RoomStatusEnded {
		return nil
	}
	p, ok := s.participants[participantID]
	if !ok {
		return fmt.Errorf("disconnect: participant %s: %w", participantID, ErrNotFound)
	}
	if p.Removed || !p.Connected {
		return nil
	}
	p.Connected = false
	s.emitLocked(events.EventTypeParticipantLeft, events.ParticipantLeftPayload{
		ParticipantID: participantID,
		DisplayName:   p.DisplayName,
		Reason:        reason,
	})
	log.Info().
		Str("room_id", s.id.String()).
		Str("participant_id", participantID).
		Str("reason", reason).
		Msg("participant disconnected")
	return nil
}

// BindHost attaches a connection as the room's host. Only the creating user
// may bind; a newer binding supersedes the previous one, which is returned so
// the gateway can close it.
func (s *Session) BindHost(connID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.RoomStatusEnded {
		return "", fmt.Errorf("bind host: session ended: %w", ErrNotFound)
	}
	if userID == "" || userID != s.hostUserID {
		return "", fmt.Errorf("bind host: user %s is not the host: %w", userID, ErrUnauthorized)
	}
	prev := s.hostConnID
	s.hostConnID = connID
	s.hostDeadline = time.Time{}
	s.signalTimers()

	log.Info().
		Str("room_id", s.id.String()).
		Str("connection_id", connID).
		Msg("host connected")
	return prev, nil
}

// UnbindHost detaches the host connection and starts the absence grace
// countdown. Stale unbinds from superseded connections are ignored.
func (s *Session) UnbindHost(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hostConnID != connID || connID == "" {
		return
	}
	s.hostConnID = ""
	if s.status != models.RoomStatusEnded && s.hostGrace > 0 {
		s.hostDeadline = s.clock.Now().Add(s.hostGrace)
	}
	s.signalTimers()

	log.Info().
		Str("room_id", s.id.String()).
		Dur("grace", s.hostGrace).
		Msg("host disconnected")
}

// IsHostConn reports whether connID is the currently bound host connection.
func (s *Session) IsHostConn(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return connID != "" && s.hostConnID == connID
}

// Snapshot assembles the full resynchronization state. viewerParticipantID
// may be empty for host or dashboard views.
func (s *Session) Snapshot(viewerParticipantID string) models.RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	snap := models.RoomSnapshot{
		RoomID:         s.id,
		RoomCode:       s.code,
		Status:         s.status,
		QuizTitle:      s.quiz.Title,
		QuestionIndex:  s.current,
		TotalQuestions: len(s.quiz.Questions),
		WindowOpen:     s.windowOpen,
		ServerTime:     now,
		Participants:   s.rosterLocked(),
	}

	if s.status == models.RoomStatusEnded && s.final != nil {
		snap.Leaderboard = s.final.Entries
	} else {
		snap.Leaderboard = s.leaderboardLocked()
	}

	if s.current >= 0 && (s.status == models.RoomStatusActive || s.status == models.RoomStatusPaused) {
		pq := s.quiz.Questions[s.current].Public()
		snap.CurrentQuestion = &pq
		if s.windowOpen {
			switch s.status {
			case models.RoomStatusActive:
				dl := s.deadline
				snap.Deadline = &dl
				if remaining := dl.Sub(now); remaining > 0 {
					snap.RemainingSec = remaining.Seconds()
				}
			case models.RoomStatusPaused:
				snap.RemainingSec = s.pausedRemaining.Seconds()
			}
		}
		if viewerParticipantID != "" {
			key := answerKey{questionID: s.quiz.Questions[s.current].QuestionID, participantID: viewerParticipantID}
			if ans, ok := s.answers[key]; ok {
				snap.YourAnswer = &models.AnswerReceipt{
					QuestionID:       ans.QuestionID,
					SelectedOptionID: ans.SelectedOptionID,
					Received:         true,
				}
			}
		}
	}
	if viewerParticipantID != "" {
		snap.YourParticipantID = viewerParticipantID
	}
	return snap
}

// FinalResults returns the cached results of an ended session.
func (s *Session) FinalResults() (models.FinalResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.RoomStatusEnded || s.final == nil {
		return models.FinalResults{}, fmt.Errorf("final results: session not ended: %w", ErrNotFound)
	}
	return *s.final, nil
}

// shutdown stops the timer goroutine without ending the session. Used by the
// registry when discarding an already-ended session.
func (s *Session) shutdown() {
	s.cancel()
}

// openQuestionLocked opens the answer window for the question at s.current.
func (s *Session) openQuestionLocked(now time.Time) {
	q := s.quiz.Questions[s.current]
	s.windowOpen = true
	s.deadline = now.Add(q.TimeLimit())
	s.pausedRemaining = 0
}

// closeWindowLocked shuts the current answer window and broadcasts the
// question's statistics followed by the running leaderboard. It never moves
// the cursor.
func (s *Session) closeWindowLocked() {
	s.windowOpen = false
	q := s.quiz.Questions[s.current]
	stats := s.statisticsLocked(s.current)

	s.emitLocked(events.EventTypeQuestionEnded, events.QuestionEndedPayload{
		QuestionID:      q.QuestionID,
		QuestionIndex:   s.current,
		CorrectOptionID: q.CorrectOptionID(),
		Statistics:      stats,
	})
	s.emitLocked(events.EventTypeLeaderboardUpdated, events.LeaderboardUpdatedPayload{
		Entries: s.leaderboardLocked(),
	})

	log.Info().
		Str("room_id", s.id.String()).
		Str("question_id", q.QuestionID).
		Int("answered", stats.TotalAnswered).
		Msg("question ended")
}

// emitQuestionStartedLocked pushes the current question without correctness
// flags, with the absolute deadline and server time for client countdowns.
func (s *Session) emitQuestionStartedLocked(now time.Time) {
	q := s.quiz.Questions[s.current]
	s.emitLocked(events.EventTypeQuestionStarted, events.QuestionStartedPayload{
		Question:       q.Public(),
		QuestionIndex:  s.current,
		TotalQuestions: len(s.quiz.Questions),
		Deadline:       s.deadline,
		ServerTime:     now,
	})
}

// statisticsLocked aggregates the ledger for one question.
func (s *Session) statisticsLocked(index int) models.QuestionStatistics {
	q := s.quiz.Questions[index]
	counts := make(map[string]int, len(q.Options))
	for _, o := range q.Options {
		counts[o.OptionID] = 0
	}
	total := 0
	for key, ans := range s.answers {
		if key.questionID != q.QuestionID {
			continue
		}
		counts[ans.SelectedOptionID]++
		total++
	}
	return models.QuestionStatistics{
		QuestionID:      q.QuestionID,
		QuestionIndex:   index,
		CorrectOptionID: q.CorrectOptionID(),
		TotalAnswered:   total,
		OptionCounts:    counts,
	}
}

// leaderboardLocked ranks the non-removed participants.
func (s *Session) leaderboardLocked() []models.LeaderboardEntry {
	rows := make([]LeaderboardRow, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Removed {
			continue
		}
		rows = append(rows, LeaderboardRow{
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			CorrectCount:  p.CorrectCount,
			AnswerTimeMs:  p.AnswerTimeMs,
			JoinSeq:       p.JoinSeq,
		})
	}
	return ComputeLeaderboard(rows)
}

// rosterLocked copies the non-removed participants in join order.
func (s *Session) rosterLocked() []models.Participant {
	roster := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Removed {
			continue
		}
		roster = append(roster, *p)
	}
	// Map iteration order is random; join order keeps lobby lists stable.
	sort.Slice(roster, func(i, j int) bool { return roster[i].JoinSeq < roster[j].JoinSeq })
	return roster
}

func (s *Session) computeFinalLocked(now time.Time) models.FinalResults {
	asked := 0
	if s.current >= 0 {
		asked = s.current + 1
	}
	stats := make([]models.QuestionStatistics, 0, asked)
	for i := 0; i < asked; i++ {
		stats = append(stats, s.statisticsLocked(i))
	}
	return models.FinalResults{
		RoomID:     s.id,
		RoomCode:   s.code,
		QuizID:     s.quiz.QuizID,
		Title:      s.quiz.Title,
		EndedAt:    now,
		Entries:    s.leaderboardLocked(),
		Statistics: stats,
	}
}

func (s *Session) activeParticipantCountLocked() int {
	n := 0
	for _, p := range s.participants {
		if !p.Removed {
			n++
		}
	}
	return n
}

// emitLocked wraps a payload in an envelope and hands it to the sink while
// still holding the session lock, so event order matches operation order.
// Sinks must not block.
func (s *Session) emitLocked(eventType events.EventType, payload any) {
	evt, err := events.New(s.id, eventType, s.clock.Now(), payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", s.id.String()).
			Str("event_type", string(eventType)).
			Msg("dropping event: payload marshal failed")
		return
	}
	s.sink.Publish(evt)
}
