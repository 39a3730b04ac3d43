package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/deveshsawant05/QuizZone-sub000/internal/infra/memory"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// captureSink records every published event on a buffered channel so tests can
// assert on emission order. Publish never blocks, per the Sink contract.
type captureSink struct {
	ch chan events.Event
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan events.Event, 256)}
}

func (c *captureSink) Publish(evt events.Event) {
	select {
	case c.ch <- evt:
	default:
	}
}

// waitForEvent returns the next event of the wanted type, discarding others.
// Timer-driven events arrive asynchronously, so this polls with a real-time
// timeout.
func waitForEvent(t *testing.T, sink *captureSink, want events.EventType) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-sink.ch:
			if evt.Type == want {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

// nextEvent returns the next event of any type. Host operations emit
// synchronously, so after one returns its events are already buffered.
func nextEvent(t *testing.T, sink *captureSink) events.Event {
	t.Helper()
	select {
	case evt := <-sink.ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an event")
		return events.Event{}
	}
}

// expectNoEvent fails if an event of the unwanted type shows up within the
// window. Other event types are discarded.
func expectNoEvent(t *testing.T, sink *captureSink, unwanted events.EventType, window time.Duration) {
	t.Helper()
	timeout := time.After(window)
	for {
		select {
		case evt := <-sink.ch:
			if evt.Type == unwanted {
				t.Fatalf("unexpected %s event", unwanted)
			}
		case <-timeout:
			return
		}
	}
}

func drainEvents(sink *captureSink) {
	for {
		select {
		case <-sink.ch:
		default:
			return
		}
	}
}

// waitUntil polls cond until it holds or the deadline passes. Used for effects
// that run on goroutines other than the caller's, like registry cleanup after
// a timer-driven end.
func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting until %s", desc)
}

func threeQuestionQuiz() models.QuizSnapshot {
	return models.QuizSnapshot{
		QuizID: "quiz-go-trivia",
		Title:  "Go Trivia Night",
		Questions: []models.Question{
			{
				QuestionID: "q1",
				Text:       "Which keyword starts a goroutine?",
				Options: []models.Option{
					{OptionID: "a", Text: "async"},
					{OptionID: "b", Text: "go", IsCorrect: true},
					{OptionID: "c", Text: "spawn"},
					{OptionID: "d", Text: "fork"},
				},
				TimeLimitSeconds: 30,
				Points:           500,
			},
			{
				QuestionID: "q2",
				Text:       "Which type is a channel of ints?",
				Options: []models.Option{
					{OptionID: "a", Text: "chan int", IsCorrect: true},
					{OptionID: "b", Text: "int chan"},
				},
				TimeLimitSeconds: 20,
				Points:           300,
			},
			{
				QuestionID: "q3",
				Text:       "What does defer do?",
				Options: []models.Option{
					{OptionID: "a", Text: "Skips a call"},
					{OptionID: "b", Text: "Retries a call"},
					{OptionID: "c", Text: "Delays a call until return", IsCorrect: true},
				},
				TimeLimitSeconds: 10,
				Points:           200,
			},
		},
	}
}

func newRegistry(fc *clockwork.FakeClock, sink events.Sink, cfg live.RegistryConfig) *live.Registry {
	return live.NewRegistry(fc, sink, memory.NewCodeAllocator(), memory.NewResultsStore(), cfg)
}

// newQuizSession builds a session with no host grace so only question
// deadlines drive the fake clock.
func newQuizSession(t *testing.T) (*clockwork.FakeClock, *captureSink, *live.Session) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	sink := newCaptureSink()
	reg := newRegistry(fc, sink, live.RegistryConfig{
		Retention: time.Hour,
		Scoring:   live.DefaultScoringConfig(),
	})
	s, err := reg.CreateSession(context.Background(), threeQuestionQuiz(), "host-7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return fc, sink, s
}

func join(t *testing.T, s *live.Session, userID, displayName string) models.Participant {
	t.Helper()
	p, err := s.Join(userID, displayName)
	if err != nil {
		t.Fatalf("Join(%s): %v", userID, err)
	}
	return p
}

func submit(t *testing.T, s *live.Session, participantID, questionID, optionID string) models.Answer {
	t.Helper()
	ans, err := s.SubmitAnswer(participantID, questionID, optionID, 0)
	if err != nil {
		t.Fatalf("SubmitAnswer(%s, %s, %s): %v", participantID, questionID, optionID, err)
	}
	return ans
}

func TestJoinAndRoster(t *testing.T) {
	_, _, s := newQuizSession(t)

	if s.ID() == uuid.Nil {
		t.Fatal("session has no id")
	}
	if len(s.Code()) != 6 {
		t.Fatalf("room code %q is not 6 characters", s.Code())
	}
	if s.HostUserID() != "host-7" {
		t.Fatalf("host user = %q, want host-7", s.HostUserID())
	}
	if s.Status() != models.RoomStatusWaiting {
		t.Fatalf("new session status = %s, want %s", s.Status(), models.RoomStatusWaiting)
	}

	alice := join(t, s, "u-alice", "Alice")
	bob := join(t, s, "u-bob", "Bob")
	if alice.ParticipantID == bob.ParticipantID {
		t.Fatal("two users share a participant id")
	}

	if _, err := s.Join("", "Nameless"); !errors.Is(err, live.ErrMalformed) {
		t.Fatalf("join without user id: %v, want ErrMalformed", err)
	}
	if _, err := s.Join("u-x", ""); !errors.Is(err, live.ErrMalformed) {
		t.Fatalf("join without display name: %v, want ErrMalformed", err)
	}

	// The same user joining again reconnects the existing participant.
	again, err := s.Join("u-alice", "Alice The Second")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ParticipantID != alice.ParticipantID {
		t.Fatalf("rejoin produced participant %s, want %s", again.ParticipantID, alice.ParticipantID)
	}
	if again.DisplayName != "Alice" {
		t.Fatalf("rejoin changed display name to %q", again.DisplayName)
	}

	roster := s.Snapshot("").Participants
	if len(roster) != 2 {
		t.Fatalf("roster has %d participants, want 2", len(roster))
	}
	if roster[0].ParticipantID != alice.ParticipantID || roster[1].ParticipantID != bob.ParticipantID {
		t.Fatalf("roster not in join order: %s, %s", roster[0].DisplayName, roster[1].DisplayName)
	}
}

func TestSetReady(t *testing.T) {
	_, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	drainEvents(sink)

	if err := s.SetReady(alice.ParticipantID, true); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	evt := nextEvent(t, sink)
	if evt.Type != events.EventTypeParticipantReady {
		t.Fatalf("got %s, want %s", evt.Type, events.EventTypeParticipantReady)
	}
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	ready := parsed.(events.ParticipantReadyPayload)
	if ready.ParticipantID != alice.ParticipantID || !ready.Ready {
		t.Fatalf("unexpected ready payload: %+v", ready)
	}

	if err := s.SetReady(alice.ParticipantID, false); err != nil {
		t.Fatalf("SetReady(false): %v", err)
	}
	if err := s.SetReady("ghost", true); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("SetReady(ghost): %v, want ErrNotFound", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.SetReady(alice.ParticipantID, true); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("SetReady after start: %v, want ErrInvalidTransition", err)
	}
}

func TestStartTransitions(t *testing.T) {
	fc, sink, s := newQuizSession(t)

	if err := s.Start(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("Start with empty room: %v, want ErrInvalidTransition", err)
	}
	if err := s.Pause(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("Pause while waiting: %v, want ErrInvalidTransition", err)
	}
	if err := s.Resume(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("Resume while waiting: %v, want ErrInvalidTransition", err)
	}
	if err := s.AdvanceQuestion(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("AdvanceQuestion while waiting: %v, want ErrInvalidTransition", err)
	}

	join(t, s, "u-alice", "Alice")
	drainEvents(sink)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if evt := nextEvent(t, sink); evt.Type != events.EventTypeQuizStarted {
		t.Fatalf("first event after start = %s, want %s", evt.Type, events.EventTypeQuizStarted)
	}
	evt := nextEvent(t, sink)
	if evt.Type != events.EventTypeQuestionStarted {
		t.Fatalf("second event after start = %s, want %s", evt.Type, events.EventTypeQuestionStarted)
	}
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	qs := parsed.(events.QuestionStartedPayload)
	if qs.Question.QuestionID != "q1" || qs.QuestionIndex != 0 || qs.TotalQuestions != 3 {
		t.Fatalf("unexpected question payload: %+v", qs)
	}
	if want := fc.Now().Add(30 * time.Second); !qs.Deadline.Equal(want) {
		t.Fatalf("deadline = %s, want %s", qs.Deadline, want)
	}
	if !qs.ServerTime.Equal(fc.Now()) {
		t.Fatalf("server time = %s, want %s", qs.ServerTime, fc.Now())
	}

	if err := s.Start(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("second Start: %v, want ErrInvalidTransition", err)
	}
	if s.Status() != models.RoomStatusActive {
		t.Fatalf("status = %s, want %s", s.Status(), models.RoomStatusActive)
	}
}

func TestSubmitAnswerScoringAndAdvance(t *testing.T) {
	fc, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	bob := join(t, s, "u-bob", "Bob")
	cara := join(t, s, "u-cara", "Cara")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.Advance(5 * time.Second)
	aliceAns := submit(t, s, alice.ParticipantID, "q1", "b")
	if !aliceAns.IsCorrect || aliceAns.PointsAwarded != 458 || aliceAns.TimeTakenMs != 5000 {
		t.Fatalf("unexpected answer for fast correct submission: %+v", aliceAns)
	}

	fc.Advance(24 * time.Second)
	bobAns := submit(t, s, bob.ParticipantID, "q1", "b")
	if !bobAns.IsCorrect || bobAns.PointsAwarded != 258 || bobAns.TimeTakenMs != 29000 {
		t.Fatalf("unexpected answer for slow correct submission: %+v", bobAns)
	}

	drainEvents(sink)
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("AdvanceQuestion: %v", err)
	}

	// The window close broadcasts statistics, then the leaderboard, then the
	// next question opens. Order is part of the contract.
	evt := nextEvent(t, sink)
	if evt.Type != events.EventTypeQuestionEnded {
		t.Fatalf("first event after advance = %s, want %s", evt.Type, events.EventTypeQuestionEnded)
	}
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	endedPayload := parsed.(events.QuestionEndedPayload)
	if endedPayload.QuestionID != "q1" || endedPayload.CorrectOptionID != "b" {
		t.Fatalf("unexpected question_ended payload: %+v", endedPayload)
	}
	stats := endedPayload.Statistics
	if stats.TotalAnswered != 2 || stats.OptionCounts["b"] != 2 || stats.OptionCounts["a"] != 0 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}

	evt = nextEvent(t, sink)
	if evt.Type != events.EventTypeLeaderboardUpdated {
		t.Fatalf("second event after advance = %s, want %s", evt.Type, events.EventTypeLeaderboardUpdated)
	}
	parsed, err = events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	lb := parsed.(events.LeaderboardUpdatedPayload)
	if len(lb.Entries) != 3 {
		t.Fatalf("leaderboard has %d entries, want 3", len(lb.Entries))
	}
	if lb.Entries[0].ParticipantID != alice.ParticipantID || lb.Entries[0].Score != 458 || lb.Entries[0].Rank != 1 {
		t.Fatalf("unexpected leader: %+v", lb.Entries[0])
	}
	if lb.Entries[1].ParticipantID != bob.ParticipantID || lb.Entries[1].Score != 258 {
		t.Fatalf("unexpected runner-up: %+v", lb.Entries[1])
	}
	if lb.Entries[2].ParticipantID != cara.ParticipantID || lb.Entries[2].Score != 0 {
		t.Fatalf("participant without answers missing from leaderboard: %+v", lb.Entries[2])
	}

	evt = nextEvent(t, sink)
	if evt.Type != events.EventTypeQuestionStarted {
		t.Fatalf("third event after advance = %s, want %s", evt.Type, events.EventTypeQuestionStarted)
	}
	parsed, err = events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	next := parsed.(events.QuestionStartedPayload)
	if next.Question.QuestionID != "q2" || next.QuestionIndex != 1 {
		t.Fatalf("unexpected next question: %+v", next)
	}
	if want := fc.Now().Add(20 * time.Second); !next.Deadline.Equal(want) {
		t.Fatalf("q2 deadline = %s, want %s", next.Deadline, want)
	}

	// The previous question is closed for good.
	if _, err := s.SubmitAnswer(cara.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrTooLate) {
		t.Fatalf("answer for a past question: %v, want ErrTooLate", err)
	}
}

func TestSubmitAnswerRejections(t *testing.T) {
	_, _, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")

	if _, err := s.SubmitAnswer(alice.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("answer before start: %v, want ErrInvalidTransition", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.SubmitAnswer("ghost", "q1", "b", 0); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("answer from unknown participant: %v, want ErrNotFound", err)
	}
	if _, err := s.SubmitAnswer(alice.ParticipantID, "q9", "b", 0); !errors.Is(err, live.ErrTooLate) {
		t.Fatalf("answer for wrong question: %v, want ErrTooLate", err)
	}
	if _, err := s.SubmitAnswer(alice.ParticipantID, "q1", "zz", 0); !errors.Is(err, live.ErrMalformed) {
		t.Fatalf("answer with unknown option: %v, want ErrMalformed", err)
	}

	wrong := submit(t, s, alice.ParticipantID, "q1", "c")
	if wrong.IsCorrect || wrong.PointsAwarded != 0 {
		t.Fatalf("wrong answer scored: %+v", wrong)
	}
	// A second submission is rejected even with a different option.
	if _, err := s.SubmitAnswer(alice.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrDuplicateAnswer) {
		t.Fatalf("second answer: %v, want ErrDuplicateAnswer", err)
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	bob := join(t, s, "u-bob", "Bob")
	if _, err := s.SubmitAnswer(bob.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("answer while paused: %v, want ErrInvalidTransition", err)
	}

	leaderboard := s.Snapshot("").Leaderboard
	for _, e := range leaderboard {
		if e.Score != 0 {
			t.Fatalf("rejected submissions changed a score: %+v", e)
		}
	}
}

func TestAnswerWindowExpiry(t *testing.T) {
	fc, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.BlockUntil(1)
	fc.Advance(31 * time.Second)

	evt := waitForEvent(t, sink, events.EventTypeQuestionEnded)
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if ended := parsed.(events.QuestionEndedPayload); ended.QuestionID != "q1" {
		t.Fatalf("expired question = %s, want q1", ended.QuestionID)
	}
	waitForEvent(t, sink, events.EventTypeLeaderboardUpdated)

	if _, err := s.SubmitAnswer(alice.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrTooLate) {
		t.Fatalf("answer after deadline: %v, want ErrTooLate", err)
	}

	// Expiry closes the window but never advances; that stays with the host.
	snap := s.Snapshot("")
	if snap.Status != models.RoomStatusActive || snap.QuestionIndex != 0 || snap.WindowOpen {
		t.Fatalf("after expiry: status=%s index=%d windowOpen=%v", snap.Status, snap.QuestionIndex, snap.WindowOpen)
	}

	drainEvents(sink)
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("AdvanceQuestion: %v", err)
	}
	// The window is already closed, so no second statistics broadcast.
	if evt := nextEvent(t, sink); evt.Type != events.EventTypeQuestionStarted {
		t.Fatalf("event after advancing past a closed window = %s, want %s", evt.Type, events.EventTypeQuestionStarted)
	}
}

func TestPauseResumePreservesRemaining(t *testing.T) {
	fc, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.Advance(10 * time.Second)
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	evt := waitForEvent(t, sink, events.EventTypeQuizPaused)
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if paused := parsed.(events.QuizPausedPayload); paused.RemainingSec != 20 {
		t.Fatalf("remaining at pause = %v, want 20", paused.RemainingSec)
	}

	// Paused time never counts against anyone, however long it lasts.
	fc.Advance(5 * time.Minute)
	expectNoEvent(t, sink, events.EventTypeQuestionEnded, 150*time.Millisecond)

	snap := s.Snapshot("")
	if snap.Status != models.RoomStatusPaused || snap.RemainingSec != 20 || snap.Deadline != nil {
		t.Fatalf("paused snapshot: status=%s remaining=%v deadline=%v", snap.Status, snap.RemainingSec, snap.Deadline)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	evt = waitForEvent(t, sink, events.EventTypeQuizResumed)
	parsed, err = events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	resumed := parsed.(events.QuizResumedPayload)
	if resumed.Deadline == nil {
		t.Fatal("resume payload has no deadline")
	}
	if want := fc.Now().Add(20 * time.Second); !resumed.Deadline.Equal(want) {
		t.Fatalf("resumed deadline = %s, want %s", resumed.Deadline, want)
	}

	// 10s used before the pause plus 15s after: the gap itself is free.
	fc.Advance(15 * time.Second)
	ans := submit(t, s, alice.ParticipantID, "q1", "b")
	if ans.TimeTakenMs != 25000 {
		t.Fatalf("time taken = %dms, want 25000", ans.TimeTakenMs)
	}
	if ans.PointsAwarded != 292 {
		t.Fatalf("points = %d, want 292", ans.PointsAwarded)
	}

	fc.BlockUntil(1)
	fc.Advance(6 * time.Second)
	waitForEvent(t, sink, events.EventTypeQuestionEnded)
}

func TestPauseBeatsWindowExpiry(t *testing.T) {
	fc, sink, s := newQuizSession(t)
	join(t, s, "u-alice", "Alice")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.Advance(29 * time.Second)
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// The clock passes the original deadline while paused; the stale expiry
	// must find the pause and do nothing.
	fc.Advance(time.Minute)
	expectNoEvent(t, sink, events.EventTypeQuestionEnded, 150*time.Millisecond)

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	fc.BlockUntil(1)
	fc.Advance(2 * time.Second)
	waitForEvent(t, sink, events.EventTypeQuestionEnded)

	snap := s.Snapshot("")
	if snap.Status != models.RoomStatusActive || snap.QuestionIndex != 0 || snap.WindowOpen {
		t.Fatalf("after resumed expiry: status=%s index=%d windowOpen=%v", snap.Status, snap.QuestionIndex, snap.WindowOpen)
	}
}

func TestLateJoinerSkipsPlayedQuestions(t *testing.T) {
	fc, _, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.Advance(3 * time.Second)
	submit(t, s, alice.ParticipantID, "q1", "b")
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("AdvanceQuestion: %v", err)
	}

	// Joining mid-quiz is allowed; the newcomer just has no answers for
	// questions already played.
	bob := join(t, s, "u-bob", "Bob")
	if _, err := s.SubmitAnswer(bob.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrTooLate) {
		t.Fatalf("late joiner answering a past question: %v, want ErrTooLate", err)
	}

	fc.Advance(2 * time.Second)
	bobAns := submit(t, s, bob.ParticipantID, "q2", "a")
	if !bobAns.IsCorrect || bobAns.PointsAwarded != 285 {
		t.Fatalf("late joiner answer: %+v", bobAns)
	}

	lb := s.Snapshot("").Leaderboard
	if len(lb) != 2 {
		t.Fatalf("leaderboard has %d entries, want 2", len(lb))
	}
	if lb[0].ParticipantID != alice.ParticipantID || lb[0].Score != 475 {
		t.Fatalf("unexpected leader: %+v", lb[0])
	}
	if lb[1].ParticipantID != bob.ParticipantID || lb[1].Score != 285 {
		t.Fatalf("unexpected second place: %+v", lb[1])
	}
}

func TestAdvanceThroughFinalQuestion(t *testing.T) {
	_, sink, s := newQuizSession(t)
	join(t, s, "u-alice", "Alice")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance to q2: %v", err)
	}
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance to q3: %v", err)
	}

	snap := s.Snapshot("")
	if snap.QuestionIndex != 2 || !snap.WindowOpen {
		t.Fatalf("at final question: index=%d windowOpen=%v", snap.QuestionIndex, snap.WindowOpen)
	}

	// Advancing at the last question only closes its window.
	drainEvents(sink)
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("closing final window: %v", err)
	}
	if evt := nextEvent(t, sink); evt.Type != events.EventTypeQuestionEnded {
		t.Fatalf("got %s, want %s", evt.Type, events.EventTypeQuestionEnded)
	}
	if evt := nextEvent(t, sink); evt.Type != events.EventTypeLeaderboardUpdated {
		t.Fatalf("got %s, want %s", evt.Type, events.EventTypeLeaderboardUpdated)
	}
	expectNoEvent(t, sink, events.EventTypeQuestionStarted, 100*time.Millisecond)

	snap = s.Snapshot("")
	if snap.Status != models.RoomStatusActive || snap.QuestionIndex != 2 || snap.WindowOpen {
		t.Fatalf("after final close: status=%s index=%d windowOpen=%v", snap.Status, snap.QuestionIndex, snap.WindowOpen)
	}

	if err := s.AdvanceQuestion(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("advance past the end: %v, want ErrInvalidTransition", err)
	}

	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	final, err := s.FinalResults()
	if err != nil {
		t.Fatalf("FinalResults: %v", err)
	}
	if len(final.Statistics) != 3 {
		t.Fatalf("final statistics cover %d questions, want 3", len(final.Statistics))
	}
}

func TestRemoveParticipant(t *testing.T) {
	fc, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	bob := join(t, s, "u-bob", "Bob")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fc.Advance(5 * time.Second)
	submit(t, s, alice.ParticipantID, "q1", "b")
	submit(t, s, bob.ParticipantID, "q1", "b")

	drainEvents(sink)
	removed, err := s.RemoveParticipant(bob.ParticipantID)
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if !removed.Removed || removed.Connected {
		t.Fatalf("removed participant state: %+v", removed)
	}

	evt := nextEvent(t, sink)
	if evt.Type != events.EventTypeParticipantLeft {
		t.Fatalf("got %s, want %s", evt.Type, events.EventTypeParticipantLeft)
	}
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	left := parsed.(events.ParticipantLeftPayload)
	if left.ParticipantID != bob.ParticipantID || left.Reason != live.LeaveReasonRemoved {
		t.Fatalf("unexpected participant_left payload: %+v", left)
	}

	snap := s.Snapshot("")
	if len(snap.Participants) != 1 || snap.Participants[0].ParticipantID != alice.ParticipantID {
		t.Fatalf("removed participant still on roster: %+v", snap.Participants)
	}
	if len(snap.Leaderboard) != 1 {
		t.Fatalf("removed participant still on leaderboard: %+v", snap.Leaderboard)
	}

	if _, err := s.SubmitAnswer(bob.ParticipantID, "q1", "a", 0); !errors.Is(err, live.ErrUnauthorized) {
		t.Fatalf("removed participant answering: %v, want ErrUnauthorized", err)
	}
	if _, err := s.Join("u-bob", "Bob"); !errors.Is(err, live.ErrUnauthorized) {
		t.Fatalf("removed participant rejoining: %v, want ErrUnauthorized", err)
	}
	if _, err := s.RemoveParticipant(bob.ParticipantID); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("removing twice: %v, want ErrNotFound", err)
	}
	if _, err := s.RemoveParticipant("ghost"); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("removing unknown: %v, want ErrNotFound", err)
	}

	// The removed participant's answers stay in the statistics.
	drainEvents(sink)
	if err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("AdvanceQuestion: %v", err)
	}
	evt = waitForEvent(t, sink, events.EventTypeQuestionEnded)
	parsed, err = events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if stats := parsed.(events.QuestionEndedPayload).Statistics; stats.TotalAnswered != 2 {
		t.Fatalf("statistics dropped a removed participant's answer: %+v", stats)
	}

	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	final, err := s.FinalResults()
	if err != nil {
		t.Fatalf("FinalResults: %v", err)
	}
	if len(final.Entries) != 1 || final.Entries[0].ParticipantID != alice.ParticipantID {
		t.Fatalf("final entries include a removed participant: %+v", final.Entries)
	}
	if final.Statistics[0].TotalAnswered != 2 {
		t.Fatalf("final statistics dropped an answer: %+v", final.Statistics[0])
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	_, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	drainEvents(sink)

	if err := s.Disconnect(alice.ParticipantID, live.LeaveReasonDisconnected); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	evt := nextEvent(t, sink)
	if evt.Type != events.EventTypeParticipantLeft {
		t.Fatalf("got %s, want %s", evt.Type, events.EventTypeParticipantLeft)
	}
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if left := parsed.(events.ParticipantLeftPayload); left.Reason != live.LeaveReasonDisconnected {
		t.Fatalf("reason = %q, want %q", left.Reason, live.LeaveReasonDisconnected)
	}
	if roster := s.Snapshot("").Participants; roster[0].Connected {
		t.Fatal("participant still marked connected")
	}

	// A second disconnect is a silent no-op.
	if err := s.Disconnect(alice.ParticipantID, live.LeaveReasonDisconnected); err != nil {
		t.Fatalf("repeat Disconnect: %v", err)
	}
	expectNoEvent(t, sink, events.EventTypeParticipantLeft, 100*time.Millisecond)

	if err := s.Disconnect("ghost", live.LeaveReasonDisconnected); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("Disconnect(ghost): %v, want ErrNotFound", err)
	}

	rejoined, err := s.Join("u-alice", "Alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rejoined.ParticipantID != alice.ParticipantID {
		t.Fatalf("reconnect produced participant %s, want %s", rejoined.ParticipantID, alice.ParticipantID)
	}
	evt = nextEvent(t, sink)
	parsed, err = events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if joined := parsed.(events.ParticipantJoinedPayload); !joined.Reconnected {
		t.Fatal("rejoin not flagged as reconnection")
	}
	if roster := s.Snapshot("").Participants; !roster[0].Connected {
		t.Fatal("participant still marked disconnected after rejoin")
	}
}

func TestEndCachesFinalResults(t *testing.T) {
	fc, sink, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	bob := join(t, s, "u-bob", "Bob")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fc.Advance(5 * time.Second)
	submit(t, s, alice.ParticipantID, "q1", "b")

	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	evt := waitForEvent(t, sink, events.EventTypeQuizEnded)
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	ended := parsed.(events.QuizEndedPayload)
	if ended.Reason != live.EndReasonHost {
		t.Fatalf("end reason = %q, want %q", ended.Reason, live.EndReasonHost)
	}
	if len(ended.Results.Entries) != 2 || ended.Results.Entries[0].Score != 458 {
		t.Fatalf("unexpected final entries: %+v", ended.Results.Entries)
	}

	final, err := s.FinalResults()
	if err != nil {
		t.Fatalf("FinalResults: %v", err)
	}
	if !final.EndedAt.Equal(fc.Now()) {
		t.Fatalf("ended at %s, want %s", final.EndedAt, fc.Now())
	}

	if s.Status() != models.RoomStatusEnded {
		t.Fatalf("status = %s, want %s", s.Status(), models.RoomStatusEnded)
	}
	if _, err := s.Join("u-cara", "Cara"); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("Join after end: %v, want ErrNotFound", err)
	}
	if err := s.SetReady(alice.ParticipantID, true); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("SetReady after end: %v, want ErrInvalidTransition", err)
	}
	if err := s.Start(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("Start after end: %v, want ErrInvalidTransition", err)
	}
	if _, err := s.SubmitAnswer(bob.ParticipantID, "q1", "b", 0); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("SubmitAnswer after end: %v, want ErrInvalidTransition", err)
	}
	if err := s.AdvanceQuestion(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("AdvanceQuestion after end: %v, want ErrInvalidTransition", err)
	}
	if err := s.Pause(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("Pause after end: %v, want ErrInvalidTransition", err)
	}
	if err := s.Resume(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("Resume after end: %v, want ErrInvalidTransition", err)
	}
	if _, err := s.RemoveParticipant(alice.ParticipantID); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("RemoveParticipant after end: %v, want ErrInvalidTransition", err)
	}
	if err := s.End(); !errors.Is(err, live.ErrInvalidTransition) {
		t.Fatalf("second End: %v, want ErrInvalidTransition", err)
	}

	again, err := s.FinalResults()
	if err != nil {
		t.Fatalf("FinalResults after rejected ops: %v", err)
	}
	if !again.EndedAt.Equal(final.EndedAt) || len(again.Entries) != len(final.Entries) {
		t.Fatal("final results changed after the session ended")
	}

	snap := s.Snapshot("")
	if snap.Status != models.RoomStatusEnded || len(snap.Leaderboard) != len(final.Entries) {
		t.Fatalf("ended snapshot: %+v", snap)
	}
}

func TestSnapshotViewerState(t *testing.T) {
	fc, _, s := newQuizSession(t)
	alice := join(t, s, "u-alice", "Alice")
	bob := join(t, s, "u-bob", "Bob")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fc.Advance(5 * time.Second)
	submit(t, s, alice.ParticipantID, "q1", "b")

	snap := s.Snapshot(alice.ParticipantID)
	if snap.YourParticipantID != alice.ParticipantID {
		t.Fatalf("viewer id = %q", snap.YourParticipantID)
	}
	if snap.YourAnswer == nil || snap.YourAnswer.SelectedOptionID != "b" || !snap.YourAnswer.Received {
		t.Fatalf("viewer answer receipt: %+v", snap.YourAnswer)
	}
	if snap.CurrentQuestion == nil || snap.CurrentQuestion.QuestionID != "q1" {
		t.Fatalf("current question: %+v", snap.CurrentQuestion)
	}
	if snap.Deadline == nil || !snap.Deadline.Equal(fc.Now().Add(25*time.Second)) {
		t.Fatalf("snapshot deadline: %v", snap.Deadline)
	}
	if snap.RemainingSec != 25 {
		t.Fatalf("remaining = %v, want 25", snap.RemainingSec)
	}
	if !snap.ServerTime.Equal(fc.Now()) {
		t.Fatalf("server time = %s, want %s", snap.ServerTime, fc.Now())
	}

	// A viewer who has not answered gets no receipt.
	if other := s.Snapshot(bob.ParticipantID); other.YourAnswer != nil {
		t.Fatalf("unanswered viewer has a receipt: %+v", other.YourAnswer)
	}
}

func TestHostGraceAutoEnd(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	sink := newCaptureSink()
	reg := newRegistry(fc, sink, live.RegistryConfig{
		HostGrace: 90 * time.Second,
		Scoring:   live.DefaultScoringConfig(),
	})
	s, err := reg.CreateSession(context.Background(), threeQuestionQuiz(), "host-7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	join(t, s, "u-alice", "Alice")
	code := s.Code()

	// The host never binds a connection, so the grace countdown that started
	// at creation runs out.
	fc.BlockUntil(1)
	fc.Advance(2 * time.Minute)

	evt := waitForEvent(t, sink, events.EventTypeQuizEnded)
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if ended := parsed.(events.QuizEndedPayload); ended.Reason != live.EndReasonHostAbsent {
		t.Fatalf("end reason = %q, want %q", ended.Reason, live.EndReasonHostAbsent)
	}

	// Retention is zero, so the session is dropped as part of ending.
	waitUntil(t, "session removed from registry", func() bool { return reg.SessionCount() == 0 })
	if _, err := reg.LookupByCode(code); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("LookupByCode after auto-end: %v, want ErrNotFound", err)
	}
	if _, err := reg.LookupByID(s.ID()); !errors.Is(err, live.ErrNotFound) {
		t.Fatalf("LookupByID after auto-end: %v, want ErrNotFound", err)
	}
}

func TestHostBindSupersedesAndCancelsGrace(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	sink := newCaptureSink()
	reg := newRegistry(fc, sink, live.RegistryConfig{
		HostGrace: 90 * time.Second,
		Retention: time.Hour,
		Scoring:   live.DefaultScoringConfig(),
	})
	s, err := reg.CreateSession(context.Background(), threeQuestionQuiz(), "host-7")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	join(t, s, "u-alice", "Alice")

	if _, err := s.BindHost("conn-1", "u-alice"); !errors.Is(err, live.ErrUnauthorized) {
		t.Fatalf("BindHost by non-host: %v, want ErrUnauthorized", err)
	}
	prev, err := s.BindHost("conn-1", "host-7")
	if err != nil || prev != "" {
		t.Fatalf("first BindHost: prev=%q err=%v", prev, err)
	}

	// A fresh host connection supersedes the old one.
	prev, err = s.BindHost("conn-2", "host-7")
	if err != nil || prev != "conn-1" {
		t.Fatalf("second BindHost: prev=%q err=%v", prev, err)
	}
	if s.IsHostConn("conn-1") {
		t.Fatal("superseded connection still counts as host")
	}
	if !s.IsHostConn("conn-2") {
		t.Fatal("new connection not recognized as host")
	}

	// A stale unbind from the superseded connection is ignored.
	s.UnbindHost("conn-1")
	if !s.IsHostConn("conn-2") {
		t.Fatal("stale unbind displaced the live host connection")
	}

	// With a host bound there is no grace countdown.
	fc.Advance(10 * time.Minute)
	expectNoEvent(t, sink, events.EventTypeQuizEnded, 150*time.Millisecond)
	if s.Status() != models.RoomStatusWaiting {
		t.Fatalf("status = %s, want %s", s.Status(), models.RoomStatusWaiting)
	}

	s.UnbindHost("conn-2")
	fc.BlockUntil(1)
	fc.Advance(2 * time.Minute)

	evt := waitForEvent(t, sink, events.EventTypeQuizEnded)
	parsed, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if ended := parsed.(events.QuizEndedPayload); ended.Reason != live.EndReasonHostAbsent {
		t.Fatalf("end reason = %q, want %q", ended.Reason, live.EndReasonHostAbsent)
	}
}
