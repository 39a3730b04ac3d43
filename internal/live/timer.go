package live

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// runTimers is the session's single timer goroutine. It sleeps until the
// earliest pending deadline (question window close, host-absence grace) and
// fires the expiry through the same mutex-serialized path client operations
// use. Operations that move a deadline signal the wake channel so the loop
// re-arms. Stopped by End/Remove via context cancellation.
func (s *Session) runTimers(ctx context.Context) {
	timer := s.clock.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		// Drain a wake that arrived while handling the previous fire; the
		// deadline is re-read below either way.
		select {
		case <-s.wake:
		default:
		}

		if next, ok := s.nextWake(); ok {
			wait := next.Sub(s.clock.Now())
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("room_id", s.id.String()).Msg("session timer stopped")
			return
		case <-s.wake:
			continue
		case <-timer.Chan():
			s.handleExpiry()
		}
	}
}

// nextWake returns the earliest deadline the timer must fire at.
func (s *Session) nextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.RoomStatusEnded {
		return time.Time{}, false
	}
	var next time.Time
	if s.status == models.RoomStatusActive && s.windowOpen {
		next = s.deadline
	}
	if s.hostConnID == "" && !s.hostDeadline.IsZero() {
		if next.IsZero() || s.hostDeadline.Before(next) {
			next = s.hostDeadline
		}
	}
	return next, !next.IsZero()
}

// handleExpiry re-checks every deadline under the session lock. A fire that
// lost a race (pause landed first, window already closed by the host, session
// ended) finds its condition gone and does nothing.
func (s *Session) handleExpiry() {
	now := s.clock.Now()

	s.mu.Lock()
	if s.status == models.RoomStatusEnded {
		s.mu.Unlock()
		return
	}
	if s.hostConnID == "" && !s.hostDeadline.IsZero() && !now.Before(s.hostDeadline) {
		s.mu.Unlock()
		// endWith re-checks status; a concurrent host End wins harmlessly.
		if err := s.endWith(EndReasonHostAbsent); err == nil {
			log.Warn().
				Str("room_id", s.id.String()).
				Dur("grace", s.hostGrace).
				Msg("host never returned, session auto-ended")
		}
		return
	}
	if s.status == models.RoomStatusActive && s.windowOpen && !now.Before(s.deadline) {
		s.closeWindowLocked()
	}
	s.mu.Unlock()
}

// signalTimers nudges the timer goroutine to re-read deadlines. Non-blocking;
// the channel holds one pending wake.
func (s *Session) signalTimers() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
