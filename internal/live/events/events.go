package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope every room event travels in, over the websocket and
// the relay alike.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	RoomID    uuid.UUID       `json:"room_id"`   // Room UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType represents the type of room event
type EventType string

const (
	EventTypeRoomJoined         EventType = "room_joined"
	EventTypeParticipantJoined  EventType = "participant_joined"
	EventTypeParticipantLeft    EventType = "participant_left"
	EventTypeParticipantReady   EventType = "participant_ready_changed"
	EventTypeQuizStarted        EventType = "quiz_started"
	EventTypeQuestionStarted    EventType = "question_started"
	EventTypeAnswerAcknowledged EventType = "answer_acknowledged"
	EventTypeQuestionEnded      EventType = "question_ended"
	EventTypeLeaderboardUpdated EventType = "leaderboard_updated"
	EventTypeQuizPaused         EventType = "quiz_paused"
	EventTypeQuizResumed        EventType = "quiz_resumed"
	EventTypeQuizEnded          EventType = "quiz_ended"
	EventTypeRemovedFromRoom    EventType = "removed_from_room"
	EventTypeError              EventType = "error"
)

// New builds an event envelope around a marshalled payload. The timestamp
// comes from the caller so the session clock stays the single time authority.
func New(roomID uuid.UUID, eventType EventType, at time.Time, payload any) (Event, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		data = b
	}
	return Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// Sink receives every event a session emits, in emission order. Publish must
// not block: implementations enqueue onto bounded buffers and drop with a log
// when saturated.
type Sink interface {
	Publish(evt Event)
}

// Fanout duplicates events to several sinks in order.
type Fanout []Sink

func (f Fanout) Publish(evt Event) {
	for _, s := range f {
		s.Publish(evt)
	}
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(evt Event) (interface{}, error) {
	switch evt.Type {
	case EventTypeRoomJoined:
		var payload RoomJoinedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantJoined:
		var payload ParticipantJoinedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantLeft:
		var payload ParticipantLeftPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeParticipantReady:
		var payload ParticipantReadyPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuizStarted:
		var payload QuizStartedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuestionStarted:
		var payload QuestionStartedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAnswerAcknowledged:
		var payload AnswerAcknowledgedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuestionEnded:
		var payload QuestionEndedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeLeaderboardUpdated:
		var payload LeaderboardUpdatedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuizPaused:
		var payload QuizPausedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuizResumed:
		var payload QuizResumedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeQuizEnded:
		var payload QuizEndedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRemovedFromRoom:
		var payload RemovedFromRoomPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
