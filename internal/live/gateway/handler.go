package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
)

// SessionResolver finds live sessions for joining connections.
type SessionResolver interface {
	LookupByCode(code string) (*live.Session, error)
}

// IdentityProvider authenticates an upgrade request and yields the
// connection's identity.
type IdentityProvider interface {
	Identify(r *http.Request) (userID, displayName string, err error)
}

// QueryIdentity reads identity from query parameters. Suitable for
// development; production deployments plug in a token-backed provider.
type QueryIdentity struct{}

func (QueryIdentity) Identify(r *http.Request) (string, string, error) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return "", "", errors.New("user_id is required")
	}
	displayName := r.URL.Query().Get("display_name")
	if displayName == "" {
		displayName = userID
	}
	return userID, displayName, nil
}

// Gateway drives the websocket protocol: it enforces the join_room handshake,
// authorizes host-only messages and validates structure before the session
// sees an operation.
type Gateway struct {
	sessions SessionResolver
	identity IdentityProvider
	manager  *ConnectionManager
}

// NewGateway creates the gateway and attaches it to the manager as its
// message handler. The manager is built first so it can serve as the
// registry's event sink before the gateway exists.
func NewGateway(sessions SessionResolver, identity IdentityProvider, manager *ConnectionManager) *Gateway {
	g := &Gateway{
		sessions: sessions,
		identity: identity,
		manager:  manager,
	}
	manager.handler = g
	return g
}

// Manager exposes the connection manager for event sink wiring and startup.
func (g *Gateway) Manager() *ConnectionManager { return g.manager }

// HandleLiveConnection handles websocket upgrade requests on /ws/live.
func (g *Gateway) HandleLiveConnection(w http.ResponseWriter, r *http.Request) {
	userID, displayName, err := g.identity.Identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := g.manager.UpgradeConnection(w, r, userID, displayName); err != nil {
		// The upgrader has already replied to the client.
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections.
func (g *Gateway) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.manager.ConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/live", g.HandleLiveConnection)
	mux.HandleFunc("/ws/stats", g.HandleConnectionStats)
}

// HandleMessage processes one inbound client message.
func (g *Gateway) HandleMessage(conn *Connection, data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		g.sendError(conn, CodeMalformed, err.Error())
		return
	}

	if msg.Type == ClientMessageJoinRoom {
		if conn.Joined() {
			g.sendError(conn, CodeMalformed, "connection already joined a room")
			return
		}
		g.handleJoin(conn, msg.Payload)
		return
	}
	if !conn.Joined() {
		g.sendError(conn, CodeMalformed, "join_room must be the first message")
		return
	}

	switch msg.Type {
	case ClientMessageSetReady:
		g.handleSetReady(conn, msg.Payload)
	case ClientMessageSubmitAnswer:
		g.handleSubmitAnswer(conn, msg.Payload)
	case ClientMessageHostStart:
		g.handleHostOp(conn, func() error { return conn.session.Start() })
	case ClientMessageHostNextQuestion:
		g.handleHostOp(conn, func() error { return conn.session.AdvanceQuestion() })
	case ClientMessageHostPause:
		g.handleHostOp(conn, func() error { return conn.session.Pause() })
	case ClientMessageHostResume:
		g.handleHostOp(conn, func() error { return conn.session.Resume() })
	case ClientMessageHostEnd:
		g.handleHostOp(conn, func() error { return conn.session.End() })
	case ClientMessageHostRemove:
		g.handleRemoveParticipant(conn, msg.Payload)
	case ClientMessageLeaveRoom:
		g.handleLeave(conn)
	}
}

// HandleDisconnect runs when a connection's read pump exits for any reason.
func (g *Gateway) HandleDisconnect(conn *Connection) {
	if !conn.Joined() {
		return
	}
	if conn.isHost {
		conn.session.UnbindHost(conn.ID)
		return
	}
	if err := conn.session.Disconnect(conn.participantID, live.LeaveReasonDisconnected); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("disconnect cleanup failed")
	}
}

// handleJoin runs the join_room handshake: resolve the room code, bind the
// connection as host or participant, and reply with the full snapshot.
func (g *Gateway) handleJoin(conn *Connection, raw json.RawMessage) {
	var payload JoinRoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		g.sendError(conn, CodeMalformed, "invalid join_room payload")
		return
	}
	if payload.RoomCode == "" {
		g.sendError(conn, CodeMalformed, "room_code is required")
		return
	}

	session, err := g.sessions.LookupByCode(payload.RoomCode)
	if err != nil {
		g.sendError(conn, wireCode(err), err.Error())
		return
	}

	if payload.AsHost {
		prev, err := session.BindHost(conn.ID, conn.UserID)
		if err != nil {
			g.sendError(conn, wireCode(err), err.Error())
			return
		}
		if prev != "" {
			// A newer host connection supersedes the previous one.
			g.manager.CloseConnection(prev)
		}
		g.manager.BindToRoom(conn, session, "", true)
		g.sendEvent(conn, session.ID(), events.EventTypeRoomJoined, events.RoomJoinedPayload{
			Snapshot: session.Snapshot(""),
		})
		log.Info().
			Str("connection_id", conn.ID).
			Str("room_id", session.ID().String()).
			Msg("host joined room")
		return
	}

	participant, err := session.Join(conn.UserID, conn.DisplayName)
	if err != nil {
		g.sendError(conn, wireCode(err), err.Error())
		return
	}
	g.manager.BindToRoom(conn, session, participant.ParticipantID, false)
	g.sendEvent(conn, session.ID(), events.EventTypeRoomJoined, events.RoomJoinedPayload{
		Snapshot: session.Snapshot(participant.ParticipantID),
	})
}

func (g *Gateway) handleSetReady(conn *Connection, raw json.RawMessage) {
	if conn.participantID == "" {
		g.sendError(conn, CodeUnauthorized, "only participants can set ready")
		return
	}
	var payload SetReadyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		g.sendError(conn, CodeMalformed, "invalid set_ready payload")
		return
	}
	if err := conn.session.SetReady(conn.participantID, payload.Ready); err != nil {
		g.sendError(conn, wireCode(err), err.Error())
	}
}

func (g *Gateway) handleSubmitAnswer(conn *Connection, raw json.RawMessage) {
	if conn.participantID == "" {
		g.sendError(conn, CodeUnauthorized, "only participants can submit answers")
		return
	}
	var payload SubmitAnswerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		g.sendError(conn, CodeMalformed, "invalid submit_answer payload")
		return
	}
	if payload.QuestionID == "" || payload.OptionID == "" {
		g.sendError(conn, CodeMalformed, "question_id and option_id are required")
		return
	}

	ans, err := conn.session.SubmitAnswer(conn.participantID, payload.QuestionID, payload.OptionID, payload.ClientElapsedMs)
	if err != nil {
		g.sendError(conn, wireCode(err), err.Error())
		return
	}
	g.sendEvent(conn, conn.roomID, events.EventTypeAnswerAcknowledged, events.AnswerAcknowledgedPayload{
		Received:   true,
		QuestionID: ans.QuestionID,
	})
}

// handleHostOp authorizes and runs a host-only session operation. Errors go
// back to the host connection only.
func (g *Gateway) handleHostOp(conn *Connection, op func() error) {
	if !conn.session.IsHostConn(conn.ID) {
		g.sendError(conn, CodeUnauthorized, "host privileges required")
		return
	}
	if err := op(); err != nil {
		g.sendError(conn, wireCode(err), err.Error())
	}
}

func (g *Gateway) handleRemoveParticipant(conn *Connection, raw json.RawMessage) {
	if !conn.session.IsHostConn(conn.ID) {
		g.sendError(conn, CodeUnauthorized, "host privileges required")
		return
	}
	var payload RemoveParticipantPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		g.sendError(conn, CodeMalformed, "invalid host_remove_participant payload")
		return
	}
	if payload.ParticipantID == "" {
		g.sendError(conn, CodeMalformed, "participant_id is required")
		return
	}

	removed, err := conn.session.RemoveParticipant(payload.ParticipantID)
	if err != nil {
		g.sendError(conn, wireCode(err), err.Error())
		return
	}

	// Tell the removed participant before their connections go away. The
	// notice flushes ahead of the close frame.
	evt, err := events.New(conn.roomID, events.EventTypeRemovedFromRoom, time.Now(), events.RemovedFromRoomPayload{
		ParticipantID: removed.ParticipantID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build removed_from_room event")
	} else {
		g.manager.NotifyParticipant(conn.roomID, removed.ParticipantID, evt)
	}
	g.manager.CloseParticipant(conn.roomID, removed.ParticipantID)
}

// handleLeave detaches the connection from its room at the client's request.
func (g *Gateway) handleLeave(conn *Connection) {
	if conn.isHost {
		conn.session.UnbindHost(conn.ID)
	} else {
		if err := conn.session.Disconnect(conn.participantID, live.LeaveReasonLeft); err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", conn.ID).
				Msg("leave cleanup failed")
		}
	}
	g.manager.CloseConnection(conn.ID)
}

func (g *Gateway) sendEvent(conn *Connection, roomID uuid.UUID, eventType events.EventType, payload any) {
	evt, err := events.New(roomID, eventType, time.Now(), payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_type", string(eventType)).
			Msg("failed to build event")
		return
	}
	g.manager.SendEvent(conn, evt)
}

func (g *Gateway) sendError(conn *Connection, code, message string) {
	g.sendEvent(conn, conn.roomID, events.EventTypeError, events.ErrorPayload{
		Code:    code,
		Message: message,
	})
}
