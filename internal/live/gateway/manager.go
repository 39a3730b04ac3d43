package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
)

// MessageHandler processes inbound client messages and connection teardown.
// The gateway implements it; the manager only moves bytes.
type MessageHandler interface {
	HandleMessage(conn *Connection, data []byte)
	HandleDisconnect(conn *Connection)
}

// ConnectionManager owns every websocket connection and fans room events out
// to them. It implements events.Sink, so it can be wired directly as a
// session event sink.
type ConnectionManager struct {
	// Connection pools organized by room ID, plus an index by connection ID
	// for targeted sends and supersession.
	roomConnections map[uuid.UUID]map[*Connection]bool
	connsByID       map[string]*Connection
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	broadcastCh chan broadcastMessage
}

// Connection represents one websocket client. The room binding fields are
// written under the manager's lock when the join handshake completes and are
// only otherwise touched by the connection's own read goroutine.
type Connection struct {
	ID          string
	UserID      string
	DisplayName string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	roomID        uuid.UUID
	participantID string
	isHost        bool
	session       *live.Session
}

// Joined reports whether the join handshake has completed.
func (c *Connection) Joined() bool { return c.session != nil }

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// broadcastMessage is one event queued for fan-out to a room.
type broadcastMessage struct {
	roomID uuid.UUID
	event  events.Event
}

// NewConnectionManager creates a websocket connection manager. The message
// handler is attached by the gateway that owns the manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[uuid.UUID]map[*Connection]bool),
		connsByID:       make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000), // Buffer for high throughput
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Publish implements events.Sink: every event a session emits is queued for
// fan-out to the room's connections. Never blocks.
func (cm *ConnectionManager) Publish(evt events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomID: evt.RoomID, event: evt}:
	default:
		log.Warn().
			Str("room_id", evt.RoomID.String()).
			Str("event_type", string(evt.Type)).
			Msg("broadcast channel full, dropping event")
	}
}

// NotifyParticipant writes an event straight to one participant's
// connections, skipping the broadcast queue. Paired with CloseParticipant it
// guarantees the event is buffered before the close frame.
func (cm *ConnectionManager) NotifyParticipant(roomID uuid.UUID, participantID string, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to marshal participant event")
		return
	}

	cm.mu.RLock()
	for conn := range cm.roomConnections[roomID] {
		if conn.participantID != participantID {
			continue
		}
		select {
		case conn.Send <- data:
		default:
		}
	}
	cm.mu.RUnlock()
}

// SendEvent writes an event to a single connection, bypassing the broadcast
// queue. Used for origin-only replies like room_joined, answer_acknowledged
// and error.
func (cm *ConnectionManager) SendEvent(conn *Connection, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to marshal event")
		return
	}

	// Send channels close only under the write lock, so a send under the read
	// lock to a still-registered connection cannot hit a closed channel.
	cm.mu.RLock()
	_, alive := cm.connsByID[conn.ID]
	full := false
	if alive {
		select {
		case conn.Send <- data:
		default:
			full = true
		}
	}
	cm.mu.RUnlock()

	if full {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket and starts the
// connection's pumps. The connection belongs to no room until the join
// handshake binds it.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, displayName string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		DisplayName: displayName,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.connsByID[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("websocket connection established")
	return nil
}

// BindToRoom attaches a joined connection to its room's broadcast pool.
func (cm *ConnectionManager) BindToRoom(conn *Connection, session *live.Session, participantID string, asHost bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn.session = session
	conn.roomID = session.ID()
	conn.participantID = participantID
	conn.isHost = asHost

	if cm.roomConnections[conn.roomID] == nil {
		cm.roomConnections[conn.roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.roomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.roomID.String()).
		Bool("as_host", asHost).
		Int("room_connections", len(cm.roomConnections[conn.roomID])).
		Msg("connection bound to room")
}

// CloseConnection tears a connection down by ID, flushing buffered messages
// first. Used when a new host connection supersedes an old one.
func (cm *ConnectionManager) CloseConnection(connID string) {
	cm.mu.RLock()
	conn, ok := cm.connsByID[connID]
	cm.mu.RUnlock()
	if ok {
		cm.unregisterConnection(conn)
	}
}

// CloseParticipant tears down every connection a participant holds in a room.
// Buffered messages, such as a removed_from_room notice, flush before the
// socket closes.
func (cm *ConnectionManager) CloseParticipant(roomID uuid.UUID, participantID string) {
	cm.mu.RLock()
	var targets []*Connection
	for conn := range cm.roomConnections[roomID] {
		if conn.participantID == participantID {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.unregisterConnection(conn)
	}
}

// unregisterConnection removes a connection from the manager and closes its
// send channel. The write pump drains what is buffered, sends a close frame
// and closes the socket. Idempotent.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connsByID[conn.ID]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connsByID, conn.ID)
	if connections, exists := cm.roomConnections[conn.roomID]; exists {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.roomConnections, conn.roomID)
		}
	}
	close(conn.Send)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// handleBroadcast fans one event out to its room's connections.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	// Marshal the event once for every connection.
	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Sends stay under the read lock: send channels close only under the
	// write lock, so a connection found in the pool here cannot be closed
	// mid-send. The sends are non-blocking, so the lock is held briefly.
	cm.mu.RLock()
	sent := 0
	var dead []*Connection
	for conn := range cm.roomConnections[message.roomID] {
		select {
		case conn.Send <- data:
			sent++
		default:
			dead = append(dead, conn)
		}
	}
	cm.mu.RUnlock()

	// Slow or dead connections are dropped rather than allowed to stall the
	// rest of the room.
	for _, conn := range dead {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
	}

	log.Debug().
		Str("event_type", string(message.event.Type)).
		Str("room_id", message.roomID.String()).
		Int("connections", sent).
		Msg("event broadcasted")
}

// ConnectionStats reports active connection counts.
func (cm *ConnectionManager) ConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	roomCounts := make(map[string]int)
	for roomID, connections := range cm.roomConnections {
		roomCounts[roomID.String()] = len(connections)
		total += len(connections)
	}

	return map[string]interface{}{
		"total_connections": total,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the websocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed after draining; say goodbye properly.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the websocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.handler.HandleDisconnect(c)
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close")
			}
			break
		}
		c.Manager.handler.HandleMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
