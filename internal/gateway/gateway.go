package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ardrey/translate-hub/internal/metrics"
	"github.com/ardrey/translate-hub/internal/room"
	"github.com/ardrey/translate-hub/internal/session"
	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// Config carries the gateway's connection policy.
type Config struct {
	MaxConnections    int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RoomOpsEnabled    bool
}

// Gateway owns the live WebSocket connections: admission, session and room
// assignment on connect, inbound frame dispatch, and total cleanup on
// disconnect. It keeps its own client map separate from the room manager so
// admission counting and duplicate-session eviction work even for sessions
// that have left their room.
type Gateway struct {
	cfg      Config
	sessions *session.Registry
	rooms    *room.Manager
	metrics  *metrics.Metrics
	log      *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

func New(cfg Config, sessions *session.Registry, rooms *room.Manager, m *metrics.Metrics, log *zap.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
		metrics:  m,
		log:      log.With(zap.String("module", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// PersonalRoom names the single-occupant room every session gets on connect.
func PersonalRoom(sessionID string) string {
	return "room_" + sessionID
}

// HandleWS serves the personal-room endpoint. The session id comes from the
// client_id query parameter when the client wants to resume an identity, or is
// generated fresh.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("client_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	g.serve(w, r, sessionID, PersonalRoom(sessionID))
}

// HandleWSRoom serves the explicit-room endpoint: the client names the room it
// wants to occupy.
func (g *Gateway) HandleWSRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("client_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	g.serve(w, r, sessionID, roomID)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, sessionID, roomID string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	log := g.log.With(zap.String("session_id", sessionID))
	c := newClient(sessionID, conn, log)

	// Admission and duplicate eviction are decided atomically: at most one
	// live client per session id, and never more than the ceiling.
	g.mu.Lock()
	evicted := g.clients[sessionID]
	if evicted == nil && len(g.clients) >= g.cfg.MaxConnections {
		g.mu.Unlock()
		g.metrics.RefusedHandshakes.Inc()
		log.Warn("connection refused, admission ceiling reached",
			zap.Int("max_connections", g.cfg.MaxConnections))
		c.closeWithCode(websocket.ClosePolicyViolation, "connection limit reached")
		return
	}
	g.clients[sessionID] = c
	if evicted == nil {
		// The gauge tracks client map entries; a superseding connection
		// replaces one rather than adding one.
		g.metrics.ActiveConnections.Inc()
	}
	g.mu.Unlock()

	if evicted != nil {
		log.Info("superseding previous connection for session")
		evicted.closeWithCode(websocket.ClosePolicyViolation, "superseded by new connection")
	}

	if !g.rooms.Join(roomID, sessionID, c) {
		g.dropClient(c)
		if evicted != nil {
			// No live connection remains for this session; release whatever
			// the superseded one still held.
			g.sessions.Remove(r.Context(), sessionID)
			g.rooms.Leave(sessionID)
		}
		// The writer goroutine has not started yet; write the refusal directly.
		if body, err := jsonx.Marshal(RoomFrame{Type: TypeRoomOccupied, RoomID: roomID}); err == nil {
			_ = c.write(websocket.TextMessage, body)
		}
		c.closeWithCode(websocket.ClosePolicyViolation, "room occupied")
		return
	}
	g.sessions.Store(r.Context(), sessionID)
	log.Info("client connected", zap.String("room_id", roomID))

	go c.writePump(g.cfg.HeartbeatInterval)

	if err := c.SendJSON(EstablishedFrame{
		Type:      TypeConnectionEstablished,
		SessionID: sessionID,
		RoomID:    roomID,
	}); err != nil {
		log.Warn("established frame not sent", zap.Error(err))
	}

	g.readLoop(c)
}

// readLoop consumes inbound frames until the connection dies, then runs the
// full cleanup path exactly once.
func (g *Gateway) readLoop(c *client) {
	defer g.cleanup(c)

	c.conn.SetReadLimit(1 << 20)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(g.cfg.HeartbeatTimeout)); err != nil {
			return
		}
		_, body, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.log.Info("liveness timeout, closing connection")
				c.closeWithCode(websocket.CloseGoingAway, "heartbeat timeout")
			}
			return
		}

		var env Envelope
		if err := jsonx.Unmarshal(body, &env); err != nil {
			_ = c.SendJSON(errorFrame(CodeInvalidMessage, "frame is not valid JSON"))
			continue
		}
		g.handleFrame(c, env)
	}
}

func (g *Gateway) handleFrame(c *client, env Envelope) {
	switch env.Type {
	case "":
		_ = c.SendJSON(errorFrame(CodeMissingMessageType, "frame has no type"))

	case TypePing:
		_ = c.SendJSON(PingFrame{Type: TypePong})

	case TypePong:
		// The read itself refreshed the liveness deadline; extend the
		// registry lease too, so long-lived connections stay dispatchable.
		g.sessions.Store(context.Background(), c.sessionID)

	case TypeJoinRoom:
		g.handleJoin(c, env)

	case TypeLeaveRoom:
		g.handleLeave(c)

	case TypeSendMessage:
		g.handleSend(c, env)

	default:
		_ = c.SendJSON(errorFrame(CodeUnknownMessageType, "unknown message type "+env.Type))
	}
}

func (g *Gateway) handleJoin(c *client, env Envelope) {
	if !g.cfg.RoomOpsEnabled {
		_ = c.SendJSON(errorFrame(CodeOperationNotAllowed, "room operations are disabled"))
		return
	}
	if env.RoomID == "" {
		_ = c.SendJSON(errorFrame(CodeInvalidMessage, "join_room requires room_id"))
		return
	}
	if !g.rooms.Join(env.RoomID, c.sessionID, c) {
		_ = c.SendJSON(RoomFrame{Type: TypeRoomOccupied, RoomID: env.RoomID})
		return
	}
	_ = c.SendJSON(RoomFrame{Type: TypeRoomJoined, RoomID: env.RoomID})
}

// handleLeave vacates the current room and drops the session back into its
// personal room, so result delivery keeps working after an explicit leave.
func (g *Gateway) handleLeave(c *client) {
	if !g.cfg.RoomOpsEnabled {
		_ = c.SendJSON(errorFrame(CodeOperationNotAllowed, "room operations are disabled"))
		return
	}
	roomID, ok := g.rooms.Leave(c.sessionID)
	if !ok {
		_ = c.SendJSON(errorFrame(CodeNotInRoom, "session is not in a room"))
		return
	}
	g.rooms.Join(PersonalRoom(c.sessionID), c.sessionID, c)
	_ = c.SendJSON(RoomFrame{Type: TypeRoomLeft, RoomID: roomID})
}

// handleSend relays a message into a room. Unlike join/leave it is never
// administratively disabled. An absent room_id targets the sender's own room.
func (g *Gateway) handleSend(c *client, env Envelope) {
	if len(env.Message) == 0 {
		_ = c.SendJSON(errorFrame(CodeInvalidMessage, "send_message requires message"))
		return
	}
	roomID := env.RoomID
	if roomID == "" {
		current, ok := g.rooms.UserRoom(c.sessionID)
		if !ok {
			_ = c.SendJSON(errorFrame(CodeNotInRoom, "session is not in a room"))
			return
		}
		roomID = current
	}
	frame := ChatFrame{
		Type:    TypeChatMessage,
		RoomID:  roomID,
		From:    c.sessionID,
		Message: env.Message,
	}
	if err := g.rooms.SendToRoom(roomID, frame); err != nil {
		_ = c.SendJSON(errorFrame(CodeSendFailed, err.Error()))
	}
}

// cleanup tears down everything the connection created: client map entry,
// registry key, room occupancy, metrics. Guarded against a superseding
// connection for the same session, whose state must survive.
func (g *Gateway) cleanup(c *client) {
	c.close()

	g.mu.Lock()
	current := g.clients[c.sessionID] == c
	if current {
		delete(g.clients, c.sessionID)
		g.metrics.ActiveConnections.Dec()
	}
	g.mu.Unlock()

	if !current {
		return
	}
	g.sessions.Remove(context.Background(), c.sessionID)
	if roomID, ok := g.rooms.Leave(c.sessionID); ok {
		c.log.Info("client disconnected", zap.String("room_id", roomID))
	} else {
		c.log.Info("client disconnected")
	}
}

// dropClient removes c from the client map without touching registry or room
// state (used before any of that state exists).
func (g *Gateway) dropClient(c *client) {
	g.mu.Lock()
	if g.clients[c.sessionID] == c {
		delete(g.clients, c.sessionID)
		g.metrics.ActiveConnections.Dec()
	}
	g.mu.Unlock()
}

// ClientCount reports the number of admitted connections.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
