package room

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Conn is the connection handle the manager delivers through. Implementations
// must serialize their own writes. Handles stay strictly in-process; they are
// never persisted or serialized.
type Conn interface {
	SendJSON(v interface{}) error
}

// Info describes one occupied room.
type Info struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
}

// Stats is a point-in-time snapshot for the stats endpoint.
type Stats struct {
	TotalConnections int    `json:"total_connections"`
	TotalRooms       int    `json:"total_rooms"`
	OccupiedRooms    []Info `json:"occupied_rooms"`
}

// Manager maps rooms to their single occupant and back, and owns the
// connection handles. A room holds 0 or 1 sessions at all times. All three
// maps are mutated under one mutex so no caller ever observes a torn state.
type Manager struct {
	mu       sync.Mutex
	rooms    map[string]string // room_id -> session_id
	sessions map[string]string // session_id -> room_id
	conns    map[string]Conn   // session_id -> connection handle
	log      *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		rooms:    make(map[string]string),
		sessions: make(map[string]string),
		conns:    make(map[string]Conn),
		log:      log.With(zap.String("module", "room")),
	}
}

// IsAvailable reports whether the room has no occupant.
func (m *Manager) IsAvailable(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, occupied := m.rooms[roomID]
	return !occupied
}

// Join places the session into roomID. Returns false without mutation when
// the room is held by a different session. If the session occupies another
// room it leaves that room first, atomically; a session is never in two rooms.
func (m *Manager) Join(roomID, sessionID string, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if occupant, occupied := m.rooms[roomID]; occupied && occupant != sessionID {
		m.log.Warn("join refused, room occupied",
			zap.String("room_id", roomID), zap.String("session_id", sessionID))
		return false
	}

	if oldRoom, ok := m.sessions[sessionID]; ok && oldRoom != roomID {
		delete(m.rooms, oldRoom)
		m.log.Info("session moved rooms",
			zap.String("session_id", sessionID),
			zap.String("from", oldRoom), zap.String("to", roomID))
	}

	m.rooms[roomID] = sessionID
	m.sessions[sessionID] = roomID
	m.conns[sessionID] = conn
	return true
}

// Leave removes the session from whatever room it occupies and releases its
// connection handle. Returns the vacated room id, or "" and false when the
// session was not in any room. Safe to call twice.
func (m *Manager) Leave(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	delete(m.rooms, roomID)
	delete(m.sessions, sessionID)
	delete(m.conns, sessionID)
	return roomID, true
}

// UserRoom returns the room the session currently occupies.
func (m *Manager) UserRoom(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.sessions[sessionID]
	return roomID, ok
}

// RoomUser returns the session occupying the room.
func (m *Manager) RoomUser(roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID, ok := m.rooms[roomID]
	return sessionID, ok
}

// SendToRoom forwards message to the sole occupant of roomID. At-most-once:
// a dead connection or empty room yields an error, never a retry.
func (m *Manager) SendToRoom(roomID string, message interface{}) error {
	m.mu.Lock()
	sessionID, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("room %s is empty", roomID)
	}
	conn := m.conns[sessionID]
	m.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no connection handle for session %s", sessionID)
	}
	if err := conn.SendJSON(message); err != nil {
		return fmt.Errorf("send to room %s: %w", roomID, err)
	}
	return nil
}

// SendToUser forwards message to the session's connection, bypassing room
// lookup.
func (m *Manager) SendToUser(sessionID string, message interface{}) error {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()

	if !ok || conn == nil {
		return fmt.Errorf("no connection handle for session %s", sessionID)
	}
	if err := conn.SendJSON(message); err != nil {
		return fmt.Errorf("send to session %s: %w", sessionID, err)
	}
	return nil
}

// Connected reports whether the session has a registered connection handle.
func (m *Manager) Connected(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[sessionID]
	return ok
}

// Snapshot returns current room statistics.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalConnections: len(m.conns),
		TotalRooms:       len(m.rooms),
		OccupiedRooms:    make([]Info, 0, len(m.rooms)),
	}
	for roomID, sessionID := range m.rooms {
		stats.OccupiedRooms = append(stats.OccupiedRooms, Info{RoomID: roomID, SessionID: sessionID})
	}
	return stats
}
