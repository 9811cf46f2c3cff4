package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ardrey/translate-hub/internal/metrics"
	"github.com/ardrey/translate-hub/internal/room"
	"github.com/ardrey/translate-hub/internal/session"
	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	sets map[string]int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string), sets: make(map[string]int)}
}

func (s *memStore) SetEX(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.sets[key]++
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *memStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func (s *memStore) setCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[key]
}

type fixture struct {
	gateway *Gateway
	rooms   *room.Manager
	store   *memStore
	server  *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 2 * time.Minute
	}

	store := newMemStore()
	rooms := room.NewManager(zap.NewNop())
	sessions := session.NewRegistry(store, time.Hour, zap.NewNop())
	g := New(cfg, sessions, rooms, metrics.NewNop(), zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", g.HandleWS)
	mux.HandleFunc("GET /ws/{room_id}", g.HandleWSRoom)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{gateway: g, rooms: rooms, store: store, server: srv}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, jsonx.Unmarshal(body, v))
}

func sendFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	body, err := jsonx.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, body))
}

func TestConnectEstablishesSessionAndRoom(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=abc")

	var frame EstablishedFrame
	readFrame(t, conn, &frame)
	assert.Equal(t, TypeConnectionEstablished, frame.Type)
	assert.Equal(t, "abc", frame.SessionID)
	assert.Equal(t, "room_abc", frame.RoomID)

	assert.True(t, f.store.has("ws:abc"))
	sessionID, ok := f.rooms.RoomUser("room_abc")
	require.True(t, ok)
	assert.Equal(t, "abc", sessionID)
}

func TestConnectGeneratesSessionID(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws")

	var frame EstablishedFrame
	readFrame(t, conn, &frame)
	assert.NotEmpty(t, frame.SessionID)
	assert.Equal(t, "room_"+frame.SessionID, frame.RoomID)
}

func TestAdmissionCeilingRefusesWithPolicyViolation(t *testing.T) {
	f := newFixture(t, Config{MaxConnections: 1})

	first := f.dial(t, "/ws?client_id=a")
	var frame EstablishedFrame
	readFrame(t, first, &frame)

	second := f.dial(t, "/ws?client_id=b")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))

	// The refused connection never created state.
	assert.False(t, f.store.has("ws:b"))
	assert.Equal(t, 1, f.gateway.ClientCount())
}

func TestDuplicateSessionSupersedesOldConnection(t *testing.T) {
	f := newFixture(t, Config{})

	first := f.dial(t, "/ws?client_id=abc")
	var frame EstablishedFrame
	readFrame(t, first, &frame)

	second := f.dial(t, "/ws?client_id=abc")
	readFrame(t, second, &frame)
	assert.Equal(t, "abc", frame.SessionID)

	// The old connection is closed with a policy violation.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))

	// Session state survives the supersession.
	assert.Eventually(t, func() bool {
		return f.gateway.ClientCount() == 1 && f.store.has("ws:abc")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExplicitRoomOccupiedRefused(t *testing.T) {
	f := newFixture(t, Config{})

	first := f.dial(t, "/ws/shared?client_id=a")
	var frame EstablishedFrame
	readFrame(t, first, &frame)
	assert.Equal(t, "shared", frame.RoomID)

	second := f.dial(t, "/ws/shared?client_id=b")
	var refusal RoomFrame
	readFrame(t, second, &refusal)
	assert.Equal(t, TypeRoomOccupied, refusal.Type)
	assert.Equal(t, "shared", refusal.RoomID)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestUnknownAndMissingTypeGetErrorFrames(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=abc")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	sendFrame(t, conn, map[string]string{"type": "teleport"})
	var errFrame ErrorFrame
	readFrame(t, conn, &errFrame)
	assert.Equal(t, TypeError, errFrame.Type)
	assert.Equal(t, CodeUnknownMessageType, errFrame.ErrorCode)

	sendFrame(t, conn, map[string]string{"foo": "bar"})
	readFrame(t, conn, &errFrame)
	assert.Equal(t, CodeMissingMessageType, errFrame.ErrorCode)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readFrame(t, conn, &errFrame)
	assert.Equal(t, CodeInvalidMessage, errFrame.ErrorCode)
}

func TestPingAnsweredWithPong(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=abc")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	sendFrame(t, conn, PingFrame{Type: TypePing})
	var pong PingFrame
	readFrame(t, conn, &pong)
	assert.Equal(t, TypePong, pong.Type)
}

func TestJoinLeaveDisabledByDefault(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=abc")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	for _, typ := range []string{TypeJoinRoom, TypeLeaveRoom} {
		sendFrame(t, conn, Envelope{Type: typ, RoomID: "other"})
		var errFrame ErrorFrame
		readFrame(t, conn, &errFrame)
		assert.Equal(t, CodeOperationNotAllowed, errFrame.ErrorCode, "type %s", typ)
	}
}

func TestSendMessageWorksWithJoinLeaveDisabled(t *testing.T) {
	f := newFixture(t, Config{})

	alice := f.dial(t, "/ws?client_id=alice")
	bob := f.dial(t, "/ws?client_id=bob")
	var established EstablishedFrame
	readFrame(t, alice, &established)
	readFrame(t, bob, &established)

	sendFrame(t, bob, Envelope{Type: TypeSendMessage, RoomID: "room_alice", Message: []byte(`{"text":"hi"}`)})
	var chat ChatFrame
	readFrame(t, alice, &chat)
	assert.Equal(t, TypeChatMessage, chat.Type)
	assert.Equal(t, "bob", chat.From)
	assert.Equal(t, "room_alice", chat.RoomID)
}

func TestSendMessageDefaultsToOwnRoom(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=alice")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	sendFrame(t, conn, Envelope{Type: TypeSendMessage, Message: []byte(`{"text":"echo"}`)})
	var chat ChatFrame
	readFrame(t, conn, &chat)
	assert.Equal(t, TypeChatMessage, chat.Type)
	assert.Equal(t, "room_alice", chat.RoomID)
	assert.JSONEq(t, `{"text":"echo"}`, string(chat.Message))
}

func TestSendMessageWithoutMessageRejected(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=alice")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	sendFrame(t, conn, Envelope{Type: TypeSendMessage, RoomID: "room_alice"})
	var errFrame ErrorFrame
	readFrame(t, conn, &errFrame)
	assert.Equal(t, CodeInvalidMessage, errFrame.ErrorCode)
}

func TestRoomOpsJoinSendLeave(t *testing.T) {
	f := newFixture(t, Config{RoomOpsEnabled: true})

	alice := f.dial(t, "/ws?client_id=alice")
	bob := f.dial(t, "/ws?client_id=bob")
	var established EstablishedFrame
	readFrame(t, alice, &established)
	readFrame(t, bob, &established)

	sendFrame(t, alice, Envelope{Type: TypeJoinRoom, RoomID: "shared"})
	var joined RoomFrame
	readFrame(t, alice, &joined)
	require.Equal(t, TypeRoomJoined, joined.Type)
	require.Equal(t, "shared", joined.RoomID)

	// Bob cannot take an occupied room.
	sendFrame(t, bob, Envelope{Type: TypeJoinRoom, RoomID: "shared"})
	var occupied RoomFrame
	readFrame(t, bob, &occupied)
	assert.Equal(t, TypeRoomOccupied, occupied.Type)

	// But bob can message its occupant.
	sendFrame(t, bob, Envelope{Type: TypeSendMessage, RoomID: "shared", Message: []byte(`{"text":"hi"}`)})
	var chat ChatFrame
	readFrame(t, alice, &chat)
	assert.Equal(t, TypeChatMessage, chat.Type)
	assert.Equal(t, "bob", chat.From)
	assert.JSONEq(t, `{"text":"hi"}`, string(chat.Message))

	// Leaving drops alice back into her personal room.
	sendFrame(t, alice, Envelope{Type: TypeLeaveRoom})
	var left RoomFrame
	readFrame(t, alice, &left)
	assert.Equal(t, TypeRoomLeft, left.Type)
	assert.Equal(t, "shared", left.RoomID)

	sessionID, ok := f.rooms.RoomUser("room_alice")
	require.True(t, ok)
	assert.Equal(t, "alice", sessionID)
	assert.True(t, f.rooms.IsAvailable("shared"))
}

func TestDisconnectCleansUpAllState(t *testing.T) {
	f := newFixture(t, Config{})
	conn := f.dial(t, "/ws?client_id=abc")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.gateway.ClientCount() == 0 &&
			!f.store.has("ws:abc") &&
			f.rooms.IsAvailable("room_abc")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAnsweredHeartbeatRefreshesSessionTTL(t *testing.T) {
	f := newFixture(t, Config{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
	})
	conn := f.dial(t, "/ws?client_id=abc")
	var established EstablishedFrame
	readFrame(t, conn, &established)
	require.Equal(t, 1, f.store.setCount("ws:abc"))

	// Answer server pings until the lease has been re-stored several times.
	deadline := time.Now().Add(5 * time.Second)
	for f.store.setCount("ws:abc") < 4 {
		require.True(t, time.Now().Before(deadline), "registry lease was not refreshed")
		var frame PingFrame
		readFrame(t, conn, &frame)
		if frame.Type == TypePing {
			sendFrame(t, conn, PingFrame{Type: TypePong})
		}
	}
	assert.GreaterOrEqual(t, f.store.setCount("ws:abc"), 4)
}

func TestLivenessTimeoutClosesGoingAway(t *testing.T) {
	f := newFixture(t, Config{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
	})
	conn := f.dial(t, "/ws?client_id=abc")
	var established EstablishedFrame
	readFrame(t, conn, &established)

	// Never answer; the server must force the disconnect path.
	assert.Eventually(t, func() bool {
		return f.gateway.ClientCount() == 0 && !f.store.has("ws:abc")
	}, 5*time.Second, 10*time.Millisecond)
}
