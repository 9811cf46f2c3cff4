package room

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []interface{}
	err  error
}

func (c *fakeConn) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, v)
	return nil
}

func TestJoinAndLeave(t *testing.T) {
	m := NewManager(zap.NewNop())
	conn := &fakeConn{}

	require.True(t, m.IsAvailable("room_a"))
	require.True(t, m.Join("room_a", "s1", conn))
	assert.False(t, m.IsAvailable("room_a"))

	roomID, ok := m.UserRoom("s1")
	require.True(t, ok)
	assert.Equal(t, "room_a", roomID)

	sessionID, ok := m.RoomUser("room_a")
	require.True(t, ok)
	assert.Equal(t, "s1", sessionID)

	vacated, ok := m.Leave("s1")
	require.True(t, ok)
	assert.Equal(t, "room_a", vacated)
	assert.True(t, m.IsAvailable("room_a"))
	assert.False(t, m.Connected("s1"))
}

func TestJoinOccupiedRoomFailsWithoutMutation(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.True(t, m.Join("room_a", "s1", &fakeConn{}))
	require.True(t, m.Join("room_b", "s2", &fakeConn{}))

	// s2 cannot take room_a and keeps its prior room.
	assert.False(t, m.Join("room_a", "s2", &fakeConn{}))

	roomID, ok := m.UserRoom("s2")
	require.True(t, ok)
	assert.Equal(t, "room_b", roomID)

	occupant, ok := m.RoomUser("room_a")
	require.True(t, ok)
	assert.Equal(t, "s1", occupant)
}

func TestJoinMovesSessionBetweenRooms(t *testing.T) {
	m := NewManager(zap.NewNop())
	conn := &fakeConn{}
	require.True(t, m.Join("room_a", "s1", conn))
	require.True(t, m.Join("room_b", "s1", conn))

	// Old room is vacated, session occupies exactly one room.
	assert.True(t, m.IsAvailable("room_a"))
	roomID, ok := m.UserRoom("s1")
	require.True(t, ok)
	assert.Equal(t, "room_b", roomID)

	stats := m.Snapshot()
	assert.Equal(t, 1, stats.TotalRooms)
	assert.Equal(t, 1, stats.TotalConnections)
}

func TestLeaveIdempotent(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.True(t, m.Join("room_a", "s1", &fakeConn{}))

	_, ok := m.Leave("s1")
	assert.True(t, ok)
	_, ok = m.Leave("s1")
	assert.False(t, ok)
}

func TestConcurrentJoinsExactlyOneWins(t *testing.T) {
	m := NewManager(zap.NewNop())

	const contenders = 32
	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if m.Join("room_contested", sessionName(n), &fakeConn{}) {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)

	// Maps agree after the race.
	occupant, ok := m.RoomUser("room_contested")
	require.True(t, ok)
	roomID, ok := m.UserRoom(occupant)
	require.True(t, ok)
	assert.Equal(t, "room_contested", roomID)
}

func TestSessionRoomConsistencyAfterChurn(t *testing.T) {
	m := NewManager(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sid := sessionName(n)
			for j := 0; j < 50; j++ {
				m.Join("room_"+sid, sid, &fakeConn{})
				m.Leave(sid)
			}
		}(i)
	}
	wg.Wait()

	stats := m.Snapshot()
	assert.Zero(t, stats.TotalRooms)
	assert.Zero(t, stats.TotalConnections)
}

func TestSendToRoom(t *testing.T) {
	m := NewManager(zap.NewNop())
	conn := &fakeConn{}
	require.True(t, m.Join("room_a", "s1", conn))

	require.NoError(t, m.SendToRoom("room_a", map[string]string{"hello": "world"}))
	assert.Len(t, conn.sent, 1)

	assert.Error(t, m.SendToRoom("room_empty", "msg"))
}

func TestSendToRoomDeadConnection(t *testing.T) {
	m := NewManager(zap.NewNop())
	conn := &fakeConn{err: errors.New("connection closed")}
	require.True(t, m.Join("room_a", "s1", conn))

	assert.Error(t, m.SendToRoom("room_a", "msg"))
}

func TestSendToUser(t *testing.T) {
	m := NewManager(zap.NewNop())
	conn := &fakeConn{}
	require.True(t, m.Join("room_a", "s1", conn))

	require.NoError(t, m.SendToUser("s1", "direct"))
	assert.Len(t, conn.sent, 1)

	assert.Error(t, m.SendToUser("s-unknown", "direct"))
}

func sessionName(n int) string {
	return fmt.Sprintf("session-%d", n)
}
