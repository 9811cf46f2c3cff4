package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ardrey/translate-hub/internal/broker"
	"github.com/ardrey/translate-hub/internal/session"
	"github.com/ardrey/translate-hub/internal/work"
)

type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte)}
}

func (q *fakeQueue) Publish(_ context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published[queue] = append(q.published[queue], body)
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, _ string, _ broker.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) SetEX(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
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

func validRequest(sessionID string) work.Request {
	payload, _ := json.Marshal(work.TranslatePayload{
		Text:           "Hello",
		TranslatorCode: "libre",
		TargetLang:     "ru",
	})
	return work.Request{Method: work.MethodTranslate, Payload: payload, SessionID: sessionID}
}

func TestSubmitAcceptsAndPublishes(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	sessions := session.NewRegistry(newMemStore(), time.Hour, zap.NewNop())
	sessions.Store(ctx, "abc")

	d := NewDispatcher(queue, "translation_requests", sessions, zap.NewNop())
	require.NoError(t, d.Submit(ctx, validRequest("abc")))

	require.Len(t, queue.published["translation_requests"], 1)

	var got work.Request
	require.NoError(t, json.Unmarshal(queue.published["translation_requests"][0], &got))
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, work.MethodTranslate, got.Method)
}

func TestSubmitRejectsInvalidShape(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	sessions := session.NewRegistry(newMemStore(), time.Hour, zap.NewNop())
	sessions.Store(ctx, "abc")
	d := NewDispatcher(queue, "translation_requests", sessions, zap.NewNop())

	tests := []struct {
		name    string
		mutate  func(r *work.Request)
		wantErr error
	}{
		{name: "missing method", mutate: func(r *work.Request) { r.Method = "" }, wantErr: work.ErrMissingMethod},
		{name: "missing session", mutate: func(r *work.Request) { r.SessionID = "" }, wantErr: work.ErrMissingSession},
		{name: "missing payload", mutate: func(r *work.Request) { r.Payload = nil }, wantErr: work.ErrMissingPayload},
		{
			name: "empty text",
			mutate: func(r *work.Request) {
				r.Payload, _ = json.Marshal(work.TranslatePayload{Text: "12 !?", TargetLang: "ru"})
			},
			wantErr: work.ErrNoText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest("abc")
			tt.mutate(&req)

			err := d.Submit(ctx, req)
			require.Error(t, err)

			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.ErrorIs(t, err, tt.wantErr)

			// Rejected requests never reach the queue.
			assert.Empty(t, queue.published)
		})
	}
}

func TestSubmitRejectsDisconnectedSession(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	sessions := session.NewRegistry(newMemStore(), time.Hour, zap.NewNop())
	d := NewDispatcher(queue, "translation_requests", sessions, zap.NewNop())

	err := d.Submit(ctx, validRequest("ghost"))
	assert.ErrorIs(t, err, ErrSessionNotConnected)
	assert.Empty(t, queue.published)
}

func TestSubmitSurfacesPublishFailure(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	queue.err = errors.New("broker unreachable")
	sessions := session.NewRegistry(newMemStore(), time.Hour, zap.NewNop())
	sessions.Store(ctx, "abc")
	d := NewDispatcher(queue, "translation_requests", sessions, zap.NewNop())

	err := d.Submit(ctx, validRequest("abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue work request")
}
