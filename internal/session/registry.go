package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	redispkg "github.com/ardrey/translate-hub/pkg/redis"
)

// keyPrefix namespaces registry entries in the shared store.
const keyPrefix = "ws:"

// Store is the key-value contract the registry needs: set-with-TTL,
// existence check and delete. Backed by Redis in production.
type Store interface {
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
}

// Registry tracks connection liveness in a TTL-backed shared store. Entries
// are weak references: existence means "this session has a live connection
// somewhere", nothing more. Store failures never propagate — Store/Remove
// report false and Exists degrades to "not connected".
type Registry struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

func NewRegistry(store Store, ttl time.Duration, log *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{
		store: store,
		ttl:   ttl,
		log:   log.With(zap.String("module", "session")),
	}
}

// Store creates or refreshes the entry for sessionID. Idempotent.
func (r *Registry) Store(ctx context.Context, sessionID string) bool {
	if err := r.store.SetEX(ctx, keyPrefix+sessionID, "1", r.ttl); err != nil {
		r.log.Error("failed to store session", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return true
}

// Exists reports whether an unexpired entry exists. Unknown means
// disconnected: any store error yields false.
func (r *Registry) Exists(ctx context.Context, sessionID string) bool {
	ok, err := r.store.Exists(ctx, keyPrefix+sessionID)
	if err != nil {
		r.log.Warn("session existence check failed, treating as disconnected",
			zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return ok
}

// Remove deletes the entry immediately. Removing an absent key is not an
// error.
func (r *Registry) Remove(ctx context.Context, sessionID string) bool {
	if err := r.store.Del(ctx, keyPrefix+sessionID); err != nil {
		r.log.Error("failed to remove session", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return true
}

// redisStore adapts the project Redis client to the Store contract.
type redisStore struct {
	client *redispkg.Client
}

// NewRedisStore wraps the shared Redis client for registry use.
func NewRedisStore(client *redispkg.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
