// Package authsession maps opaque bearer tokens to authenticated user identity.
package authsession

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/quillapp/quill-server/internal/cache"
)

// ErrNotFound is returned when a token has no associated session.
var ErrNotFound = errors.New("authsession: no session for token")

// Session maps an opaque token to a user identity.
type Session struct {
	Token  string
	UserID string
}

// Store is the contract both session backends satisfy.
type Store interface {
	Create(ctx context.Context, userID string) (Session, error)
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// InMemoryStore keeps sessions in process memory with no expiration. Chosen
// when USE_REDIS_SESSIONS=false; state does not survive a restart and is not
// shared across processes.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]string // token -> userID
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]string)}
}

func (s *InMemoryStore) Create(ctx context.Context, userID string) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	s.sessions[token] = userID
	s.mu.Unlock()
	return Session{Token: token, UserID: userID}, nil
}

func (s *InMemoryStore) Get(ctx context.Context, token string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return Session{Token: token, UserID: userID}, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// RedisStore persists sessions in the shared cache with a TTL, so any
// process behind the same Redis instance can resolve a token.
type RedisStore struct {
	cache *cache.Client
	ttl   time.Duration
}

// NewRedisStore constructs a RedisStore with the given session TTL.
func NewRedisStore(c *cache.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func sessionKey(token string) string { return "session:" + token }

func (s *RedisStore) Create(ctx context.Context, userID string) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.cache.Set(ctx, sessionKey(token), userID, s.ttl); err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: userID}, nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (Session, error) {
	userID, ok, err := s.cache.Get(ctx, sessionKey(token))
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	return Session{Token: token, UserID: userID}, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.cache.Del(ctx, sessionKey(token))
}
