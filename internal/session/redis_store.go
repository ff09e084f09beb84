package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"oidc-gateway/internal/auth"
)

const maxTxRetries = 5

// RedisStore keeps sessions as JSON values whose key TTL matches the
// session expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		ttl:    ttl,
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Create(ctx context.Context) (*Session, error) {
	s, err := newSession(r.ttl, time.Now())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(s.ID), data, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session: id collision")
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s, err := decode(val)
	if err != nil {
		return nil, err
	}
	if s.Expired(time.Now()) {
		return nil, nil
	}
	return s, nil
}

func (r *RedisStore) SetPending(ctx context.Context, sessionID string, req auth.AuthRequest) error {
	return r.update(ctx, sessionID, func(s *Session) error {
		s.Pending = &req
		return nil
	})
}

func (r *RedisStore) TakePending(ctx context.Context, sessionID, state string) (*auth.AuthRequest, error) {
	var taken *auth.AuthRequest
	err := r.update(ctx, sessionID, func(s *Session) error {
		taken = takePending(s, state, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

func (r *RedisStore) AttachGrant(ctx context.Context, sessionID string, grant *auth.Grant) error {
	if grant == nil {
		return fmt.Errorf("session: nil grant")
	}
	return r.update(ctx, sessionID, func(s *Session) error {
		s.Grant = grant
		s.Pending = nil
		return nil
	})
}

func (r *RedisStore) Destroy(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// update runs fn against the stored session inside a WATCH transaction,
// retrying when another writer touched the key first.
func (r *RedisStore) update(ctx context.Context, sessionID string, fn func(*Session) error) error {
	key := r.key(sessionID)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		s, err := decode(val)
		if err != nil {
			return err
		}

		ttl := time.Until(s.ExpiresAt)
		if ttl <= 0 {
			return ErrNotFound
		}

		if err := fn(s); err != nil {
			return err
		}

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("session: failed to marshal: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func decode(val []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &s, nil
}
