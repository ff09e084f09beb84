package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidc-gateway/internal/auth"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		st, _ := newRedisStore(t, time.Hour)
		return st
	})
}

func TestRedisStoreKeyTTL(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t, time.Hour)

	s, err := st.Create(ctx)
	require.NoError(t, err)

	key := "session:" + s.ID
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	require.NoError(t, st.AttachGrant(ctx, s.ID, &auth.Grant{AccessToken: "at"}))
	assert.LessOrEqual(t, mr.TTL(key), time.Hour, "updates never extend the session")

	mr.FastForward(2 * time.Hour)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t, time.Hour)

	require.NoError(t, mr.Set("session:bad", "not json"))

	_, err := st.Get(ctx, "bad")
	assert.Error(t, err)
}
