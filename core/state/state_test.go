package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	acc := NewAccessor[doc](s, "test")

	v, err := acc.Load(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, doc{}, v)

	require.NoError(t, acc.Save(ctx, "a", doc{Count: 1, Tags: []string{"x"}}))
	v, err = acc.Load(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, doc{Count: 1, Tags: []string{"x"}}, v)

	e1, err := acc.Entry("a", doc{Count: 2})
	require.NoError(t, err)
	e2, err := acc.Entry("b", doc{Count: 3})
	require.NoError(t, err)
	require.NoError(t, s.SetMany(ctx, e1, e2))

	v, err = acc.Load(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, v.Count)
	v, err = acc.Load(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 3, v.Count)

	require.NoError(t, acc.Delete(ctx, "a"))
	_, ok, err := s.Get(ctx, acc.Key("a"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, acc.Delete(ctx, "b"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	buf := []byte(`{"count":1}`)
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[2] = 'X'

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"count":1}`, string(got))

	got[2] = 'Y'
	again, _, _ := s.Get(ctx, "k")
	require.Equal(t, `{"count":1}`, string(again))
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewMemoryStore().Set(ctx, "k", nil), context.Canceled)
}

func TestAccessorDecodeError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "test/bad", []byte("{")))
	_, err := NewAccessor[doc](s, "test").Load(ctx, "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "test/bad")
}

func TestBuildUniversalOptions(t *testing.T) {
	opts, err := buildUniversalOptions("redis://user:pw@cache:6380/2")
	require.NoError(t, err)
	require.Equal(t, []string{"cache:6380"}, opts.Addrs)
	require.Equal(t, "user", opts.Username)
	require.Equal(t, "pw", opts.Password)
	require.Equal(t, 2, opts.DB)

	opts, err = buildUniversalOptions("redis://a:6379/3, b:6379")
	require.NoError(t, err)
	require.Equal(t, []string{"a:6379", "b:6379"}, opts.Addrs)
	require.Equal(t, 0, opts.DB)

	_, err = buildUniversalOptions(" , ")
	require.Error(t, err)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	s := NewRedisStoreFromClient(nil, "qnabot:", 0)
	require.Equal(t, "qnabot:user/telegram/1", s.key("user/telegram/1"))
	require.Equal(t, "k", NewRedisStoreFromClient(nil, "", 0).key("k"))
}

func TestRedisStoreIntegration(t *testing.T) {
	url := os.Getenv("QNABOT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QNABOT_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url, "qnabot-test", time.Minute)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("QNABOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QNABOT_TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS bot_state (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		expires_at TIMESTAMPTZ NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	require.NoError(t, err)

	s := NewPostgresStore(db, time.Hour)
	defer s.Close()
	exerciseStore(t, s)

	_, err = db.Exec(`INSERT INTO bot_state (key, value, expires_at) VALUES ('stale', '{}', now() - interval '1 minute')
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at`)
	require.NoError(t, err)
	_, ok, err := s.Get(context.Background(), "stale")
	require.NoError(t, err)
	require.False(t, ok)
	n, err := s.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(1))
}
