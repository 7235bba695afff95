package redisstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/mcp-transport-go/sessions"
	"github.com/ggoodman/mcp-transport-go/sessions/redisstore"
	"github.com/ggoodman/mcp-transport-go/sessions/storetest"
)

func newStore(t *testing.T, mr *miniredis.Miniredis) *redisstore.Store {
	t.Helper()
	s, err := redisstore.New(redisstore.Config{RedisAddr: mr.Addr(), KeyPrefix: "test:", RecordTTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		return newStore(t, miniredis.RunT(t))
	})
}

func TestRedisStoreRecordsExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newStore(t, mr)
	ctx := context.Background()

	now := time.Now()
	if err := s.Put(ctx, sessions.Record{Token: "tok", Encoding: sessions.EncodingSSE, CreatedAt: now, LastActivityAt: now}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL("test:rec:tok"); ttl != time.Hour {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := s.Get(ctx, "tok"); !errors.Is(err, sessions.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound after expiry, got %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want, got := 0, len(list); want != got {
		t.Fatalf("unexpected listing size: want %d got %d", want, got)
	}
	if members, _ := mr.ZMembers("test:index"); len(members) != 0 {
		t.Fatalf("expected stale index entries pruned, got %v", members)
	}
}

func TestNewFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := redisstore.New(redisstore.Config{RedisAddr: addr}); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestNewFromEnv(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("SESSIONS_KEY_PREFIX", "env:")

	s, err := redisstore.NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	defer s.Close()

	now := time.Now()
	if err := s.Put(context.Background(), sessions.Record{Token: "tok", CreatedAt: now, LastActivityAt: now}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists("env:rec:tok") {
		t.Fatalf("expected key under env prefix, got %v", mr.Keys())
	}
}
