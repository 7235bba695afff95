package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-transport-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
	// RecordTTL bounds how long a record outlives its last update.
	// ENV: SESSIONS_RECORD_TTL
	RecordTTL time.Duration `env:"SESSIONS_RECORD_TTL,default=24h"`
}

type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ sessions.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	ttl := cfg.RecordTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: cl, keyPrefix: prefix, ttl: ttl}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) recordKey(token string) string { return s.keyPrefix + "rec:" + token }
func (s *Store) indexKey() string              { return s.keyPrefix + "index" }

const (
	fieldUserID         = "user"
	fieldEncoding       = "enc"
	fieldCreatedAt      = "created"
	fieldLastActivityAt = "active"
	fieldDisconnectedAt = "disc"
)

func (s *Store) Put(ctx context.Context, rec sessions.Record) error {
	key := s.recordKey(rec.Token)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldUserID, rec.UserID,
			fieldEncoding, string(rec.Encoding),
			fieldCreatedAt, formatTime(rec.CreatedAt),
			fieldLastActivityAt, formatTime(rec.LastActivityAt),
			fieldDisconnectedAt, formatTime(rec.DisconnectedAt),
		)
		p.Expire(ctx, key, s.ttl)
		p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.Token})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put session record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, token string) (sessions.Record, error) {
	vals, err := s.client.HGetAll(ctx, s.recordKey(token)).Result()
	if err != nil {
		return sessions.Record{}, fmt.Errorf("get session record: %w", err)
	}
	if len(vals) == 0 {
		return sessions.Record{}, sessions.ErrRecordNotFound
	}
	return decodeRecord(token, vals)
}

func (s *Store) Delete(ctx context.Context, token string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.recordKey(token))
		p.ZRem(ctx, s.indexKey(), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]sessions.Record, error) {
	tokens, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list session index: %w", err)
	}
	recs := make([]sessions.Record, 0, len(tokens))
	var stale []any
	for _, token := range tokens {
		rec, err := s.Get(ctx, token)
		if errors.Is(err, sessions.ErrRecordNotFound) {
			stale = append(stale, token)
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune session index: %w", err)
		}
	}
	return recs, nil
}

func decodeRecord(token string, vals map[string]string) (sessions.Record, error) {
	rec := sessions.Record{
		Token:    token,
		UserID:   vals[fieldUserID],
		Encoding: sessions.Encoding(vals[fieldEncoding]),
	}
	var err error
	if rec.CreatedAt, err = parseTime(vals[fieldCreatedAt]); err != nil {
		return sessions.Record{}, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
	}
	if rec.LastActivityAt, err = parseTime(vals[fieldLastActivityAt]); err != nil {
		return sessions.Record{}, fmt.Errorf("decode %s: %w", fieldLastActivityAt, err)
	}
	if rec.DisconnectedAt, err = parseTime(vals[fieldDisconnectedAt]); err != nil {
		return sessions.Record{}, fmt.Errorf("decode %s: %w", fieldDisconnectedAt, err)
	}
	return rec, nil
}

// Zero times are stored as the empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
