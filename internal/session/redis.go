package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "replyshield:session:"

// RedisStore is a Store shared by every gateway replica. Each operation is
// a single command or a MULTI/EXEC pipeline.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// NewRedisStore wraps an open client.
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

// Connect opens a client and pings it, backing off exponentially between
// attempts.
func Connect(ctx context.Context, addr, password string, maxRetries int, logger zerolog.Logger) (*redis.Client, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              0,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})

	var err error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i)) * time.Second
			logger.Info().Dur("backoff", backoff).Msg("waiting before redis retry")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			}
		}
		if err = client.Ping(ctx).Err(); err == nil {
			logger.Info().Str("addr", addr).Int("attempts", i+1).Msg("redis connected")
			return client, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("redis ping failed")
	}
	_ = client.Close()
	return nil, fmt.Errorf("connect to redis after %d attempts: %w", maxRetries, err)
}

func lockKey(id string) string     { return keyPrefix + id + ":lock" }
func enumKey(id string) string     { return keyPrefix + id + ":enum" }
func askedKey(id string) string    { return keyPrefix + id + ":asked" }
func notFoundKey(id string) string { return keyPrefix + id + ":not_found" }

func (s *RedisStore) LockSession(ctx context.Context, id, reason string, d time.Duration) error {
	if id == "" {
		return ErrNoSession
	}
	if d <= 0 {
		d = s.opts.LockDuration
	}
	if err := s.client.Set(ctx, lockKey(id), reason, d).Err(); err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	return nil
}

func (s *RedisStore) IsSessionLocked(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrNoSession
	}
	n, err := s.client.Exists(ctx, lockKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check session lock: %w", err)
	}
	return n > 0, nil
}

// CheckEnumerationAttempt counts attempts in a sorted set scored by time,
// trimming entries older than the window in the same transaction.
func (s *RedisStore) CheckEnumerationAttempt(ctx context.Context, id string, a Attempt) (EnumerationResult, error) {
	if id == "" {
		return EnumerationResult{}, ErrNoSession
	}
	now := time.Now()
	key := enumKey(id)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + a.Mode + ":" + a.Signal

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-s.opts.Window).UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, s.opts.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return EnumerationResult{}, fmt.Errorf("record enumeration attempt: %w", err)
	}

	res := EnumerationResult{Count: int(count.Val())}
	if res.Count < s.opts.Threshold {
		return res, nil
	}
	// SET NX keeps an existing, possibly longer, lock in place.
	set, err := s.client.SetNX(ctx, lockKey(id), EnumerationReason(a), s.opts.LockDuration).Result()
	if err != nil {
		return res, fmt.Errorf("lock enumerating session: %w", err)
	}
	res.Locked = set
	return res, nil
}

func (s *RedisStore) Recall(ctx context.Context, id string) (Memory, error) {
	if id == "" {
		return Memory{}, ErrNoSession
	}
	pipe := s.client.Pipeline()
	asked := pipe.SMembers(ctx, askedKey(id))
	nf := pipe.Get(ctx, notFoundKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Memory{}, fmt.Errorf("recall session: %w", err)
	}

	var m Memory
	m.AskedFields = asked.Val()
	if ms, err := nf.Int64(); err == nil {
		m.LastNotFoundAt = time.UnixMilli(ms)
	}
	return m, nil
}

func (s *RedisStore) MarkAsked(ctx context.Context, id, field string) error {
	if id == "" {
		return ErrNoSession
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, askedKey(id), field)
	pipe.Expire(ctx, askedKey(id), s.opts.StateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark asked field: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkNotFound(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return ErrNoSession
	}
	if err := s.client.Set(ctx, notFoundKey(id), at.UnixMilli(), s.opts.StateTTL).Err(); err != nil {
		return fmt.Errorf("mark not found: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
