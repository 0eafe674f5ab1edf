package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"twingate/internal/domain"
)

const (
	redisKeyPrefix    = "session:"
	redisMaxTxRetries = 5
)

// getter is satisfied by both the client and a WATCH transaction
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps sessions in Redis as JSON with a TTL equal to the idle timeout
type RedisStore struct {
	client redis.UniversalClient
	idle   time.Duration
	now    Clock
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client redis.UniversalClient, idle time.Duration) *RedisStore {
	return NewRedisStoreWithClock(client, idle, time.Now)
}

// NewRedisStoreWithClock creates a Redis backed store with a custom clock
func NewRedisStoreWithClock(client redis.UniversalClient, idle time.Duration, now Clock) *RedisStore {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &RedisStore{
		client: client,
		idle:   idle,
		now:    now,
	}
}

func redisKey(userID int64) string {
	return redisKeyPrefix + strconv.FormatInt(userID, 10)
}

// Get returns the user's session, deleting it if idle
func (r *RedisStore) Get(ctx context.Context, userID int64) (*domain.Session, error) {
	key := redisKey(userID)
	s, err := r.read(ctx, r.client, key)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	if expired(s, r.now(), r.idle) {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("failed to evict session: %w", err)
		}
		return nil, nil
	}
	return s, nil
}

// Upsert merges patch into the user's session
func (r *RedisStore) Upsert(ctx context.Context, userID int64, patch domain.Patch) (*domain.Session, error) {
	return r.Update(ctx, userID, func(s *domain.Session) error {
		patch.Apply(s)
		return nil
	})
}

// Update applies fn inside a WATCH/MULTI transaction, retrying on conflicts
func (r *RedisStore) Update(ctx context.Context, userID int64, fn UpdateFunc) (*domain.Session, error) {
	key := redisKey(userID)
	var result *domain.Session

	txf := func(tx *redis.Tx) error {
		now := r.now()
		s, err := r.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if s == nil || expired(s, now, r.idle) {
			s = domain.NewSession(userID, now)
		}

		if err := fn(s); err != nil {
			return err
		}
		s.UserID = userID
		s.LastActivity = now

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.idle)
			return nil
		})
		if err != nil {
			return err
		}
		result = s
		return nil
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("session update for user %d: too many concurrent writers", userID)
}

// Delete removes the user's session
func (r *RedisStore) Delete(ctx context.Context, userID int64) (bool, error) {
	n, err := r.client.Del(ctx, redisKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}

// Len counts session keys
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return count, nil
}

// Sweep is a no-op: Redis expires idle keys through their TTL
func (r *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (r *RedisStore) read(ctx context.Context, c getter, key string) (*domain.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}
