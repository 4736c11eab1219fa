package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "progress:"
	// activeTTL bounds entries of jobs whose process died before finishing
	activeTTL = 24 * time.Hour
)

// RedisStore keeps operations in Redis so every API instance can answer
// progress polls and cancellation requests for jobs running elsewhere.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func opKey(id string) string     { return redisKeyPrefix + id }
func cancelKey(id string) string { return redisKeyPrefix + id + ":cancel" }

func (s *RedisStore) Create(ctx context.Context, op *Operation) error {
	now := time.Now()
	stored := op.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, opKey(op.ID), data, activeTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to store operation: %w", err)
	}
	if !ok {
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Operation, error) {
	data, err := s.client.Get(ctx, opKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read operation: %w", err)
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}
	return &op, nil
}

// Update runs a read-modify-write under WATCH so concurrent writers retry
// instead of overwriting each other.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(op *Operation)) error {
	key := opKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return err
		}
		if op.Status.IsTerminal() {
			return nil
		}

		fn(&op)
		op.UpdatedAt = time.Now()
		ttl := activeTTL
		if op.Status.IsTerminal() {
			if op.FinishedAt == nil {
				finished := op.UpdatedAt
				op.FinishedAt = &finished
			}
			ttl = s.retention
		}
		updated, err := json.Marshal(&op)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			if op.Status.IsTerminal() {
				pipe.Expire(ctx, cancelKey(id), ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("operation %s: too many concurrent updates", id)
}

func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	op, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if op.Status.IsTerminal() {
		return s.Delete(ctx, id)
	}
	return s.client.Set(ctx, cancelKey(id), "1", activeTTL).Err()
}

func (s *RedisStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, opKey(id), cancelKey(id)).Err()
}

// Sweep is a no-op: terminal entries expire through their TTL.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
