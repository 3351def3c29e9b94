package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "aiko:thread:"

// RedisStore is a Store backed by Redis.
//
// Each thread is a hash {revision, data} under prefix+threadID, and a sorted
// set prefix+"index" orders threads by last update. Put runs inside a
// WATCH/MULTI transaction so the revision check and the write are atomic.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL expires idle threads after ttl. Zero (the default) keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to a single Redis node.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Get returns the latest checkpoint for threadID.
func (s *RedisStore) Get(ctx context.Context, threadID string) (Checkpoint, error) {
	data, err := s.client.HGet(ctx, s.key(threadID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decodeCheckpoint([]byte(data))
}

// Put writes cp if its revision directly follows the stored one.
func (s *RedisStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := validateCheckpoint(cp); err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	key := s.key(cp.ThreadID)
	txf := func(tx *redis.Tx) error {
		var stored int64
		raw, err := tx.HGet(ctx, key, "revision").Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read revision: %w", err)
		default:
			stored, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt revision for thread %s: %w", cp.ThreadID, err)
			}
		}
		if err := checkRevision(cp.ThreadID, stored, cp.Revision); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "revision", cp.Revision, "data", data)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{
				Score:  float64(cp.UpdatedAt.UnixNano()),
				Member: cp.ThreadID,
			})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: thread %s modified concurrently", ErrRevisionConflict, cp.ThreadID)
	}
	if err != nil {
		if errors.Is(err, ErrRevisionConflict) {
			return err
		}
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes the thread and its index entry.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// List returns thread IDs, most recently updated first. Index entries whose
// hash has expired are pruned lazily.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	if s.ttl > 0 {
		cutoff := float64(time.Now().Add(-s.ttl).UnixNano())
		maxScore := strconv.FormatFloat(cutoff, 'f', 0, 64)
		if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", maxScore).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired threads: %w", err)
		}
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
