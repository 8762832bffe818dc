package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "sess:"

// RedisStore はセッションを Redis に保存します。
// 有効期限は Redis の TTL に任せるため、SweepExpired は何もしません。
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		now: time.Now,
	}
}

// Load はセッションを取得します。
func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if record.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &record, nil
}

// Save はセッションを保存します。TTL は ExpiresAt までの残り時間です。
func (s *RedisStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Destroy(ctx, record.ID)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(record.ID), payload, ttl).Err()
}

// Update は既存のキーだけを上書きします（SET XX）。キーが無ければ ErrNotFound です。
func (s *RedisStore) Update(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		if err := s.Destroy(ctx, record.ID); err != nil {
			return err
		}
		return ErrNotFound
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	updated, err := s.rdb.SetXX(ctx, sessionKey(record.ID), payload, ttl).Result()
	if err != nil {
		return err
	}
	if !updated {
		return ErrNotFound
	}
	return nil
}

// Destroy はセッションを削除します。
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.rdb.Del(ctx, sessionKey(id)).Err()
}

// SweepExpired は常に 0 を返します。
func (s *RedisStore) SweepExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
