package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lastReportKey = "session-auth:sweep:last"
)

// Store は直近の掃除結果を Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。ttl が 0 以下の場合は期限なしで保存します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Last は直近の掃除結果を取得します。まだ一度も実行されていない場合は nil を返します。
func (s *Store) Last(ctx context.Context) (*Report, error) {
	data, err := s.rdb.Get(ctx, lastReportKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode sweep report: %w", err)
	}
	return &report, nil
}

// Save は掃除結果を保存します。
func (s *Store) Save(ctx context.Context, report *Report) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, lastReportKey, payload, ttl).Err()
}
