package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリに保存する Store です（開発・テスト用）。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Load はセッションを取得します。期限切れのレコードはその場で削除します。
func (s *MemoryStore) Load(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if record.Expired(s.now()) {
		delete(s.records, id)
		return nil, ErrNotFound
	}
	record.Data = append([]byte(nil), record.Data...)
	return &record, nil
}

// Save はセッションを保存します（存在しない場合は作成）。
func (s *MemoryStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	stored.Data = append([]byte(nil), record.Data...)
	s.records[record.ID] = stored
	return nil
}

// Update は既存のセッションだけを上書きします。
func (s *MemoryStore) Update(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[record.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Expired(s.now()) {
		delete(s.records, record.ID)
		return ErrNotFound
	}
	stored := *record
	stored.Data = append([]byte(nil), record.Data...)
	s.records[record.ID] = stored
	return nil
}

// Destroy はセッションを削除します。
func (s *MemoryStore) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// SweepExpired は期限切れのセッションを削除し、その件数を返します。
func (s *MemoryStore) SweepExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for id, record := range s.records {
		if record.Expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len は保存中のレコード数を返します。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
