package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore は sessions テーブルにセッションを保存します。
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore は SQLStore を作成します。
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:  db,
		now: time.Now,
	}
}

type sqlRecord struct {
	ID             string    `db:"id"`
	Data           []byte    `db:"data"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastAccessedAt time.Time `db:"last_accessed_at"`
}

// Load はセッションを取得します。期限切れのレコードは削除して ErrNotFound を返します。
func (s *SQLStore) Load(ctx context.Context, id string) (*Record, error) {
	var row sqlRecord
	query := s.db.Rebind(`SELECT id, data, expires_at, last_accessed_at FROM sessions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	record := &Record{
		ID:             row.ID,
		Data:           row.Data,
		ExpiresAt:      row.ExpiresAt,
		LastAccessedAt: row.LastAccessedAt,
	}
	if record.Expired(s.now()) {
		if err := s.Destroy(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return record, nil
}

// Save はセッションを保存します（存在しない場合は作成）。
func (s *SQLStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := s.db.Rebind(`INSERT INTO sessions (id, data, expires_at, last_accessed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			last_accessed_at = excluded.last_accessed_at`)

	_, err := s.db.ExecContext(ctx, query, record.ID, record.Data, record.ExpiresAt.UTC(), record.LastAccessedAt.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update は既存の有効なセッションだけを更新します。該当行が無ければ ErrNotFound です。
func (s *SQLStore) Update(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := s.db.Rebind(`UPDATE sessions
		SET data = ?, expires_at = ?, last_accessed_at = ?
		WHERE id = ? AND expires_at > ?`)

	result, err := s.db.ExecContext(ctx, query,
		record.Data, record.ExpiresAt.UTC(), record.LastAccessedAt.UTC(), record.ID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Destroy はセッションを削除します。
func (s *SQLStore) Destroy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SweepExpired は期限切れのセッションを一括削除します。
func (s *SQLStore) SweepExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return result.RowsAffected()
}
