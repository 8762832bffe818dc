// Package session はサーバー側セッションの保存と、Gin のセッションミドルウェアとの接続を提供します。
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はセッションが存在しないか期限切れの場合のエラーです。
var ErrNotFound = errors.New("session not found")

// Record は永続化されるセッションです。Data はシリアライズ済みのペイロードです。
type Record struct {
	ID             string    `json:"id"`
	Data           []byte    `json:"data"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Expired は now の時点で期限切れかを返します。
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store はセッションの永続化層です。各操作は単一レコード単位でアトミックであることを前提とします。
//
// Load は存在しない・期限切れのレコードに対して ErrNotFound を返します。
// Save は存在しなければ作成し、Update は既存の有効なレコードだけを更新します（無ければ ErrNotFound）。
// Destroy は存在しないレコードに対してもエラーを返しません。
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Update(ctx context.Context, record *Record) error
	Destroy(ctx context.Context, id string) error
	SweepExpired(ctx context.Context) (int64, error)
}
