// Package auth はログイン・ログアウト・登録のハンドラーと認可ミドルウェアを提供します。
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/session-auth/internal/password"
	"github.com/yourusername/session-auth/internal/response"
	"github.com/yourusername/session-auth/internal/users"
)

// Identity はセッションに紐付ける最小限のユーザー情報です。パスワードハッシュは含みません。
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Result は認証結果です。Rejected が true の場合 Identity は空で、Reason に理由が入ります。
type Result struct {
	Identity Identity
	Rejected bool
	Reason   string
}

func rejected() Result {
	return Result{Rejected: true, Reason: response.MessageInvalidCredentials}
}

// Strategy はメールアドレスとパスワードでユーザーを認証します。セッションには触れません。
type Strategy struct {
	users     users.Repository
	hasher    password.Hasher
	dummyHash string
}

// NewStrategy は Strategy を作成します。
func NewStrategy(repo users.Repository, hasher password.Hasher) (*Strategy, error) {
	// 存在しないユーザーでも照合処理を行い、応答時間からアカウントの有無を推測させない
	dummy, err := hasher.Hash("session-auth-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Strategy{users: repo, hasher: hasher, dummyHash: dummy}, nil
}

// Authenticate は資格情報を検証します。
// ユーザーが存在しない場合もパスワード不一致の場合も同じ拒否結果を返します。
// error を返すのはストア障害などの内部エラー時のみです。
func (s *Strategy) Authenticate(ctx context.Context, email, plaintext string) (Result, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			s.hasher.Verify(plaintext, s.dummyHash)
			return rejected(), nil
		}
		return Result{}, fmt.Errorf("find user: %w", err)
	}

	if !s.hasher.Verify(plaintext, user.PasswordHash) {
		return rejected(), nil
	}

	return Result{Identity: Identity{ID: user.ID, Email: user.Email}}, nil
}
