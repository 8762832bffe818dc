// Package users は認証情報（ユーザーレコード）の保存と取得を提供します。
package users

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound は該当ユーザーが存在しない場合のエラーです。
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken はメールアドレスが既に登録済みの場合のエラーです。
	ErrEmailTaken = errors.New("email already registered")
)

// User は登録済みユーザーです。PasswordHash は JSON に出力しません。
type User struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Repository はユーザーの永続化層です。
// メールアドレスは保存されたとおり大文字小文字を区別して扱います。
type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Delete(ctx context.Context, id int64) error
}
