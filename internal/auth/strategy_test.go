package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/session-auth/internal/password"
	"github.com/yourusername/session-auth/internal/users"
)

func newTestHasher(t *testing.T) *password.Bcrypt {
	t.Helper()
	h, err := password.NewBcrypt(4)
	require.NoError(t, err)
	return h
}

func seedUser(t *testing.T, repo users.Repository, hasher password.Hasher, email, plain string) *users.User {
	t.Helper()
	hash, err := hasher.Hash(plain)
	require.NoError(t, err)
	u, err := repo.Create(context.Background(), &users.User{Name: "Test User", Email: email, PasswordHash: hash})
	require.NoError(t, err)
	return u
}

func TestAuthenticate(t *testing.T) {
	repo := users.NewMemoryRepository()
	hasher := newTestHasher(t)
	user := seedUser(t, repo, hasher, "test@example.com", "password123")

	strategy, err := NewStrategy(repo, hasher)
	require.NoError(t, err)

	ok, err := strategy.Authenticate(context.Background(), "test@example.com", "password123")
	require.NoError(t, err)
	assert.False(t, ok.Rejected)
	assert.Equal(t, Identity{ID: user.ID, Email: "test@example.com"}, ok.Identity)

	wrong, err := strategy.Authenticate(context.Background(), "test@example.com", "wrong")
	require.NoError(t, err)
	missing, err := strategy.Authenticate(context.Background(), "nope@example.com", "password123")
	require.NoError(t, err)

	assert.True(t, wrong.Rejected)
	assert.Equal(t, wrong, missing)
	assert.Equal(t, "Invalid email or password", missing.Reason)

	// メールアドレスは保存されたとおり大文字小文字を区別する
	upper, err := strategy.Authenticate(context.Background(), "TEST@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, upper.Rejected)
}

type brokenRepo struct {
	users.Repository
}

func (brokenRepo) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	return nil, errors.New("connection refused")
}

func TestAuthenticateStoreFailure(t *testing.T) {
	strategy, err := NewStrategy(brokenRepo{}, newTestHasher(t))
	require.NoError(t, err)

	_, err = strategy.Authenticate(context.Background(), "test@example.com", "password123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, users.ErrNotFound)
}
