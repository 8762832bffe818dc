package auth

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/session-auth/internal/password"
	"github.com/yourusername/session-auth/internal/response"
	"github.com/yourusername/session-auth/internal/session"
	"github.com/yourusername/session-auth/internal/users"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// Manager は認証処理をまとめた構造体です。
type Manager struct {
	users    users.Repository
	hasher   password.Hasher
	strategy *Strategy
	logger   *zap.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(repo users.Repository, hasher password.Hasher, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy, err := NewStrategy(repo, hasher)
	if err != nil {
		return nil, err
	}
	return &Manager{
		users:    repo,
		hasher:   hasher,
		strategy: strategy,
		logger:   logger,
	}, nil
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register は /register のハンドラーです。登録だけを行い、ログイン状態にはしません。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Failure(
			response.MessageValidationError,
			response.ValidationDetails(err, &req)...,
		))
		return
	}

	ctx := c.Request.Context()
	if _, err := m.users.FindByEmail(ctx, req.Email); err == nil {
		c.JSON(http.StatusBadRequest, response.Failure(response.MessageUserExists))
		return
	} else if !errors.Is(err, users.ErrNotFound) {
		m.internalError(c, "failed to look up user", err)
		return
	}

	hash, err := m.hasher.Hash(req.Password)
	if err != nil {
		m.internalError(c, "failed to hash password", err)
		return
	}

	if _, err := m.users.Create(ctx, &users.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	}); err != nil {
		// 同時登録で一意制約に引っかかった場合も重複として扱う
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, response.Failure(response.MessageUserExists))
			return
		}
		m.internalError(c, "failed to create user", err)
		return
	}

	c.Status(http.StatusCreated)
}

// Login は /login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	// 空のボディは資格情報なしとして扱い、壊れた JSON だけを入力エラーにする
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, response.Failure(
			response.MessageValidationError,
			response.ValidationDetails(err, &req)...,
		))
		return
	}

	result, err := m.strategy.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		m.internalError(c, "failed to authenticate", err)
		return
	}
	if result.Rejected {
		c.JSON(http.StatusUnauthorized, response.Failure(result.Reason))
		return
	}

	// ログイン前のセッションIDを使い回さない
	s := sessions.Default(c)
	session.Regenerate(s)
	session.SetUserID(s, result.Identity.ID)
	if err := s.Save(); err != nil {
		m.internalError(c, "failed to save session", err)
		return
	}

	m.logger.Info("user logged in", zap.Int64("user_id", result.Identity.ID))
	c.JSON(http.StatusOK, response.Success(response.MessageLoginSuccessful, gin.H{
		"user": result.Identity,
	}))
}

// Logout は /logout のハンドラーです。RequireLogin の後に登録してください。
func (m *Manager) Logout(c *gin.Context) {
	s := sessions.Default(c)
	session.Destroy(s)
	if err := s.Save(); err != nil {
		m.internalError(c, "failed to destroy session", err)
		return
	}
	c.JSON(http.StatusOK, response.Success(response.MessageLogoutSuccessful, nil))
}

// Me は /me のハンドラーです。ログイン中のユーザー情報を返します。
func (m *Manager) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Failure(response.MessageUnauthorized))
		return
	}
	c.JSON(http.StatusOK, response.Success("", gin.H{"user": user}))
}

// RequireLogin はセッションを検証するミドルウェアを返します。
// セッションのユーザーIDは毎回ユーザーストアで引き直し、削除済みユーザーなら未ログインとして拒否します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		userID, ok := session.UserID(s)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Failure(response.MessageUnauthorized))
			return
		}

		user, err := m.users.FindByID(c.Request.Context(), userID)
		if err != nil {
			if !errors.Is(err, users.ErrNotFound) {
				m.logger.Error("failed to resolve session user", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Failure(response.MessageInternalError))
				return
			}
			session.ClearUserID(s)
			if err := s.Save(); err != nil {
				m.logger.Warn("failed to clear stale session user", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Failure(response.MessageUnauthorized))
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// CurrentUser は RequireLogin が解決したユーザーを返します。
func CurrentUser(c *gin.Context) (*users.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*users.User)
	return user, ok && user != nil
}

func (m *Manager) internalError(c *gin.Context, msg string, err error) {
	m.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, response.Failure(response.MessageInternalError))
}
