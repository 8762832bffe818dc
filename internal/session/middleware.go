package session

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/session-auth/internal/response"
)

// Track はリクエストごとにセッションを解決するミドルウェアを返します。
// sessions.Sessions の後に登録してください。
//
// 有効なセッションクッキーが無いリクエストには新しいセッションを作成してクッキーを発行し、
// 既存のセッションは最終アクセス時刻を更新して有効期限を延長します。
func Track(store *ServerStore, name string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		// ミドルウェアと同じレジストリを経由するので、ここでの読み込み結果がハンドラーにも共有される
		loaded, err := store.Get(c.Request, name)
		if err != nil {
			logger.Error("failed to load session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Failure(response.MessageInternalError))
			return
		}

		s := sessions.Default(c)
		if !loaded.IsNew {
			logger.Debug("session resumed", zap.Time("last_access", LastAccess(s)))
		}
		Touch(s, time.Now())
		if err := s.Save(); err != nil {
			logger.Error("failed to save session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Failure(response.MessageInternalError))
			return
		}
		c.Next()
	}
}
