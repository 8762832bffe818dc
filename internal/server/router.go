// Package server は gin エンジンの組み立て（ミドルウェアとルーティング）を行います。
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/session-auth/internal/auth"
	"github.com/yourusername/session-auth/internal/jobs"
	"github.com/yourusername/session-auth/internal/password"
	"github.com/yourusername/session-auth/internal/response"
	"github.com/yourusername/session-auth/internal/session"
	"github.com/yourusername/session-auth/internal/users"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダーです。
const RequestIDHeader = "X-Request-ID"

// SweepReporter は直近の期限切れセッション掃除の結果を返します。
type SweepReporter interface {
	LastReport(ctx context.Context) (*jobs.Report, error)
}

// Options は NewRouter の依存関係です。
type Options struct {
	Users              users.Repository
	Sessions           *session.ServerStore
	Hasher             password.Hasher
	Logger             *zap.Logger
	CookieName         string
	CORSAllowedOrigins []string
	// キューで掃除する場合のみ設定（/health に直近の結果を含める）
	Sweeps SweepReporter
}

// NewRouter はミドルウェアとルートを登録した gin エンジンを返します。
func NewRouter(opts Options) (*gin.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	authManager, err := auth.NewManager(opts.Users, opts.Hasher, logger)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(recovery(logger), requestLogger(logger))

	// CORSミドルウェアの設定（クッキーを送るため AllowCredentials が必要）
	if len(opts.CORSAllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = opts.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			RequestIDHeader,
		}
		corsConfig.ExposeHeaders = []string{RequestIDHeader}
		router.Use(cors.New(corsConfig))
	}

	// まずは誰でも叩けるヘルスチェックを登録（セッションは作らない）
	router.GET("/health", handleHealth(opts.Sweeps, logger))

	sessionMiddleware := []gin.HandlerFunc{
		sessions.Sessions(opts.CookieName, opts.Sessions),
		session.Track(opts.Sessions, opts.CookieName, logger),
	}

	// 同じ認証ルートを / と /api/auth の両方に公開する
	for _, prefix := range []string{"/", "/api/auth"} {
		group := router.Group(prefix, sessionMiddleware...)
		group.POST("/register", authManager.Register)
		group.POST("/login", authManager.Login)
		group.POST("/logout", authManager.RequireLogin(), authManager.Logout)
		group.GET("/me", authManager.RequireLogin(), authManager.Me)
	}

	return router, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(sweeps SweepReporter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "session-auth-api",
		}
		if sweeps != nil {
			report, err := sweeps.LastReport(c.Request.Context())
			if err != nil {
				// 掃除結果が読めなくても API 自体は稼働している
				logger.Warn("failed to read sweep report", zap.Error(err))
			} else {
				body["lastSweep"] = report
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// recovery はパニックを zap に記録し、500 のエラーレスポンスを返します。
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		logger.Error("panic recovered",
			zap.Any("panic", rec),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Failure(response.MessageInternalError))
	})
}

// requestLogger はリクエストIDを付与し、1リクエスト1行のアクセスログを出力します。
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
