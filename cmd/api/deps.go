package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/securecookie"
	"github.com/jmoiron/sqlx"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/session-auth/internal/config"
	"github.com/yourusername/session-auth/internal/database"
	"github.com/yourusername/session-auth/internal/session"
	"github.com/yourusername/session-auth/internal/users"
)

// dependencies は起動時に開き、終了時に閉じる資源です。
type dependencies struct {
	db       *sqlx.DB
	redis    *redis.Client
	users    users.Repository
	sessions *session.ServerStore
	logger   *zap.Logger
}

func setupDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	var backend session.Store
	if cfg.SessionBackend == config.SessionBackendMemory {
		// 開発用: 再起動でユーザーもセッションも消える
		logger.Warn("using in-memory user and session stores")
		deps.users = users.NewMemoryRepository()
		backend = session.NewMemoryStore()
	} else {
		db, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		deps.db = db
		deps.users = users.NewSQLRepository(db)
		backend = session.NewSQLStore(db)
	}

	if cfg.SessionBackend == config.SessionBackendRedis || cfg.SessionSweeper == config.SweeperQueue {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		deps.redis = redis.NewClient(opt)
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
	}
	if cfg.SessionBackend == config.SessionBackendRedis {
		backend = session.NewRedisStore(deps.redis)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// release モードでは config.Validate で弾かれる
		logger.Warn("SESSION_SECRET is not set; sessions will not survive a restart")
		secret = securecookie.GenerateRandomKey(32)
		if secret == nil {
			deps.Close()
			return nil, errors.New("failed to generate session secret")
		}
	}

	store, err := session.NewServerStore(backend, session.ServerStoreOptions{
		Secret: secret,
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.IsRelease(),
	})
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.sessions = store
	return deps, nil
}

// Close は開いた接続を閉じます。
func (d *dependencies) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
