package main

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/session-auth/internal/config"
	"github.com/yourusername/session-auth/internal/jobs"
	"github.com/yourusername/session-auth/internal/session"
)

// 掃除結果の保持期間
const sweepReportTTL = 24 * time.Hour

// startSweeper は設定に応じて期限切れセッションの掃除を開始し、停止用の関数を返します。
// キューで掃除する場合は掃除結果を参照できる jobs.Manager も返します（それ以外は nil）。
// Redis ストアは TTL で失効するため掃除は不要です。
func startSweeper(ctx context.Context, cfg *config.Config, store session.Store, rdb *redis.Client, logger *zap.Logger) (*jobs.Manager, func(), error) {
	if cfg.SessionBackend == config.SessionBackendRedis {
		return nil, func() {}, nil
	}

	if cfg.SessionSweeper == config.SweeperQueue {
		manager, err := jobs.NewManager(cfg.RedisURL, store, jobs.NewStore(rdb, sweepReportTTL), cfg.SessionSweepPeriod, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := manager.Start(); err != nil {
			return nil, nil, err
		}
		// 起動直後にも1回掃除する（他のレプリカが投入済みなら何もしない）
		if taskID, err := manager.SweepNow(ctx); err != nil {
			logger.Warn("failed to enqueue initial session sweep", zap.Error(err))
		} else if taskID != "" {
			logger.Info("initial session sweep enqueued", zap.String("task_id", taskID))
		}
		logger.Info("session sweeper scheduled on queue", zap.Duration("interval", cfg.SessionSweepPeriod))
		return manager, func() {
			if err := manager.Shutdown(context.Background()); err != nil {
				logger.Warn("failed to stop sweep queue", zap.Error(err))
			}
		}, nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		session.RunSweeper(sweepCtx, store, cfg.SessionSweepPeriod, logger)
	}()
	logger.Info("session sweeper started", zap.Duration("interval", cfg.SessionSweepPeriod))
	return nil, func() {
		cancel()
		<-done
	}, nil
}
