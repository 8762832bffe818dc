package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper は期限切れセッションを削除できるストアが実装します。
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// RunSweeper は interval ごとに期限切れセッションを削除します。ctx が終了するまでブロックします。
// リクエスト処理とは独立したゴルーチンで起動してください。
func RunSweeper(ctx context.Context, store Sweeper, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.SweepExpired(ctx)
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", zap.Int64("count", removed))
			}
		}
	}
}
