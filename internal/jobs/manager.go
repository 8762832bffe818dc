// Package jobs は期限切れセッションの掃除を Asynq の定期タスクとして実行します。
// 複数レプリカで起動しても、同じ間隔のタスクは一意制約により1回だけ実行されます。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/session-auth/internal/session"
)

const (
	taskTypeSweep = "session:sweep"
	queueName     = "maintenance"
)

// Manager は掃除タスクのスケジュールと実行を担います。
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	sweeper   session.Sweeper
	store     *Store
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager は Manager を初期化します。store が nil の場合は結果を保存しません。
func NewManager(redisURL string, sweeper session.Sweeper, store *Store, interval time.Duration, logger *zap.Logger) (*Manager, error) {
	if sweeper == nil {
		return nil, errors.New("sweeper is nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	sugar := logger.Named("asynq").Sugar()
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: sugar,
		},
	)
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger: sugar,
	})

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:    asynq.NewClient(opt),
		server:    server,
		scheduler: scheduler,
		mux:       mux,
		sweeper:   sweeper,
		store:     store,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
	mux.HandleFunc(taskTypeSweep, manager.handleSweepTask)
	return manager, nil
}

// Start は定期タスクを登録し、スケジューラーとワーカーをバックグラウンドで起動します。
func (m *Manager) Start() error {
	if _, err := m.scheduler.Register("@every "+m.interval.String(), m.newTask()); err != nil {
		return fmt.Errorf("failed to register sweep task: %w", err)
	}
	if err := m.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := m.server.Start(m.mux); err != nil {
		m.scheduler.Shutdown()
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// SweepNow は掃除タスクを即時にキューへ投入します。
// 同じ間隔内に投入済みのタスクがある場合は何もしません。
func (m *Manager) SweepNow(ctx context.Context) (string, error) {
	info, err := m.client.EnqueueContext(ctx, m.newTask())
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return "", nil
		}
		return "", err
	}
	return info.ID, nil
}

// LastReport は直近の掃除結果を返します。
func (m *Manager) LastReport(ctx context.Context) (*Report, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.Last(ctx)
}

// Shutdown はスケジューラー・サーバー・クライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	return m.client.Close()
}

func (m *Manager) newTask() *asynq.Task {
	return asynq.NewTask(taskTypeSweep, nil,
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Unique(m.interval),
		asynq.Timeout(m.interval),
	)
}

func (m *Manager) handleSweepTask(ctx context.Context, task *asynq.Task) error {
	report := &Report{StartedAt: m.now().UTC()}
	if id, ok := asynq.GetTaskID(ctx); ok {
		report.TaskID = id
	}

	removed, err := m.sweeper.SweepExpired(ctx)
	report.FinishedAt = m.now().UTC()
	if err != nil {
		report.Status = StatusFailed
		report.Error = &ErrorInfo{Message: err.Error()}
		m.logger.Warn("session sweep failed", zap.Error(err))
	} else {
		report.Status = StatusSucceeded
		report.Removed = removed
		if removed > 0 {
			m.logger.Info("expired sessions removed", zap.Int64("count", removed))
		}
	}

	if m.store != nil {
		if saveErr := m.store.Save(ctx, report); saveErr != nil {
			m.logger.Warn("failed to save sweep report", zap.Error(saveErr))
		}
	}

	if err != nil {
		// 次の周期で再実行されるので再試行しない
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
