package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	removed int64
	err     error
	calls   int
}

func (s *fakeSweeper) SweepExpired(ctx context.Context) (int64, error) {
	s.calls++
	return s.removed, s.err
}

func newTestManager(t *testing.T, sweeper *fakeSweeper) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m, err := NewManager("redis://"+mr.Addr()+"/0", sweeper, NewStore(rdb, time.Hour), time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.client.Close() })

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	return m, mr
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager("redis://127.0.0.1:6379/0", nil, nil, time.Minute, nil)
	assert.Error(t, err)

	_, err = NewManager("redis://127.0.0.1:6379/0", &fakeSweeper{}, nil, 0, nil)
	assert.Error(t, err)

	_, err = NewManager("://bad", &fakeSweeper{}, nil, time.Minute, nil)
	assert.ErrorContains(t, err, "failed to parse redis url")
}

func TestHandleSweepTaskRecordsReport(t *testing.T) {
	sweeper := &fakeSweeper{removed: 3}
	m, _ := newTestManager(t, sweeper)

	report, err := m.LastReport(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report)

	require.NoError(t, m.handleSweepTask(context.Background(), asynq.NewTask(taskTypeSweep, nil)))
	assert.Equal(t, 1, sweeper.calls)

	report, err = m.LastReport(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, StatusSucceeded, report.Status)
	assert.Equal(t, int64(3), report.Removed)
	assert.Nil(t, report.Error)
	assert.True(t, report.FinishedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestHandleSweepTaskFailureSkipsRetry(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	m, mr := newTestManager(t, sweeper)

	err := m.handleSweepTask(context.Background(), asynq.NewTask(taskTypeSweep, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	report, err := m.LastReport(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, StatusFailed, report.Status)
	require.NotNil(t, report.Error)
	assert.Equal(t, "db down", report.Error.Message)

	assert.True(t, mr.Exists(lastReportKey))
	assert.Equal(t, time.Hour, mr.TTL(lastReportKey))
}

func TestHandleSweepTaskWithoutStore(t *testing.T) {
	sweeper := &fakeSweeper{removed: 1}
	m, err := NewManager("redis://127.0.0.1:6379/0", sweeper, nil, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.client.Close() })

	require.NoError(t, m.handleSweepTask(context.Background(), asynq.NewTask(taskTypeSweep, nil)))
	report, err := m.LastReport(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestSweepTaskOptions(t *testing.T) {
	m, _ := newTestManager(t, &fakeSweeper{})
	task := m.newTask()
	assert.Equal(t, taskTypeSweep, task.Type())
	assert.Empty(t, task.Payload())
}

func TestSweepNowEnqueuesOncePerInterval(t *testing.T) {
	m, mr := newTestManager(t, &fakeSweeper{})
	ctx := context.Background()

	id, err := m.SweepNow(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// 同じ間隔内の再投入は重複として無視される
	again, err := m.SweepNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	assert.True(t, mr.Exists("asynq:{"+queueName+"}:t:"+id))
	pending, err := mr.List("asynq:{" + queueName + "}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, pending)
}
