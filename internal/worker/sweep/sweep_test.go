package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/linkman/internal/model"
)

type mockSessionRepo struct {
	sweepExpiredFn func(ctx context.Context) (int64, error)
	sweepCalls     int32
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.LinkingSession) error {
	return nil
}

func (m *mockSessionRepo) Consume(ctx context.Context, token string) (*model.LinkingSession, error) {
	return nil, nil
}

func (m *mockSessionRepo) SweepExpired(ctx context.Context) (int64, error) {
	atomic.AddInt32(&m.sweepCalls, 1)
	if m.sweepExpiredFn != nil {
		return m.sweepExpiredFn(ctx)
	}
	return 0, nil
}

type mockSweepMetrics struct {
	swept int64
}

func (m *mockSweepMetrics) RecordSessionsSwept(count int64) {
	m.swept += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// TestJob_Run_RecordsSweptCount は削除件数がログとメトリクスに記録されることを検証する。
func TestJob_Run_RecordsSweptCount(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSessionRepo{
		sweepExpiredFn: func(ctx context.Context) (int64, error) {
			return 7, nil
		},
	}
	metrics := &mockSweepMetrics{}
	job := NewJob(repo, metrics, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if metrics.swept != 7 {
		t.Errorf("metrics swept = %d, want 7", metrics.swept)
	}
	if !strings.Contains(buf.String(), `"swept_count":7`) {
		t.Errorf("log should contain swept_count, got %s", buf.String())
	}
}

// TestJob_Run_NoExpiredSessions は削除対象ゼロでもエラーにならないことを検証する。
func TestJob_Run_NoExpiredSessions(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockSessionRepo{}, nil, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

// TestJob_Run_StorageError はストレージ障害がエラーとして返ることを検証する。
func TestJob_Run_StorageError(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSessionRepo{
		sweepExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	job := NewJob(repo, nil, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("Run should fail on storage error")
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("log should contain error detail, got %s", buf.String())
	}
}

// TestScheduler_Start_RunsImmediatelyAndStopsOnCancel は起動直後の即時実行と
// コンテキストキャンセルでの停止を検証する。
func TestScheduler_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSessionRepo{}
	scheduler := NewScheduler(NewJob(repo, nil, newTestLogger(&buf)), newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx, time.Hour)
		close(done)
	}()

	// 即時実行の確認
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&repo.sweepCalls) == 0 {
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}

	if got := atomic.LoadInt32(&repo.sweepCalls); got != 1 {
		t.Errorf("sweep calls = %d, want 1", got)
	}
}
