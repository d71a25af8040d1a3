// Package sweep は期限切れリンクセッションの自動削除ジョブを提供する。
// TTLを超過したセッションを定期バッチで削除する。削除は衛生管理であり、
// 正当性はConsume側の期限判定だけで保証される。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/linkman/internal/repository"
)

// SweepMetrics は掃除結果の記録インターフェース。
type SweepMetrics interface {
	RecordSessionsSwept(count int64)
}

// Job は期限切れセッションの削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type Job struct {
	sessions repository.LinkSessionRepository
	metrics  SweepMetrics
	logger   *slog.Logger
}

// NewJob は新しいJobを生成する。metricsはnilでもよい。
func NewJob(sessions repository.LinkSessionRepository, metrics SweepMetrics, logger *slog.Logger) *Job {
	return &Job{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run は期限切れセッションを削除する。
// 進行中のConsumeと競合しても安全で、削除対象がない場合もエラーにならない。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	swept, err := j.sessions.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("セッション掃除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッション掃除の実行に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordSessionsSwept(swept)
	}

	duration := time.Since(start)
	j.logger.Info("セッション掃除ジョブが完了しました",
		slog.Int64("swept_count", swept),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Scheduler はセッション掃除ジョブの定期実行を行う。
type Scheduler struct {
	job    *Job
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(job *Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{job: job, logger: logger}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("セッション掃除スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.job.Run(ctx); err != nil {
		s.logger.Error("セッション掃除サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("セッション掃除スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.job.Run(ctx); err != nil {
				s.logger.Error("セッション掃除サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
