// Package cleanup は期限切れ認証セッションの定期削除ジョブを提供する。
// cron式のスケジュールでIdentity Storeのセッションを掃除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
// identity.Storeが実装する。
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// Metrics はクリーンアップジョブのメトリクス。
type Metrics interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除対象がない場合もエラーにならず、何度実行しても結果は変わらない。
type CleanupJob struct {
	purger  SessionPurger
	logger  *slog.Logger
	metrics Metrics
	Timeout time.Duration // 1回の実行のタイムアウト（デフォルト: 1分）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(purger SessionPurger, logger *slog.Logger, m Metrics) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		purger:  purger,
		logger:  logger,
		metrics: m,
		Timeout: time.Minute,
	}
}

// Run は期限切れセッションを削除し、削除件数をログとメトリクスに記録する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	deleted, err := j.purger.PurgeExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordSessionsPurged(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Scheduler はcron式に従ってCleanupJobを実行する。
// 前回の実行が終わっていない場合、その回はスキップする。
type Scheduler struct {
	job      *CleanupJob
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// NewScheduler はScheduleを検証してSchedulerを生成する。
// scheduleは5フィールドのcron式または"@every 1h"などの記述子。
func NewScheduler(job *CleanupJob, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	s := &Scheduler{
		job:      job,
		schedule: schedule,
		logger:   logger,
		ctx:      context.Background(),
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("failed to register cleanup job: %w", err)
	}
	return s, nil
}

// Start は起動直後に1回ジョブを実行し、以降スケジュールに従って実行する。
// ctxがキャンセルされると実行中のジョブの完了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("cleanup scheduler started", slog.String("schedule", s.schedule))

	s.runOnce()
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.logger.Info("cleanup scheduler stopped")
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	// エラーはRun内でログ出力済み
	_ = s.job.Run(ctx)
}
