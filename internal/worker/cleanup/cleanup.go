// Package cleanup はログイン試行ログの保持期間運用ジョブを提供する。
// 保持期間（デフォルト90日）を超過したログイン試行ログを日次バッチで削除する。
// 監査レコード（admin_activities）は削除対象に含めない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LogPruner はログ削除に必要な永続化インターフェース。
// repository.LoginLogRepositoryの部分集合として定義する。
type LogPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeletionRecorder は削除件数のメトリクス記録インターフェース。
type DeletionRecorder interface {
	RecordLogsDeleted(count int64)
}

// CleanupJob は保持期間を超過したログイン試行ログの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	logs          LogPruner
	recorder      DeletionRecorder
	logger        *slog.Logger
	RetentionDays int // ログの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(logs LogPruner, recorder DeletionRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		logs:          logs,
		recorder:      recorder,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過したログイン試行ログを削除する。
// created_atがRetentionDays日前より古いエントリをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune login logs",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to prune login logs: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordLogsDeleted(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("login log cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
