package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionCleanupJob は期限切れセッションを削除するジョブ。
// セッションの解決時にも期限切れは無効として扱うため、このジョブはテーブルの肥大化を防ぐだけの役割を持つ。
type SessionCleanupJob struct {
	db     Executor
	logger *slog.Logger
}

// NewSessionCleanupJob はSessionCleanupJobを生成する。
func NewSessionCleanupJob(db Executor, logger *slog.Logger) *SessionCleanupJob {
	return &SessionCleanupJob{
		db:     db,
		logger: logger,
	}
}

// Run は期限切れのセッションを削除し、削除件数を返す。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < now()`)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}

	j.logger.Info("expired sessions deleted",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後と以降interval毎にRunを実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup started", slog.Duration("interval", interval))

	// 失敗はRun内でログ済みのため、次回の実行を待つ
	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup stopped")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
