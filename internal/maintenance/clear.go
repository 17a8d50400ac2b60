// Package maintenance は運用時に手動で実行するデータ保守ジョブを提供する。
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ClearListingsJob はマーケットプレイスの全出品を削除するジョブ。
// ユーザーとセッションは削除しない。
type ClearListingsJob struct {
	db     Executor
	logger *slog.Logger
}

// NewClearListingsJob はClearListingsJobを生成する。
func NewClearListingsJob(db Executor, logger *slog.Logger) *ClearListingsJob {
	return &ClearListingsJob{
		db:     db,
		logger: logger,
	}
}

// Run は全出品を削除し、削除件数を返す。
// 冪等: 出品がない場合でもエラーにならない。
func (j *ClearListingsJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM listings`)
	if err != nil {
		j.logger.Error("clear listings failed",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to clear listings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}

	j.logger.Info("listings cleared",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
