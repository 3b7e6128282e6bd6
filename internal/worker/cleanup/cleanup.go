// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// PostgreSQLの期限切れセッションと、SQLiteに保存した古い再生位置を対象にする。
package cleanup

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

// CleanupJob は保持期間を超過した行を削除するジョブ。冪等に何度実行してもよい。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	name          string
	query         string
	arg           func(days int) interface{}
	RetentionDays int
}

// NewSessionCleanupJob は期限切れからRetentionDays日経過したセッションを削除するジョブを生成する。
func NewSessionCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
		name:   "sessions",
		query:  `DELETE FROM sessions WHERE expires_at < now() - $1::interval`,
		arg: func(days int) interface{} {
			return fmt.Sprintf("%d days", days)
		},
		RetentionDays: 1,
	}
}

// NewProgressCleanupJob はRetentionDays日更新のない再生位置を削除するジョブを生成する。
// 紐づくブックマークはSQLiteのトリガーで一緒に削除される。
// SQLite向けにプレースホルダは ? を使い、基準時刻を引数で渡す。
func NewProgressCleanupJob(db Executor, logger *slog.Logger, now func() time.Time) *CleanupJob {
	if now == nil {
		now = time.Now
	}
	return &CleanupJob{
		db:     db,
		logger: logger,
		name:   "listening_progress",
		query:  `DELETE FROM listening_progress WHERE updated_at < ?`,
		arg: func(days int) interface{} {
			return now().UTC().AddDate(0, 0, -days)
		},
		RetentionDays: 365,
	}
}

// Name は削除対象の名前を返す。
func (j *CleanupJob) Name() string { return j.name }

// Run は保持期間を超過した行を削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, j.query, j.arg(j.RetentionDays))
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("target", j.name),
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("%sのクリーンアップに失敗: %w", j.name, err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("target", j.name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.String("target", j.name),
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Schedule は起動直後に1回、その後intervalごとにジョブを実行する。
// ctxがキャンセルされるまでブロックする。1つのジョブの失敗は他のジョブを止めない。
func Schedule(ctx context.Context, interval time.Duration, jobs ...*CleanupJob) {
	runAll := func() {
		for _, j := range jobs {
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
	runAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runAll()
		}
	}
}
