package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// recordingExecutor は受け取ったクエリと引数を記録する。
type recordingExecutor struct {
	mu      sync.Mutex
	queries []string
	args    [][]interface{}
	deleted int64
	err     error
	called  chan struct{}
}

func (e *recordingExecutor) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	e.mu.Lock()
	e.queries = append(e.queries, query)
	e.args = append(e.args, args)
	e.mu.Unlock()
	if e.called != nil {
		select {
		case e.called <- struct{}{}:
		default:
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return &fakeResult{rowsAffected: e.deleted}, nil
}

// logEntries はJSONログを1行ずつ読み、msgが一致するエントリを返す。
func logEntries(t *testing.T, buf *bytes.Buffer, msg string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

func TestSessionCleanupJob_DeletesExpiredSessions(t *testing.T) {
	tests := []struct {
		name      string
		retention int
		wantArg   string
	}{
		{"default retention", 0, "1 days"},
		{"custom retention", 90, "90 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exec := &recordingExecutor{deleted: 4}
			job := NewSessionCleanupJob(exec, slog.New(slog.NewJSONHandler(&buf, nil)))
			if tt.retention > 0 {
				job.RetentionDays = tt.retention
			}

			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run() がエラーを返した: %v", err)
			}
			if len(exec.queries) != 1 {
				t.Fatalf("ExecContext の呼び出し回数 = %d, want 1", len(exec.queries))
			}
			if q := exec.queries[0]; !strings.Contains(q, "DELETE FROM sessions") || !strings.Contains(q, "expires_at") {
				t.Errorf("想定外のクエリ: %s", q)
			}
			if got := exec.args[0][0]; got != tt.wantArg {
				t.Errorf("interval引数 = %v, want %q", got, tt.wantArg)
			}
			if job.Name() != "sessions" {
				t.Errorf("Name() = %q, want sessions", job.Name())
			}

			entries := logEntries(t, &buf, "クリーンアップジョブが完了しました")
			if len(entries) != 1 {
				t.Fatalf("完了ログが1件出力されるべき: %s", buf.String())
			}
			e := entries[0]
			if e["target"] != "sessions" || e["deleted_count"] != float64(4) {
				t.Errorf("完了ログの内容が不正: %v", e)
			}
			if _, ok := e["duration_ms"]; !ok {
				t.Error("ログに duration_ms が記録されていない")
			}
		})
	}
}

func TestProgressCleanupJob_PassesCutoffTime(t *testing.T) {
	var buf bytes.Buffer
	exec := &recordingExecutor{deleted: 2}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	job := NewProgressCleanupJob(exec, slog.New(slog.NewJSONHandler(&buf, nil)), func() time.Time { return now })

	if job.RetentionDays != 365 {
		t.Errorf("RetentionDays = %d, want 365", job.RetentionDays)
	}
	job.RetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if !strings.Contains(exec.queries[0], "listening_progress") {
		t.Errorf("クエリに listening_progress が含まれていない: %s", exec.queries[0])
	}
	cutoff, ok := exec.args[0][0].(time.Time)
	if !ok {
		t.Fatalf("第1引数が time.Time ではない: %T", exec.args[0][0])
	}
	if want := now.AddDate(0, 0, -30); !cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", cutoff, want)
	}
	if entries := logEntries(t, &buf, "クリーンアップジョブが完了しました"); len(entries) != 1 || entries[0]["retention_days"] != float64(30) {
		t.Errorf("retention_days=30 の完了ログがない: %s", buf.String())
	}
}

func TestCleanupJob_NothingToDeleteIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	exec := &recordingExecutor{}
	job := NewSessionCleanupJob(exec, slog.New(slog.NewJSONHandler(&buf, nil)))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	entries := logEntries(t, &buf, "クリーンアップジョブが完了しました")
	if len(entries) != 2 || entries[0]["deleted_count"] != float64(0) {
		t.Errorf("0件削除でも完了ログが出力されるべき: %s", buf.String())
	}
}

func TestCleanupJob_DBFailure(t *testing.T) {
	var buf bytes.Buffer
	exec := &recordingExecutor{err: sql.ErrConnDone}
	job := NewProgressCleanupJob(exec, slog.New(slog.NewJSONHandler(&buf, nil)), nil)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), sql.ErrConnDone.Error()) {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	entries := logEntries(t, &buf, "クリーンアップジョブの実行に失敗しました")
	if len(entries) != 1 || entries[0]["level"] != "ERROR" || entries[0]["target"] != "listening_progress" {
		t.Errorf("ERRORレベルの失敗ログが記録されていない: %s", buf.String())
	}
}

func TestSchedule_RunsEveryJobAndStopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	failing := &recordingExecutor{err: sql.ErrConnDone}
	healthy := &recordingExecutor{called: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Schedule(ctx, time.Hour,
			NewSessionCleanupJob(failing, logger),
			NewProgressCleanupJob(healthy, logger, nil),
		)
		close(done)
	}()

	// 先頭のジョブが失敗しても後続は起動直後に実行される
	select {
	case <-healthy.called:
	case <-time.After(time.Second):
		t.Fatal("起動直後にジョブが実行されなかった")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("キャンセル後もScheduleが終了しない")
	}
	failing.mu.Lock()
	defer failing.mu.Unlock()
	if len(failing.queries) != 1 {
		t.Errorf("失敗したジョブの実行回数 = %d, want 1", len(failing.queries))
	}
}
