package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Progress は1エピソードの再生位置。
type Progress struct {
	ListenerID string    `json:"-"`
	Podcast    string    `json:"podcast"`
	Position   int       `json:"position"`
	Duration   int       `json:"duration"`
	Completed  bool      `json:"completed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Bookmark はエピソード中の位置に付けた印。
type Bookmark struct {
	ID         string    `json:"id"`
	ListenerID string    `json:"-"`
	Podcast    string    `json:"podcast"`
	Position   int       `json:"position"`
	Label      string    `json:"label"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository はSQLiteに再生位置とブックマークを保存する。
type Repository struct {
	db *sql.DB
}

// NewRepository はRepositoryを生成する。
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	findProgressSQL = `
		SELECT listener_id, podcast_slug, position_seconds, duration_seconds, completed, updated_at
		FROM listening_progress
		WHERE listener_id = ? AND podcast_slug = ?`

	upsertProgressSQL = `
		INSERT INTO listening_progress (listener_id, podcast_slug, position_seconds, duration_seconds, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (listener_id, podcast_slug) DO UPDATE SET
			position_seconds = excluded.position_seconds,
			duration_seconds = excluded.duration_seconds,
			completed        = excluded.completed,
			updated_at       = excluded.updated_at`

	touchProgressSQL = `
		INSERT INTO listening_progress (listener_id, podcast_slug, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (listener_id, podcast_slug) DO UPDATE SET updated_at = excluded.updated_at`

	insertBookmarkSQL = `
		INSERT INTO bookmarks (id, listener_id, podcast_slug, position_seconds, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	listBookmarksSQL = `
		SELECT id, listener_id, podcast_slug, position_seconds, label, created_at
		FROM bookmarks
		WHERE listener_id = ? AND podcast_slug = ?
		ORDER BY position_seconds, created_at`

	deleteBookmarkSQL = `DELETE FROM bookmarks WHERE id = ? AND listener_id = ?`
)

// FindProgress は再生位置を返す。未保存の場合はnilを返す。
func (r *Repository) FindProgress(ctx context.Context, listenerID, podcast string) (*Progress, error) {
	p := &Progress{}
	err := r.db.QueryRowContext(ctx, findProgressSQL, listenerID, podcast).Scan(
		&p.ListenerID, &p.Podcast, &p.Position, &p.Duration, &p.Completed, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find progress: %w", err)
	}
	return p, nil
}

// SaveProgress は再生位置を保存する。既存の行は上書きする。
func (r *Repository) SaveProgress(ctx context.Context, p *Progress) error {
	_, err := r.db.ExecContext(ctx, upsertProgressSQL,
		p.ListenerID, p.Podcast, p.Position, p.Duration, p.Completed, p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// AddBookmark はブックマークを追加し、同じエピソードの再生位置の更新時刻を進める。
// 再生位置の行が削除されるとブックマークも削除されるため、行がなければ作成する。
func (r *Repository) AddBookmark(ctx context.Context, b *Bookmark) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := b.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx, touchProgressSQL, b.ListenerID, b.Podcast, now); err != nil {
		return fmt.Errorf("touch progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertBookmarkSQL, b.ID, b.ListenerID, b.Podcast, b.Position, b.Label, now); err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return tx.Commit()
}

// ListBookmarks はエピソードのブックマークを位置順に返す。
func (r *Repository) ListBookmarks(ctx context.Context, listenerID, podcast string) ([]*Bookmark, error) {
	rows, err := r.db.QueryContext(ctx, listBookmarksSQL, listenerID, podcast)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []*Bookmark{}
	for rows.Next() {
		b := &Bookmark{}
		if err := rows.Scan(&b.ID, &b.ListenerID, &b.Podcast, &b.Position, &b.Label, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

// DeleteBookmark はリスナー自身のブックマークを削除する。削除した場合はtrueを返す。
func (r *Repository) DeleteBookmark(ctx context.Context, listenerID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, deleteBookmarkSQL, id, listenerID)
	if err != nil {
		return false, fmt.Errorf("delete bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bookmark: %w", err)
	}
	return n > 0, nil
}
