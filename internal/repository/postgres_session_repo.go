package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/inkstand/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const (
	insertSessionSQL = `INSERT INTO sessions (id, user_slug, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`
	findSessionSQL = `SELECT id, user_slug, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`
	deleteSessionSQL      = `DELETE FROM sessions WHERE id = $1`
	deleteUserSessionsSQL = `DELETE FROM sessions WHERE user_slug = $1`
)

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx, insertSessionSQL,
		session.ID, session.UserSlug, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx, findSessionSQL, id).
		Scan(&session.ID, &session.UserSlug, &session.ExpiresAt, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, deleteSessionSQL, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserSlug は指定ユーザーの全セッションを削除する。
// ユーザーがusersコレクションから削除されたときに使う。
func (r *PostgresSessionRepo) DeleteByUserSlug(ctx context.Context, userSlug string) error {
	if _, err := r.db.ExecContext(ctx, deleteUserSessionsSQL, userSlug); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
