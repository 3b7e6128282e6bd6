// Package repository はPostgreSQLに保存するデータの永続化を提供する。
// コンテンツ本体はGitHubリポジトリに置かれ、ここで扱うのはログインセッションのみ。
package repository

import (
	"context"

	"github.com/hitoshi/inkstand/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserSlug は指定ユーザーの全セッションを削除する。
	DeleteByUserSlug(ctx context.Context, userSlug string) error
}
