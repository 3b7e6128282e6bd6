package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/hitoshi/inkstand/internal/model"
)

// UserStore はusersコレクションの読み取り操作。content.Store が実装する。
type UserStore interface {
	List(ctx context.Context) ([]*model.User, error)
	Get(ctx context.Context, slug string) (*model.User, error)
}

// CollectionDirectory はusersコレクションを許可リストとして使う Directory。
type CollectionDirectory struct {
	users UserStore
}

// NewCollectionDirectory はCollectionDirectoryを生成する。
func NewCollectionDirectory(users UserStore) *CollectionDirectory {
	return &CollectionDirectory{users: users}
}

// FindByEmail はメールアドレスが一致するユーザーを返す。大文字小文字は区別しない。
func (d *CollectionDirectory) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	users, err := d.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(strings.TrimSpace(u.Email), email) {
			return u, nil
		}
	}
	return nil, nil
}

// FindBySlug はスラッグに対応するユーザーを返す。
func (d *CollectionDirectory) FindBySlug(ctx context.Context, slug string) (*model.User, error) {
	u, err := d.users.Get(ctx, slug)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

var _ Directory = (*CollectionDirectory)(nil)
