package content

import (
	"context"

	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/relation"
)

// Collection は型パラメータを持たないコレクション操作。
// 種別をまたいで処理する箇所（公開API、整合性チェック）で使う。
type Collection interface {
	Kind() model.Kind
	Orderable() bool
	Path(slug string) string
	Entities(ctx context.Context) ([]model.Entity, error)
	Entity(ctx context.Context, slug string) (model.Entity, error)
	Delete(ctx context.Context, slug string) error
	DeleteAt(ctx context.Context, slug, revision string) error
	DeleteMany(ctx context.Context, slugs []string) model.BatchResult
	Reorder(ctx context.Context, slugs []string) error
	ClearRenamedFrom(ctx context.Context, slug string) error
}

// Collections は全コレクションをまとめたもの。
type Collections struct {
	Articles   *Store[model.Article, *model.Article]
	Authors    *Store[model.Author, *model.Author]
	Categories *Store[model.Category, *model.Category]
	Issues     *Store[model.Issue, *model.Issue]
	Podcasts   *Store[model.Podcast, *model.Podcast]
	Pages      *Store[model.Page, *model.Page]
	Users      *Store[model.User, *model.User]

	Guard *relation.Guard
}

// NewCollections は全コレクションを生成し、削除時の参照チェックを設定する。
func NewCollections(deps Deps) *Collections {
	c := &Collections{
		Articles:   NewStore[model.Article](deps),
		Authors:    NewStore[model.Author](deps),
		Categories: NewStore[model.Category](deps),
		Issues:     NewStore[model.Issue](deps),
		Podcasts:   NewStore[model.Podcast](deps),
		Pages:      NewStore[model.Page](deps),
		Users:      NewStore[model.User](deps),
	}
	c.Guard = relation.NewGuard(c.Articles, c.Podcasts)

	c.Authors.SetGuard(c.Guard)
	c.Categories.SetGuard(c.Guard)
	c.Issues.SetGuard(c.Guard)
	c.Podcasts.SetGuard(c.Guard)
	return c
}

// All は全コレクションを返す。
func (c *Collections) All() []Collection {
	return []Collection{c.Authors, c.Categories, c.Issues, c.Pages, c.Users, c.Podcasts, c.Articles}
}

// ByKind は種別に対応するコレクションを返す。
func (c *Collections) ByKind(kind model.Kind) (Collection, bool) {
	for _, col := range c.All() {
		if col.Kind() == kind {
			return col, true
		}
	}
	return nil, false
}

var (
	_ Collection      = (*Store[model.Article, *model.Article])(nil)
	_ relation.Source = (*Store[model.Podcast, *model.Podcast])(nil)
)
