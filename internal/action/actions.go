package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/inkstand/internal/content"
	"github.com/hitoshi/inkstand/internal/model"
)

// UserFinder はリクエストのログインユーザーを返す。未ログインの場合はnil。
type UserFinder interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// EntityStore はActionsが使うコレクション操作。content.Store が実装する。
type EntityStore[PT model.Entity] interface {
	List(ctx context.Context) ([]PT, error)
	Get(ctx context.Context, slug string) (PT, error)
	Create(ctx context.Context, e PT) (PT, error)
	Update(ctx context.Context, slug string, e PT, newSlug string) (PT, error)
	DeleteAt(ctx context.Context, slug, revision string) error
	DeleteMany(ctx context.Context, slugs []string) model.BatchResult
	Reorder(ctx context.Context, slugs []string) error
	Orderable() bool
}

// Collection は種別をまたいで呼び出せる操作の集合。
type Collection interface {
	Kind() model.Kind
	List(ctx context.Context) Result
	Get(ctx context.Context, slug string) Result
	Create(ctx context.Context, form url.Values) Result
	Update(ctx context.Context, slug string, form url.Values) Result
	Delete(ctx context.Context, slug, revision string) Result
	DeleteMany(ctx context.Context, slugs []string) Result
	Reorder(ctx context.Context, slugs []string) Result
}

// Actions は1つのコレクションに対する操作。
type Actions[PT model.Entity] struct {
	kind      model.Kind
	store     EntityStore[PT]
	parse     func(url.Values) (PT, error)
	users     UserFinder
	adminOnly bool
	logger    *slog.Logger
}

// NewActions はActionsを生成する。adminOnlyがtrueの場合はadmin権限のユーザーのみ操作できる。
func NewActions[PT model.Entity](kind model.Kind, store EntityStore[PT], parse func(url.Values) (PT, error), users UserFinder, adminOnly bool, logger *slog.Logger) *Actions[PT] {
	return &Actions[PT]{
		kind:      kind,
		store:     store,
		parse:     parse,
		users:     users,
		adminOnly: adminOnly,
		logger:    logger,
	}
}

func (a *Actions[PT]) Kind() model.Kind { return a.kind }

func (a *Actions[PT]) label() string {
	k := string(a.kind)
	return strings.ToUpper(k[:1]) + k[1:]
}

// authorize はログインユーザーを確認する。失敗時は返すべき結果とfalseを返す。
func (a *Actions[PT]) authorize(ctx context.Context, op string) (Result, bool) {
	user, err := a.users.CurrentUser(ctx)
	if err != nil {
		return a.fail(op, "", err), false
	}
	if user == nil {
		a.logger.Info("未認証の操作を拒否しました",
			slog.String("kind", string(a.kind)),
			slog.String("op", op),
		)
		return Unauthorized(), false
	}
	if a.adminOnly && user.Role != model.RoleAdmin {
		a.logger.Info("権限のない操作を拒否しました",
			slog.String("kind", string(a.kind)),
			slog.String("op", op),
			slog.String("user", user.Slug),
		)
		return Unauthorized(), false
	}
	return Result{}, true
}

func (a *Actions[PT]) fail(op, slug string, err error) Result {
	r := Fail(err)
	level := slog.LevelWarn
	if errors.Is(err, model.ErrTransport) || (!isExpected(err) && r.ErrorType == ErrorTypeError) {
		level = slog.LevelError
	}
	a.logger.Log(context.Background(), level, "コンテンツ操作に失敗しました",
		slog.String("kind", string(a.kind)),
		slog.String("op", op),
		slog.String("slug", slug),
		slog.String("error_type", string(r.ErrorType)),
		slog.String("error", err.Error()),
	)
	return r
}

func isExpected(err error) bool {
	return errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrConflict) ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrRateLimited) ||
		errors.Is(err, model.ErrRenameIncomplete) ||
		errors.Is(err, model.ErrUnauthorized)
}

// input はフォームを解析し、書き込み前に必須項目を検証する。
func (a *Actions[PT]) input(form url.Values) (PT, error) {
	e, err := a.parse(form)
	if err != nil {
		var zero PT
		return zero, err
	}
	if err := e.Validate(); err != nil {
		var zero PT
		return zero, err
	}
	return e, nil
}

// List は一覧を返す。
func (a *Actions[PT]) List(ctx context.Context) Result {
	if r, ok := a.authorize(ctx, "list"); !ok {
		return r
	}
	items, err := a.store.List(ctx)
	if err != nil {
		return a.fail("list", "", err)
	}
	return OK(items, "")
}

// Get は1件を返す。
func (a *Actions[PT]) Get(ctx context.Context, slug string) Result {
	if r, ok := a.authorize(ctx, "get"); !ok {
		return r
	}
	e, err := a.store.Get(ctx, slug)
	if err != nil {
		return a.fail("get", slug, err)
	}
	return OK(e, "")
}

// Create はフォームから新しいエンティティを作成する。
func (a *Actions[PT]) Create(ctx context.Context, form url.Values) Result {
	if r, ok := a.authorize(ctx, "create"); !ok {
		return r
	}
	e, err := a.input(form)
	if err != nil {
		return a.fail("create", "", err)
	}
	created, err := a.store.Create(ctx, e)
	if err != nil {
		return a.fail("create", e.Common().Slug, err)
	}
	return OK(created, fmt.Sprintf("%s created", a.label()))
}

// Update はエンティティを更新する。フォームの newSlug が空でなければリネームする。
// revision を送ると、読み込み後に他の編集者が更新していた場合は競合になる。
func (a *Actions[PT]) Update(ctx context.Context, slug string, form url.Values) Result {
	if r, ok := a.authorize(ctx, "update"); !ok {
		return r
	}
	e, err := a.input(form)
	if err != nil {
		return a.fail("update", slug, err)
	}
	newSlug := strings.TrimSpace(form.Get("newSlug"))

	updated, err := a.store.Update(ctx, slug, e, newSlug)
	if err != nil {
		r := a.fail("update", slug, err)
		if errors.Is(err, model.ErrRenameIncomplete) {
			r.Data = updated
		}
		return r
	}
	return OK(updated, fmt.Sprintf("%s updated", a.label()))
}

// Delete はエンティティを削除する。参照されている場合は warning になる。
func (a *Actions[PT]) Delete(ctx context.Context, slug, revision string) Result {
	if r, ok := a.authorize(ctx, "delete"); !ok {
		return r
	}
	if err := a.store.DeleteAt(ctx, slug, revision); err != nil {
		return a.fail("delete", slug, err)
	}
	return OK(nil, fmt.Sprintf("%s deleted", a.label()))
}

// DeleteMany は複数のエンティティを削除する。
// 一部が失敗した場合は success=false で、削除できた件数と失敗理由を data に含める。
func (a *Actions[PT]) DeleteMany(ctx context.Context, slugs []string) Result {
	if r, ok := a.authorize(ctx, "delete_many"); !ok {
		return r
	}
	if len(slugs) == 0 {
		return a.fail("delete_many", "", model.NewValidationError("slugs", "select at least one item"))
	}

	res := a.store.DeleteMany(ctx, slugs)
	msg := fmt.Sprintf("Deleted %d of %d %s", res.Deleted, res.Deleted+res.Failed, a.kind.Collection())
	if res.Failed == 0 {
		return OK(res, msg)
	}

	errType := ErrorTypeWarning
	for _, e := range res.Errors {
		if !strings.Contains(e, "used by") {
			errType = ErrorTypeError
			break
		}
	}
	a.logger.Warn("一括削除で削除できない項目がありました",
		slog.String("kind", string(a.kind)),
		slog.Int("deleted", res.Deleted),
		slog.Int("failed", res.Failed),
	)
	return Result{
		Success:   false,
		Data:      res,
		Error:     fmt.Sprintf("%s, %d could not be deleted", msg, res.Failed),
		ErrorType: errType,
		err:       fmt.Errorf("%d deletions failed: %w", res.Failed, model.ErrConflict),
	}
}

// Reorder は表示順を並べ替える。
func (a *Actions[PT]) Reorder(ctx context.Context, slugs []string) Result {
	if r, ok := a.authorize(ctx, "reorder"); !ok {
		return r
	}
	if !a.store.Orderable() {
		return a.fail("reorder", "", model.NewValidationError("collection", fmt.Sprintf("%s cannot be reordered", a.kind.Collection())))
	}
	if err := a.store.Reorder(ctx, slugs); err != nil {
		return a.fail("reorder", "", err)
	}
	return OK(nil, fmt.Sprintf("%s reordered", strings.ToUpper(a.kind.Collection()[:1])+a.kind.Collection()[1:]))
}

// Facade は全コレクションの操作をまとめたもの。
type Facade struct {
	Articles   *Actions[*model.Article]
	Authors    *Actions[*model.Author]
	Categories *Actions[*model.Category]
	Issues     *Actions[*model.Issue]
	Podcasts   *Actions[*model.Podcast]
	Pages      *Actions[*model.Page]
	Users      *Actions[*model.User]
}

// NewFacade はFacadeを生成する。usersコレクションの操作はadmin権限を要求する。
func NewFacade(cols *content.Collections, users UserFinder, logger *slog.Logger) *Facade {
	return &Facade{
		Articles:   NewActions[*model.Article](model.KindArticle, cols.Articles, parseArticle, users, false, logger),
		Authors:    NewActions[*model.Author](model.KindAuthor, cols.Authors, parseAuthor, users, false, logger),
		Categories: NewActions[*model.Category](model.KindCategory, cols.Categories, parseCategory, users, false, logger),
		Issues:     NewActions[*model.Issue](model.KindIssue, cols.Issues, parseIssue, users, false, logger),
		Podcasts:   NewActions[*model.Podcast](model.KindPodcast, cols.Podcasts, parsePodcast, users, false, logger),
		Pages:      NewActions[*model.Page](model.KindPage, cols.Pages, parsePage, users, false, logger),
		Users:      NewActions[*model.User](model.KindUser, cols.Users, parseUser, users, true, logger),
	}
}

// For はコレクション名に対応する操作を返す。
func (f *Facade) For(collection string) (Collection, bool) {
	kind, ok := model.KindFromCollection(collection)
	if !ok {
		return nil, false
	}
	switch kind {
	case model.KindArticle:
		return f.Articles, true
	case model.KindAuthor:
		return f.Authors, true
	case model.KindCategory:
		return f.Categories, true
	case model.KindIssue:
		return f.Issues, true
	case model.KindPodcast:
		return f.Podcasts, true
	case model.KindPage:
		return f.Pages, true
	case model.KindUser:
		return f.Users, true
	}
	return nil, false
}

var _ Collection = (*Actions[*model.Article])(nil)
