// Package content はリモートストア上のコレクション（記事、著者、カテゴリなど）の
// 読み書きを提供する。1エンティティは <root>/<collection>/<slug>.md の1ファイルに対応する。
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/inkstand/internal/codec"
	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/remote"
	"github.com/hitoshi/inkstand/internal/slug"
)

// DefaultRoot はコレクションを格納するルートディレクトリ。
const DefaultRoot = "public"

const fileExt = ".md"

// Guard は削除前に参照元を検索する。
type Guard interface {
	Check(ctx context.Context, kind model.Kind, slug string) ([]model.Reference, error)
}

// Invalidator は書き込み後のキャッシュ無効化を行う。失敗しても呼び出し元には返さない。
type Invalidator interface {
	Invalidate(ctx context.Context, kind model.Kind, slugs ...string)
}

// Observer はコレクション操作の計測フック。
type Observer interface {
	ObserveMutation(kind, op, outcome string)
	ObserveParseSkip(kind string)
}

// Deps は全コレクションで共有する依存。
type Deps struct {
	Files       remote.FileStore
	Root        string
	Invalidator Invalidator
	Observer    Observer
	Logger      *slog.Logger
	Now         func() time.Time
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, model.Kind, ...string) {}

type nopObserver struct{}

func (nopObserver) ObserveMutation(string, string, string) {}
func (nopObserver) ObserveParseSkip(string)                {}

type nopGuard struct{}

func (nopGuard) Check(context.Context, model.Kind, string) ([]model.Reference, error) {
	return nil, nil
}

// Store は1種類のエンティティのコレクション。
// PT は *T で、model.Entity を実装する必要がある。
type Store[T any, PT interface {
	*T
	model.Entity
}] struct {
	files       remote.FileStore
	root        string
	kind        model.Kind
	guard       Guard
	invalidator Invalidator
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore はStoreを生成する。
func NewStore[T any, PT interface {
	*T
	model.Entity
}](deps Deps) *Store[T, PT] {
	s := &Store[T, PT]{
		files:       deps.Files,
		root:        deps.Root,
		kind:        PT(new(T)).Kind(),
		guard:       nopGuard{},
		invalidator: deps.Invalidator,
		observer:    deps.Observer,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.root == "" {
		s.root = DefaultRoot
	}
	if s.invalidator == nil {
		s.invalidator = nopInvalidator{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetGuard は削除時の参照チェックを設定する。
func (s *Store[T, PT]) SetGuard(g Guard) {
	if g == nil {
		g = nopGuard{}
	}
	s.guard = g
}

// Kind はコレクションのエンティティ種別を返す。
func (s *Store[T, PT]) Kind() model.Kind { return s.kind }

// Orderable はコレクションが表示順を持つかどうかを返す。
func (s *Store[T, PT]) Orderable() bool {
	_, ok := any(PT(new(T))).(model.Orderable)
	return ok
}

func (s *Store[T, PT]) dir() string {
	return remote.Join(s.root, s.kind.Collection())
}

// Path はスラッグに対応するストア上のパスを返す。
func (s *Store[T, PT]) Path(slug string) string {
	return remote.Join(s.dir(), slug+fileExt)
}

// List はコレクションの全エンティティを返す。
// 解析できないファイルはログに記録して読み飛ばす。
// 表示順を持つコレクションはorder順、それ以外はスラッグ順で返す。
func (s *Store[T, PT]) List(ctx context.Context) ([]PT, error) {
	entries, err := s.files.ListFiles(ctx, s.dir())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.kind.Collection(), err)
	}

	items := make([]PT, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name, fileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name, fileExt)
		e, err := s.Get(ctx, name)
		var pe *model.ParseError
		switch {
		case err == nil:
			items = append(items, e)
		case errors.As(err, &pe):
			s.observer.ObserveParseSkip(string(s.kind))
			s.logger.Warn("解析できないコンテンツファイルを読み飛ばしました",
				slog.String("kind", string(s.kind)),
				slog.String("path", entry.Path),
				slog.String("error", err.Error()),
			)
		case errors.Is(err, model.ErrNotFound):
			// 一覧取得後に削除されたファイル
		default:
			return nil, err
		}
	}

	if s.Orderable() {
		sort.SliceStable(items, func(i, j int) bool {
			oi := any(items[i]).(model.Orderable).GetOrder()
			oj := any(items[j]).(model.Orderable).GetOrder()
			if oi != oj {
				return oi < oj
			}
			return items[i].Common().Slug < items[j].Common().Slug
		})
	} else {
		sort.Slice(items, func(i, j int) bool {
			return items[i].Common().Slug < items[j].Common().Slug
		})
	}
	return items, nil
}

// Get はスラッグでエンティティを取得する。存在しない場合はmodel.ErrNotFoundを返す。
func (s *Store[T, PT]) Get(ctx context.Context, key string) (PT, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%s %q: %w", s.kind, key, model.ErrNotFound)
	}
	p := s.Path(key)
	f, err := s.files.ReadFile(ctx, p)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%s %q: %w", s.kind, key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	e := PT(new(T))
	if err := codec.DecodeEntity(f.Content, e); err != nil {
		var pe *model.ParseError
		if errors.As(err, &pe) {
			pe.Path = p
		}
		return nil, err
	}
	e.Common().Slug = key
	e.Common().Revision = f.SHA
	return e, nil
}

// Exists はスラッグが使用済みかどうかを返す。
func (s *Store[T, PT]) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.files.ReadFile(ctx, s.Path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// validKey はパスとして安全なキーかどうかを返す。
// 手作業で追加された正規化前の名前のファイルも読めるよう、スラッグ形式までは要求しない。
func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, "/\\")
}

// resolveSlug は明示的なスラッグまたはタイトルからスラッグを決める。
func resolveSlug(explicit, source string) (string, error) {
	raw := explicit
	if strings.TrimSpace(raw) == "" {
		raw = source
	}
	s := slug.Make(raw)
	if s == "" {
		return "", model.NewValidationError("slug", "cannot be derived from the given title")
	}
	return s, nil
}

// Create は新しいエンティティを作成する。
// スラッグが使用済みの場合はmodel.ErrConflictを返す。
func (s *Store[T, PT]) Create(ctx context.Context, e PT) (PT, error) {
	created, err := s.create(ctx, e)
	s.observer.ObserveMutation(string(s.kind), "create", outcome(err))
	return created, err
}

func (s *Store[T, PT]) create(ctx context.Context, e PT) (PT, error) {
	key, err := resolveSlug(e.Common().Slug, e.SlugSource())
	if err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if d, ok := any(e).(model.Dated); ok && d.LastUpdated().IsZero() {
		d.Touch(d.PublishedOn())
	}
	if o, ok := any(e).(model.Orderable); ok {
		next, err := s.nextOrder(ctx)
		if err != nil {
			return nil, err
		}
		o.SetOrder(next)
	}
	e.Common().RenamedFrom = ""

	sha, err := s.write(ctx, key, e, "", fmt.Sprintf("Create %s %s", s.kind, key))
	if err != nil {
		return nil, err
	}
	e.Common().Slug = key
	e.Common().Revision = sha
	s.invalidator.Invalidate(ctx, s.kind, key)
	return e, nil
}

func (s *Store[T, PT]) nextOrder(ctx context.Context) (int, error) {
	items, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, it := range items {
		if o := any(it).(model.Orderable).GetOrder(); o >= next {
			next = o + 1
		}
	}
	return next, nil
}

func (s *Store[T, PT]) write(ctx context.Context, key string, e PT, sha, message string) (string, error) {
	data, err := codec.EncodeEntity(e)
	if err != nil {
		return "", err
	}
	newSHA, err := s.files.WriteFile(ctx, s.Path(key), data, sha, message)
	if err != nil {
		if sha == "" && errors.Is(err, model.ErrConflict) {
			return "", fmt.Errorf("%s %q already exists: %w", s.kind, key, model.ErrConflict)
		}
		if errors.Is(err, model.ErrConflict) {
			return "", fmt.Errorf("%s %q was modified by someone else: %w", s.kind, key, model.ErrConflict)
		}
		return "", fmt.Errorf("write %s: %w", s.Path(key), err)
	}
	return newSHA, nil
}

// Update はエンティティを更新する。
//
// e.Revision が設定されていてリモートの現在のリビジョンと異なる場合はmodel.ErrConflictを返す。
// newSlug が空でなく現在のスラッグと異なる場合はリネームする。リネームは新しいファイルを
// 作成してから古いファイルを削除する。古いファイルの削除に失敗した場合は新しいエンティティと
// model.ErrRenameIncomplete を返す。
func (s *Store[T, PT]) Update(ctx context.Context, key string, e PT, newSlug string) (PT, error) {
	updated, err := s.update(ctx, key, e, newSlug)
	s.observer.ObserveMutation(string(s.kind), "update", outcome(err))
	return updated, err
}

func (s *Store[T, PT]) update(ctx context.Context, key string, e PT, newSlug string) (PT, error) {
	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rev := e.Common().Revision; rev != "" && rev != current.Common().Revision {
		return nil, fmt.Errorf("%s %q was modified since it was loaded: %w", s.kind, key, model.ErrConflict)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	target := key
	if strings.TrimSpace(newSlug) != "" {
		target = slug.Make(newSlug)
		if target == "" {
			return nil, model.NewValidationError("slug", "is not a valid slug")
		}
	}

	if d, ok := any(e).(model.Dated); ok {
		d.Touch(model.DateOf(s.now()))
	}
	// 表示順はReorderでのみ変更する
	if o, ok := any(e).(model.Orderable); ok {
		o.SetOrder(any(current).(model.Orderable).GetOrder())
	}

	if target == key {
		e.Common().RenamedFrom = ""
		sha, err := s.write(ctx, key, e, current.Common().Revision, fmt.Sprintf("Update %s %s", s.kind, key))
		if err != nil {
			return nil, err
		}
		e.Common().Slug = key
		e.Common().Revision = sha
		s.invalidator.Invalidate(ctx, s.kind, key)
		return e, nil
	}
	return s.rename(ctx, current, e, target)
}

func (s *Store[T, PT]) rename(ctx context.Context, current, e PT, target string) (PT, error) {
	// 参照の検査は削除時のみ。旧スラッグを指す参照はreconcileがdanglingとして報告する
	key := current.Common().Slug
	e.Common().RenamedFrom = key
	sha, err := s.write(ctx, target, e, "", fmt.Sprintf("Rename %s %s to %s", s.kind, key, target))
	if err != nil {
		return nil, err
	}
	e.Common().Slug = target
	e.Common().Revision = sha

	err = s.files.DeleteFile(ctx, s.Path(key), current.Common().Revision, fmt.Sprintf("Rename %s %s to %s", s.kind, key, target))
	s.invalidator.Invalidate(ctx, s.kind, key, target)
	if err != nil {
		s.logger.Error("リネーム後の旧ファイル削除に失敗しました",
			slog.String("kind", string(s.kind)),
			slog.String("from", key),
			slog.String("to", target),
			slog.String("error", err.Error()),
		)
		return e, fmt.Errorf("%w: %s %q copied to %q but the old file remains: %w", model.ErrRenameIncomplete, s.kind, key, target, err)
	}
	return e, nil
}

// ClearRenamedFrom はリネーム元の記録を消す。記録がなければ何もしない。
// 整合性チェックの後始末で使うため、last_update は変更しない。
func (s *Store[T, PT]) ClearRenamedFrom(ctx context.Context, key string) error {
	current, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	from := current.Common().RenamedFrom
	if from == "" {
		return nil
	}
	current.Common().RenamedFrom = ""
	if _, err := s.write(ctx, key, current, current.Common().Revision, fmt.Sprintf("Finish rename of %s %s to %s", s.kind, from, key)); err != nil {
		return err
	}
	s.invalidator.Invalidate(ctx, s.kind, key)
	return nil
}

// Delete はエンティティを削除する。
// 他のエンティティから参照されている場合は *model.RelationConflictError を返す。
func (s *Store[T, PT]) Delete(ctx context.Context, key string) error {
	return s.DeleteAt(ctx, key, "")
}

// DeleteAt はリビジョンを指定してエンティティを削除する。
// revision が空でなく現在のリビジョンと異なる場合はmodel.ErrConflictを返す。
func (s *Store[T, PT]) DeleteAt(ctx context.Context, key, revision string) error {
	err := s.deleteAt(ctx, key, revision)
	s.observer.ObserveMutation(string(s.kind), "delete", outcome(err))
	return err
}

func (s *Store[T, PT]) deleteAt(ctx context.Context, key, revision string) error {
	current, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if revision != "" && revision != current.Common().Revision {
		return fmt.Errorf("%s %q was modified since it was loaded: %w", s.kind, key, model.ErrConflict)
	}

	refs, err := s.guard.Check(ctx, s.kind, key)
	if err != nil {
		return fmt.Errorf("check references of %s %q: %w", s.kind, key, err)
	}
	if len(refs) > 0 {
		return &model.RelationConflictError{Kind: s.kind, Slug: key, Refs: refs}
	}

	if err := s.files.DeleteFile(ctx, s.Path(key), current.Common().Revision, fmt.Sprintf("Delete %s %s", s.kind, key)); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return fmt.Errorf("%s %q was modified by someone else: %w", s.kind, key, model.ErrConflict)
		}
		return fmt.Errorf("delete %s: %w", s.Path(key), err)
	}
	s.invalidator.Invalidate(ctx, s.kind, key)
	return nil
}

// DeleteMany は複数のエンティティを1件ずつ削除する。
// 失敗したものがあっても残りの削除を続ける。
func (s *Store[T, PT]) DeleteMany(ctx context.Context, keys []string) model.BatchResult {
	result := model.BatchResult{Errors: map[string]string{}}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if err := s.Delete(ctx, key); err != nil {
			result.Failed++
			result.Errors[key] = err.Error()
			continue
		}
		result.Deleted++
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result
}

// Reorder はslugsの並び順にorderを0から振り直す。
// slugsはコレクションの全スラッグと過不足なく一致する必要がある。
func (s *Store[T, PT]) Reorder(ctx context.Context, keys []string) error {
	err := s.reorder(ctx, keys)
	s.observer.ObserveMutation(string(s.kind), "reorder", outcome(err))
	return err
}

func (s *Store[T, PT]) reorder(ctx context.Context, keys []string) error {
	if !s.Orderable() {
		return model.NewValidationError("collection", fmt.Sprintf("%s cannot be reordered", s.kind.Collection()))
	}
	items, err := s.List(ctx)
	if err != nil {
		return err
	}
	if err := checkPermutation(items, keys); err != nil {
		return err
	}

	bySlug := make(map[string]PT, len(items))
	for _, it := range items {
		bySlug[it.Common().Slug] = it
	}
	changed := make([]string, 0, len(keys))
	for i, key := range keys {
		it := bySlug[key]
		o := any(it).(model.Orderable)
		if o.GetOrder() == i {
			continue
		}
		o.SetOrder(i)
		if _, err := s.write(ctx, key, it, it.Common().Revision, fmt.Sprintf("Reorder %s", s.kind.Collection())); err != nil {
			if len(changed) > 0 {
				s.invalidator.Invalidate(ctx, s.kind, changed...)
			}
			return err
		}
		changed = append(changed, key)
	}
	s.invalidator.Invalidate(ctx, s.kind, changed...)
	return nil
}

func checkPermutation[PT model.Entity](items []PT, keys []string) error {
	if len(keys) != len(items) {
		return model.NewValidationError("slugs", fmt.Sprintf("expected %d slugs, got %d", len(items), len(keys)))
	}
	existing := make(map[string]bool, len(items))
	for _, it := range items {
		existing[it.Common().Slug] = false
	}
	for _, key := range keys {
		used, ok := existing[key]
		if !ok {
			return model.NewValidationError("slugs", fmt.Sprintf("unknown slug %q", key))
		}
		if used {
			return model.NewValidationError("slugs", fmt.Sprintf("duplicate slug %q", key))
		}
		existing[key] = true
	}
	return nil
}

// Entities は一覧をmodel.Entityとして返す。
func (s *Store[T, PT]) Entities(ctx context.Context) ([]model.Entity, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entity, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

// Entity はスラッグでmodel.Entityを取得する。
func (s *Store[T, PT]) Entity(ctx context.Context, key string) (model.Entity, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrRenameIncomplete):
		return "incomplete"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
