package content

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/remote"
)

type recordedInvalidation struct {
	kind  model.Kind
	slugs []string
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []recordedInvalidation
}

func (r *recordingInvalidator) Invalidate(_ context.Context, kind model.Kind, slugs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedInvalidation{kind: kind, slugs: slugs})
}

type countingObserver struct {
	mutations map[string]int
	skipped   int
}

func (o *countingObserver) ObserveMutation(kind, op, outcome string) {
	o.mutations[kind+"/"+op+"/"+outcome]++
}

func (o *countingObserver) ObserveParseSkip(string) { o.skipped++ }

var fixedNow = time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	files *remote.MemoryStore
	inv   *recordingInvalidator
	obs   *countingObserver
	cols  *Collections
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		files: remote.NewMemoryStore(),
		inv:   &recordingInvalidator{},
		obs:   &countingObserver{mutations: map[string]int{}},
	}
	f.cols = NewCollections(Deps{
		Files:       f.files,
		Invalidator: f.inv,
		Observer:    f.obs,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         func() time.Time { return fixedNow },
	})
	return f
}

func newArticle(title, author, category string) *model.Article {
	return &model.Article{
		Title:    title,
		Date:     model.NewDate(2024, time.May, 1),
		Author:   author,
		Category: category,
		Base:     model.Base{Content: "Body of " + title},
	}
}

func TestCreate_DerivesSlugFromTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.cols.Articles.Create(ctx, newArticle("Il Futuro Qui", "mario", "tech"))
	require.NoError(t, err)
	assert.Equal(t, "il-futuro-qui", a.Slug)
	assert.NotEmpty(t, a.Revision)
	assert.Equal(t, a.Date, a.LastUpdate, "作成時のlast_updateはdateと同じ")
	assert.Equal(t, []string{"public/articles/il-futuro-qui.md"}, f.files.Paths())

	got, err := f.cols.Articles.Get(ctx, "il-futuro-qui")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	require.Len(t, f.inv.calls, 1)
	assert.Equal(t, model.KindArticle, f.inv.calls[0].kind)
	assert.Equal(t, []string{"il-futuro-qui"}, f.inv.calls[0].slugs)
}

func TestCreate_ExplicitSlugIsNormalized(t *testing.T) {
	f := newFixture(t)
	a, err := f.cols.Authors.Create(context.Background(), &model.Author{Name: "Mario", Base: model.Base{Slug: "Mario Rossi!"}})
	require.NoError(t, err)
	assert.Equal(t, "mario-rossi", a.Slug)
}

func TestCreate_DuplicateSlugConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cols.Authors.Create(ctx, &model.Author{Name: "Mario Rossi"})
	require.NoError(t, err)

	_, err = f.cols.Authors.Create(ctx, &model.Author{Name: "Mario  Rossi", Role: "x"})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, 1, f.obs.mutations["author/create/conflict"])
}

func TestCreate_ValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	_, err := f.cols.Articles.Create(context.Background(), newArticle("No category", "mario", ""))
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Zero(t, f.files.Calls("write"))

	_, err = f.cols.Pages.Create(context.Background(), &model.Page{Title: "???"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCreate_OrderableAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"Tech", "Culture", "Science"} {
		_, err := f.cols.Categories.Create(ctx, &model.Category{Name: name, Order: 99})
		require.NoError(t, err)
	}
	list, err := f.cols.Categories.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"tech", "culture", "science"}, slugsOf(list))
	assert.Equal(t, 2, list[2].Order)
}

func TestUpdate_InPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.cols.Articles.Create(ctx, newArticle("Hello", "mario", "tech"))
	require.NoError(t, err)

	edit := newArticle("Hello again", "mario", "tech")
	updated, err := f.cols.Articles.Update(ctx, "hello", edit, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Slug, "newSlugが空ならリネームしない")
	assert.NotEqual(t, created.Revision, updated.Revision)
	assert.Equal(t, model.NewDate(2024, time.June, 10), updated.LastUpdate)

	got, err := f.cols.Articles.Get(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello again", got.Title)
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.cols.Pages.Update(context.Background(), "missing", &model.Page{Title: "x"}, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdate_StaleRevisionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.cols.Pages.Create(ctx, &model.Page{Title: "About"})
	require.NoError(t, err)
	staleRevision := created.Revision

	_, err = f.cols.Pages.Update(ctx, "about", &model.Page{Title: "About us"}, "")
	require.NoError(t, err)

	edit := &model.Page{Title: "About me", Base: model.Base{Revision: staleRevision}}
	_, err = f.cols.Pages.Update(ctx, "about", edit, "")
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := f.cols.Pages.Get(ctx, "about")
	require.NoError(t, err)
	assert.Equal(t, "About us", got.Title)
}

func TestUpdate_PreservesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Issues.Create(ctx, &model.Issue{Title: "One"})
	require.NoError(t, err)
	_, err = f.cols.Issues.Create(ctx, &model.Issue{Title: "Two"})
	require.NoError(t, err)

	updated, err := f.cols.Issues.Update(ctx, "two", &model.Issue{Title: "Two (bis)"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Order)
}

func TestUpdate_Rename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Articles.Create(ctx, newArticle("Draft title", "mario", "tech"))
	require.NoError(t, err)

	renamed, err := f.cols.Articles.Update(ctx, "draft-title", newArticle("Final title", "mario", "tech"), "Final Title")
	require.NoError(t, err)
	assert.Equal(t, "final-title", renamed.Slug)
	assert.Equal(t, "draft-title", renamed.RenamedFrom)

	_, err = f.cols.Articles.Get(ctx, "draft-title")
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := f.cols.Articles.Get(ctx, "final-title")
	require.NoError(t, err)
	assert.Equal(t, "Final title", got.Title)

	last := f.inv.calls[len(f.inv.calls)-1]
	assert.Equal(t, []string{"draft-title", "final-title"}, last.slugs)
}

func TestUpdate_RenameToTakenSlugConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Pages.Create(ctx, &model.Page{Title: "A"})
	require.NoError(t, err)
	_, err = f.cols.Pages.Create(ctx, &model.Page{Title: "B"})
	require.NoError(t, err)

	_, err = f.cols.Pages.Update(ctx, "a", &model.Page{Title: "A"}, "b")
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, []string{"public/pages/a.md", "public/pages/b.md"}, f.files.Paths())
}

func TestUpdate_RenameReferencedEntityLeavesReferrers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Authors.Create(ctx, &model.Author{Name: "Mario"})
	require.NoError(t, err)
	_, err = f.cols.Articles.Create(ctx, newArticle("Post", "mario", "tech"))
	require.NoError(t, err)

	renamed, err := f.cols.Authors.Update(ctx, "mario", &model.Author{Name: "Mario R"}, "mario-r")
	require.NoError(t, err)
	assert.Equal(t, "mario-r", renamed.Slug)
	assert.Equal(t, "mario", renamed.RenamedFrom)

	_, err = f.cols.Authors.Get(ctx, "mario")
	assert.ErrorIs(t, err, model.ErrNotFound)
	got, err := f.cols.Authors.Get(ctx, "mario-r")
	require.NoError(t, err)
	assert.Equal(t, "Mario R", got.Name)

	// 記事の参照は書き換えない
	post, err := f.cols.Articles.Get(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, "mario", post.Author)
}

func TestCategories_StoredUnderCategoriesDirectory(t *testing.T) {
	f := newFixture(t)
	_, err := f.cols.Categories.Create(context.Background(), &model.Category{Name: "Tech"})
	require.NoError(t, err)
	assert.Equal(t, "public/categories/tech.md", f.cols.Categories.Path("tech"))
	assert.Equal(t, []string{"public/categories/tech.md"}, f.files.Paths())
}

func TestUpdate_RenameIncompleteWhenOldDeleteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Pages.Create(ctx, &model.Page{Title: "Old"})
	require.NoError(t, err)

	f.files.SetFault(func(op, p string) error {
		if op == "delete" {
			return &model.TransportError{Op: "delete", Path: p, StatusCode: 500, Transient: true}
		}
		return nil
	})
	renamed, err := f.cols.Pages.Update(ctx, "old", &model.Page{Title: "New"}, "new")
	assert.ErrorIs(t, err, model.ErrRenameIncomplete)
	require.NotNil(t, renamed)
	assert.Equal(t, "new", renamed.Slug)
	assert.Equal(t, []string{"public/pages/new.md", "public/pages/old.md"}, f.files.Paths())
}

func TestDelete_GuardedByRelations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Authors.Create(ctx, &model.Author{Name: "Mario"})
	require.NoError(t, err)
	_, err = f.cols.Articles.Create(ctx, newArticle("Post", "mario", "tech"))
	require.NoError(t, err)

	err = f.cols.Authors.Delete(ctx, "mario")
	var rce *model.RelationConflictError
	require.ErrorAs(t, err, &rce)
	assert.True(t, strings.Contains(err.Error(), "used by"))
	assert.Equal(t, []model.Reference{{Collection: "articles", Slug: "post", Field: "author"}}, rce.Refs)

	_, err = f.cols.Authors.Get(ctx, "mario")
	assert.NoError(t, err, "参照されている著者は残ること")

	require.NoError(t, f.cols.Articles.Delete(ctx, "post"))
	require.NoError(t, f.cols.Authors.Delete(ctx, "mario"))
	_, err = f.cols.Authors.Get(ctx, "mario")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteAt_StaleRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Pages.Create(ctx, &model.Page{Title: "P"})
	require.NoError(t, err)

	err = f.cols.Pages.DeleteAt(ctx, "p", "0000")
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.cols.Users.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteMany_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"Tech", "Culture", "Science", "Sport"} {
		_, err := f.cols.Categories.Create(ctx, &model.Category{Name: name})
		require.NoError(t, err)
	}
	_, err := f.cols.Articles.Create(ctx, newArticle("A", "mario", "tech"))
	require.NoError(t, err)
	_, err = f.cols.Articles.Create(ctx, newArticle("B", "mario", "science"))
	require.NoError(t, err)

	res := f.cols.Categories.DeleteMany(ctx, []string{"tech", "culture", "science", "sport", "sport"})
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Failed)
	assert.Contains(t, res.Errors["tech"], "used by")
	assert.Contains(t, res.Errors["science"], "used by")

	list, err := f.cols.Categories.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech", "science"}, slugsOf(list))
}

func TestReorder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C"} {
		_, err := f.cols.Categories.Create(ctx, &model.Category{Name: name})
		require.NoError(t, err)
	}

	require.NoError(t, f.cols.Categories.Reorder(ctx, []string{"c", "a", "b"}))

	list, err := f.cols.Categories.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, slugsOf(list))
	for i, c := range list {
		assert.Equal(t, i, c.Order, "orderは0から連続すること")
	}
}

func TestReorder_RejectsMismatchedSets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, title := range []string{"One", "Two"} {
		_, err := f.cols.Issues.Create(ctx, &model.Issue{Title: title})
		require.NoError(t, err)
	}
	writes := f.files.Calls("write")

	for name, slugs := range map[string][]string{
		"missing":   {"one"},
		"extra":     {"one", "two", "three"},
		"duplicate": {"one", "one"},
		"unknown":   {"one", "zzz"},
	} {
		t.Run(name, func(t *testing.T) {
			err := f.cols.Issues.Reorder(ctx, slugs)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
	assert.Equal(t, writes, f.files.Calls("write"), "検証エラー時は書き込まないこと")
}

func TestReorder_NotOrderable(t *testing.T) {
	f := newFixture(t)
	err := f.cols.Authors.Reorder(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestList_SkipsUnparseableFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.files.Put("public/authors/good.md", []byte("---\nname: Good\n---\n"))
	f.files.Put("public/authors/broken.md", []byte("---\nrole: no name\n---\n"))
	f.files.Put("public/authors/notes.txt", []byte("ignored"))

	list, err := f.cols.Authors.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, slugsOf(list))
	assert.Equal(t, 1, f.obs.skipped)

	_, err = f.cols.Authors.Get(ctx, "broken")
	var pe *model.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "name", pe.Field)
	assert.Equal(t, "public/authors/broken.md", pe.Path)
}

func TestList_PropagatesTransportErrors(t *testing.T) {
	f := newFixture(t)
	f.files.SetFault(func(op, p string) error {
		return &model.TransportError{Op: op, Path: p, StatusCode: 502, Transient: true}
	})
	_, err := f.cols.Articles.List(context.Background())
	assert.True(t, errors.Is(err, model.ErrTransport))
}

func TestCollections_ByKind(t *testing.T) {
	f := newFixture(t)
	col, ok := f.cols.ByKind(model.KindIssue)
	require.True(t, ok)
	assert.True(t, col.Orderable())
	assert.Equal(t, "public/issues/n-1.md", col.Path("n-1"))
}

func slugsOf[PT model.Entity](items []PT) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Common().Slug
	}
	return out
}

func TestClearRenamedFrom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cols.Articles.Create(ctx, newArticle("Draft", "mario", "tech"))
	require.NoError(t, err)
	renamed, err := f.cols.Articles.Update(ctx, "draft", newArticle("Draft", "mario", "tech"), "final")
	require.NoError(t, err)
	require.Equal(t, "draft", renamed.RenamedFrom)

	require.NoError(t, f.cols.Articles.ClearRenamedFrom(ctx, "final"))
	got, err := f.cols.Articles.Get(ctx, "final")
	require.NoError(t, err)
	assert.Empty(t, got.RenamedFrom)
	assert.Equal(t, renamed.LastUpdate, got.LastUpdate)

	writes := f.files.Calls("write")
	require.NoError(t, f.cols.Articles.ClearRenamedFrom(ctx, "final"))
	assert.Equal(t, writes, f.files.Calls("write"), "記録がなければ書き込まない")
}
