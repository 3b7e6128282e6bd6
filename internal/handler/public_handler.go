package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/inkstand/internal/cache"
	"github.com/hitoshi/inkstand/internal/content"
	"github.com/hitoshi/inkstand/internal/middleware"
	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/render"
)

const (
	homeFeatured = 5
	homeLatest   = 10
	homePodcasts = 3
)

// PublicHandler は公開済みコンテンツを読者向けに返す。
// レスポンスはPageCacheにタグ付きで保存し、コンテンツ変更時にタグで無効化される。
type PublicHandler struct {
	cols     *content.Collections
	renderer *render.Renderer
	cache    *cache.PageCache
	logger   *slog.Logger
}

// NewPublicHandler はPublicHandlerを生成する。pageCacheがnilの場合はキャッシュしない。
func NewPublicHandler(cols *content.Collections, renderer *render.Renderer, pageCache *cache.PageCache, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		cols:     cols,
		renderer: renderer,
		cache:    pageCache,
		logger:   logger,
	}
}

type authorRef struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type categoryRef struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type articleSummary struct {
	Slug       string       `json:"slug"`
	Title      string       `json:"title"`
	Subtitle   string       `json:"subtitle,omitempty"`
	Date       model.Date   `json:"date"`
	LastUpdate model.Date   `json:"last_update,omitzero"`
	Author     *authorRef   `json:"author,omitempty"`
	Category   *categoryRef `json:"category,omitempty"`
	Issue      string       `json:"issue,omitempty"`
	Podcast    string       `json:"podcast,omitempty"`
	Image      string       `json:"image,omitempty"`
	Excerpt    string       `json:"excerpt"`
	InEvidence bool         `json:"in_evidence"`
}

// body はレンダリング済みの本文。抜粋はsummary側に持つ。
type body struct {
	HTML           string           `json:"html"`
	Headings       []render.Heading `json:"headings,omitempty"`
	ReadingMinutes int              `json:"reading_minutes"`
}

func bodyOf(r *render.Rendered) body {
	return body{HTML: r.HTML, Headings: r.Headings, ReadingMinutes: r.ReadingMinutes}
}

type articleDetail struct {
	articleSummary
	body
}

type podcastSummary struct {
	Slug     string       `json:"slug"`
	Title    string       `json:"title"`
	Date     model.Date   `json:"date"`
	Audio    string       `json:"audio"`
	Cover    string       `json:"cover,omitempty"`
	Duration int          `json:"duration,omitempty"`
	Episode  int          `json:"episode,omitempty"`
	Author   *authorRef   `json:"author,omitempty"`
	Category *categoryRef `json:"category,omitempty"`
	Issue    string       `json:"issue,omitempty"`
	Excerpt  string       `json:"excerpt"`
}

type podcastDetail struct {
	podcastSummary
	body
}

type issueDetail struct {
	*model.Issue
	Articles []articleSummary `json:"articles"`
	Podcasts []podcastSummary `json:"podcasts"`
}

type authorDetail struct {
	*model.Author
	Articles []articleSummary `json:"articles"`
}

type pageDetail struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	render.Rendered
}

type homeResponse struct {
	Featured []articleSummary `json:"featured"`
	Latest   []articleSummary `json:"latest"`
	Issue    *model.Issue     `json:"issue,omitempty"`
	Podcasts []podcastSummary `json:"podcasts"`
}

// serve はキャッシュがあればそれを返し、なければbuildの結果をJSONにしてキャッシュする。
func (h *PublicHandler) serve(w http.ResponseWriter, r *http.Request, tags []string, build func(ctx context.Context) (any, error)) {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	var gen uint64
	if h.cache != nil {
		gen = h.cache.Generation()
		if e, ok := h.cache.Get(key); ok {
			w.Header().Set("Content-Type", e.ContentType)
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(e.Body)
			return
		}
	}

	v, err := build(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.cache != nil && !h.cache.SetIfCurrent(gen, key, body, "application/json", tags...) {
		h.logger.Debug("組み立て中に無効化されたためキャッシュしません", slog.String("path", key))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *PublicHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, model.ErrTransport), errors.Is(err, model.ErrRateLimited):
		h.logger.Warn("公開コンテンツを取得できませんでした",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		err = model.NewUnavailableError()
	default:
		h.logger.Error("公開レスポンスの生成に失敗しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteError(w, err)
}

// lookups は著者とカテゴリの表示名を引くための索引。
type lookups struct {
	authors    map[string]*model.Author
	categories map[string]*model.Category
}

func (h *PublicHandler) lookups(ctx context.Context) (*lookups, error) {
	authors, err := h.cols.Authors.List(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := h.cols.Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	l := &lookups{
		authors:    make(map[string]*model.Author, len(authors)),
		categories: make(map[string]*model.Category, len(categories)),
	}
	for _, a := range authors {
		l.authors[a.Slug] = a
	}
	for _, c := range categories {
		l.categories[c.Slug] = c
	}
	return l, nil
}

func (l *lookups) author(slug string) *authorRef {
	if a, ok := l.authors[slug]; ok {
		return &authorRef{Slug: a.Slug, Name: a.Name, Image: a.Image}
	}
	return nil
}

func (l *lookups) category(slug string) *categoryRef {
	if c, ok := l.categories[slug]; ok {
		return &categoryRef{Slug: c.Slug, Name: c.Name, Color: c.Color}
	}
	return nil
}

// publishedArticles は公開済みの記事を新しい順に返す。
func (h *PublicHandler) publishedArticles(ctx context.Context) ([]*model.Article, error) {
	all, err := h.cols.Articles.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Article, 0, len(all))
	for _, a := range all {
		if a.Published {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	return out, nil
}

func (h *PublicHandler) publishedPodcasts(ctx context.Context) ([]*model.Podcast, error) {
	all, err := h.cols.Podcasts.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Podcast, 0, len(all))
	for _, p := range all {
		if p.Published {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	return out, nil
}

func (h *PublicHandler) publishedIssues(ctx context.Context) ([]*model.Issue, error) {
	all, err := h.cols.Issues.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Issue, 0, len(all))
	for _, i := range all {
		if i.Published {
			out = append(out, i)
		}
	}
	return out, nil
}

// excerpt はフロントマターの抜粋を優先し、なければ本文から作る。
func (h *PublicHandler) excerpt(explicit, markdown string) string {
	if explicit != "" {
		return explicit
	}
	rendered, err := h.renderer.Render(markdown)
	if err != nil {
		return ""
	}
	return rendered.Excerpt
}

func (h *PublicHandler) articleSummary(a *model.Article, l *lookups) articleSummary {
	return articleSummary{
		Slug:       a.Slug,
		Title:      a.Title,
		Subtitle:   a.Subtitle,
		Date:       a.Date,
		LastUpdate: a.LastUpdate,
		Author:     l.author(a.Author),
		Category:   l.category(a.Category),
		Issue:      a.Issue,
		Podcast:    a.Podcast,
		Image:      a.Image,
		Excerpt:    h.excerpt(a.Excerpt, a.Content),
		InEvidence: a.InEvidence,
	}
}

func (h *PublicHandler) podcastSummary(p *model.Podcast, l *lookups) podcastSummary {
	return podcastSummary{
		Slug:     p.Slug,
		Title:    p.Title,
		Date:     p.Date,
		Audio:    p.Audio,
		Cover:    p.Cover,
		Duration: p.Duration,
		Episode:  p.Episode,
		Author:   l.author(p.Author),
		Category: l.category(p.Category),
		Issue:    p.Issue,
		Excerpt:  h.excerpt("", p.Content),
	}
}

func (h *PublicHandler) summarizeArticles(articles []*model.Article, l *lookups, limit int, keep func(*model.Article) bool) []articleSummary {
	out := make([]articleSummary, 0)
	for _, a := range articles {
		if keep != nil && !keep(a) {
			continue
		}
		out = append(out, h.articleSummary(a, l))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *PublicHandler) summarizePodcasts(podcasts []*model.Podcast, l *lookups, limit int, keep func(*model.Podcast) bool) []podcastSummary {
	out := make([]podcastSummary, 0)
	for _, p := range podcasts {
		if keep != nil && !keep(p) {
			continue
		}
		out = append(out, h.podcastSummary(p, l))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// getPublished は公開済みのエンティティを取得する。存在しない場合と非公開の場合は同じ404にする。
func getPublished[T any, PT interface {
	*T
	model.Entity
}](ctx context.Context, store *content.Store[T, PT], slug string, published func(PT) bool) (PT, error) {
	e, err := store.Get(ctx, slug)
	if errors.Is(err, model.ErrNotFound) || (err == nil && !published(e)) {
		var zero PT
		return zero, model.NewContentNotFoundError(store.Kind(), slug)
	}
	return e, err
}

// Home はトップページ用の集約レスポンスを返す。
// GET /api/public/home
func (h *PublicHandler) Home(w http.ResponseWriter, r *http.Request) {
	tags := []string{
		cache.CollectionTag(model.KindArticle),
		cache.CollectionTag(model.KindIssue),
		cache.CollectionTag(model.KindPodcast),
	}
	h.serve(w, r, tags, func(ctx context.Context) (any, error) {
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		articles, err := h.publishedArticles(ctx)
		if err != nil {
			return nil, err
		}
		podcasts, err := h.publishedPodcasts(ctx)
		if err != nil {
			return nil, err
		}
		issues, err := h.publishedIssues(ctx)
		if err != nil {
			return nil, err
		}

		resp := homeResponse{
			Featured: h.summarizeArticles(articles, l, homeFeatured, func(a *model.Article) bool { return a.InEvidence }),
			Latest:   h.summarizeArticles(articles, l, homeLatest, nil),
			Issue:    latestIssue(issues),
			Podcasts: h.summarizePodcasts(podcasts, l, homePodcasts, nil),
		}
		return resp, nil
	})
}

// latestIssue は日付が最も新しい号を返す。日付が同じか未設定の場合は表示順が後ろのもの。
func latestIssue(issues []*model.Issue) *model.Issue {
	var latest *model.Issue
	for _, i := range issues {
		if latest == nil || !i.Date.Before(latest.Date.Time) {
			latest = i
		}
	}
	return latest
}

// ListArticles は公開済みの記事一覧を返す。category、issue、author で絞り込める。
// GET /api/public/articles
func (h *PublicHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category, issue, author := q.Get("category"), q.Get("issue"), q.Get("author")
	h.serve(w, r, []string{cache.CollectionTag(model.KindArticle)}, func(ctx context.Context) (any, error) {
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		articles, err := h.publishedArticles(ctx)
		if err != nil {
			return nil, err
		}
		return h.summarizeArticles(articles, l, 0, func(a *model.Article) bool {
			return (category == "" || a.Category == category) &&
				(issue == "" || a.Issue == issue) &&
				(author == "" || a.Author == author)
		}), nil
	})
}

// GetArticle は記事をHTMLにレンダリングして返す。
// GET /api/public/articles/{slug}
func (h *PublicHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tags := []string{cache.CollectionTag(model.KindArticle), cache.EntityTag(model.KindArticle, slug)}
	h.serve(w, r, tags, func(ctx context.Context) (any, error) {
		a, err := getPublished(ctx, h.cols.Articles, slug, func(a *model.Article) bool { return a.Published })
		if err != nil {
			return nil, err
		}
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		rendered, err := h.renderer.Render(a.Content)
		if err != nil {
			return nil, err
		}
		summary := h.articleSummary(a, l)
		if a.Excerpt != "" {
			rendered.Excerpt = a.Excerpt
		}
		summary.Excerpt = rendered.Excerpt
		return articleDetail{articleSummary: summary, body: bodyOf(rendered)}, nil
	})
}

// ListPodcasts は公開済みのエピソード一覧を返す。
// GET /api/public/podcasts
func (h *PublicHandler) ListPodcasts(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, []string{cache.CollectionTag(model.KindPodcast)}, func(ctx context.Context) (any, error) {
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		podcasts, err := h.publishedPodcasts(ctx)
		if err != nil {
			return nil, err
		}
		return h.summarizePodcasts(podcasts, l, 0, nil), nil
	})
}

// GetPodcast はエピソードと番組ノートを返す。
// GET /api/public/podcasts/{slug}
func (h *PublicHandler) GetPodcast(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tags := []string{cache.CollectionTag(model.KindPodcast), cache.EntityTag(model.KindPodcast, slug)}
	h.serve(w, r, tags, func(ctx context.Context) (any, error) {
		p, err := getPublished(ctx, h.cols.Podcasts, slug, func(p *model.Podcast) bool { return p.Published })
		if err != nil {
			return nil, err
		}
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		rendered, err := h.renderer.Render(p.Content)
		if err != nil {
			return nil, err
		}
		summary := h.podcastSummary(p, l)
		summary.Excerpt = rendered.Excerpt
		return podcastDetail{podcastSummary: summary, body: bodyOf(rendered)}, nil
	})
}

// GetPage は公開済みの固定ページを返す。
// GET /api/public/pages/{slug}
func (h *PublicHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tags := []string{cache.CollectionTag(model.KindPage), cache.EntityTag(model.KindPage, slug)}
	h.serve(w, r, tags, func(ctx context.Context) (any, error) {
		p, err := getPublished(ctx, h.cols.Pages, slug, func(p *model.Page) bool { return p.Published })
		if err != nil {
			return nil, err
		}
		rendered, err := h.renderer.Render(p.Content)
		if err != nil {
			return nil, err
		}
		return pageDetail{Slug: p.Slug, Title: p.Title, Description: p.Description, Rendered: *rendered}, nil
	})
}

// ListCategories はカテゴリを表示順に返す。
// GET /api/public/categories
func (h *PublicHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, []string{cache.CollectionTag(model.KindCategory)}, func(ctx context.Context) (any, error) {
		return h.cols.Categories.List(ctx)
	})
}

// ListIssues は公開済みの号を表示順に返す。
// GET /api/public/issues
func (h *PublicHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, []string{cache.CollectionTag(model.KindIssue)}, func(ctx context.Context) (any, error) {
		return h.publishedIssues(ctx)
	})
}

// GetIssue は号とその号の記事・エピソードを返す。
// GET /api/public/issues/{slug}
func (h *PublicHandler) GetIssue(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tags := []string{
		cache.EntityTag(model.KindIssue, slug),
		cache.CollectionTag(model.KindArticle),
		cache.CollectionTag(model.KindPodcast),
	}
	h.serve(w, r, tags, func(ctx context.Context) (any, error) {
		issue, err := getPublished(ctx, h.cols.Issues, slug, func(i *model.Issue) bool { return i.Published })
		if err != nil {
			return nil, err
		}
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		articles, err := h.publishedArticles(ctx)
		if err != nil {
			return nil, err
		}
		podcasts, err := h.publishedPodcasts(ctx)
		if err != nil {
			return nil, err
		}
		return issueDetail{
			Issue:    issue,
			Articles: h.summarizeArticles(articles, l, 0, func(a *model.Article) bool { return a.Issue == slug }),
			Podcasts: h.summarizePodcasts(podcasts, l, 0, func(p *model.Podcast) bool { return p.Issue == slug }),
		}, nil
	})
}

// ListAuthors は著者一覧を返す。
// GET /api/public/authors
func (h *PublicHandler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, []string{cache.CollectionTag(model.KindAuthor)}, func(ctx context.Context) (any, error) {
		return h.cols.Authors.List(ctx)
	})
}

// GetAuthor は著者とその公開済み記事を返す。
// GET /api/public/authors/{slug}
func (h *PublicHandler) GetAuthor(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tags := []string{cache.EntityTag(model.KindAuthor, slug), cache.CollectionTag(model.KindArticle)}
	h.serve(w, r, tags, func(ctx context.Context) (any, error) {
		author, err := getPublished(ctx, h.cols.Authors, slug, func(*model.Author) bool { return true })
		if err != nil {
			return nil, err
		}
		l, err := h.lookups(ctx)
		if err != nil {
			return nil, err
		}
		articles, err := h.publishedArticles(ctx)
		if err != nil {
			return nil, err
		}
		return authorDetail{
			Author:   author,
			Articles: h.summarizeArticles(articles, l, 0, func(a *model.Article) bool { return a.Author == slug }),
		}, nil
	})
}
