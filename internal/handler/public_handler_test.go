package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/inkstand/internal/cache"
	"github.com/hitoshi/inkstand/internal/model"
)

type seedArticle struct {
	title      string
	day        int
	category   string
	issue      string
	published  bool
	inEvidence bool
	content    string
}

func (env *testEnv) seed(t *testing.T, articles ...seedArticle) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.cols.Authors.Create(ctx, &model.Author{Name: "Mario", Image: "/images/mario.png"}); err != nil {
		t.Fatalf("create author: %v", err)
	}
	for _, name := range []string{"Tech", "Arts"} {
		if _, err := env.cols.Categories.Create(ctx, &model.Category{Name: name}); err != nil {
			t.Fatalf("create category: %v", err)
		}
	}
	for _, s := range articles {
		a := &model.Article{
			Title:      s.title,
			Date:       model.NewDate(2024, time.March, s.day),
			Author:     "mario",
			Category:   s.category,
			Issue:      s.issue,
			Published:  s.published,
			InEvidence: s.inEvidence,
		}
		a.Content = s.content
		if _, err := env.cols.Articles.Create(ctx, a); err != nil {
			t.Fatalf("create article %q: %v", s.title, err)
		}
	}
}

func TestPublic_ArticlesListsPublishedNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		seedArticle{title: "Old", day: 1, category: "tech", published: true, content: "First words"},
		seedArticle{title: "Draft", day: 9, category: "tech"},
		seedArticle{title: "New", day: 5, category: "arts", published: true},
	)

	w := env.do(http.MethodGet, "/api/public/articles", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []articleSummary
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].Slug != "new" || list[1].Slug != "old" {
		t.Fatalf("list = %+v", list)
	}
	if list[1].Author == nil || list[1].Author.Name != "Mario" {
		t.Errorf("author = %+v", list[1].Author)
	}
	if list[1].Category == nil || list[1].Category.Name != "Tech" {
		t.Errorf("category = %+v", list[1].Category)
	}
	if list[1].Excerpt != "First words" {
		t.Errorf("excerpt = %q", list[1].Excerpt)
	}

	w = env.do(http.MethodGet, "/api/public/articles?category=arts", nil, false)
	list = nil
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Slug != "new" {
		t.Errorf("category filter = %+v", list)
	}
}

func TestPublic_ArticleRendersSanitizedHTML(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, seedArticle{
		title:     "Post",
		day:       1,
		category:  "tech",
		published: true,
		content:   "## Intro\n\nHello **world**\n\n<script>alert(1)</script>",
	})

	w := env.do(http.MethodGet, "/api/public/articles/post", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var got struct {
		HTML     string `json:"html"`
		Excerpt  string `json:"excerpt"`
		Headings []struct {
			Text string `json:"text"`
		} `json:"headings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(got.HTML, "<strong>world</strong>") {
		t.Errorf("html = %q", got.HTML)
	}
	if strings.Contains(got.HTML, "<script") {
		t.Errorf("scriptが除去されていない: %q", got.HTML)
	}
	if len(got.Headings) != 1 || got.Headings[0].Text != "Intro" {
		t.Errorf("headings = %+v", got.Headings)
	}
	if got.Excerpt == "" {
		t.Error("excerptが空")
	}
}

func TestPublic_UnpublishedIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, seedArticle{title: "Draft", day: 1, category: "tech"})

	for _, path := range []string{"/api/public/articles/draft", "/api/public/articles/missing", "/api/public/pages/about"} {
		w := env.do(http.MethodGet, path, nil, false)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, w.Code)
			continue
		}
		if body := decodeAPIError(t, w); body.Code != model.ErrCodeContentNotFound {
			t.Errorf("GET %s code = %q", path, body.Code)
		}
	}
}

func TestPublic_CacheIsInvalidatedByAdminUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, seedArticle{title: "Post", day: 1, category: "tech", published: true, content: "v1"})

	first := env.do(http.MethodGet, "/api/public/articles/post", nil, false)
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("1回目 X-Cache = %q", got)
	}
	second := env.do(http.MethodGet, "/api/public/articles/post", nil, false)
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("2回目 X-Cache = %q", got)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("キャッシュの内容が異なる")
	}
	env.do(http.MethodGet, "/api/public/home", nil, false)

	form := url.Values{
		"title": {"Post"}, "date": {"2024-03-01"}, "author": {"mario"},
		"category": {"tech"}, "published": {"true"}, "content": {"v2"},
	}
	if w := env.post("/admin/articles/post", form, true); w.Code != http.StatusOK {
		t.Fatalf("update = %d %s", w.Code, w.Body.String())
	}

	third := env.do(http.MethodGet, "/api/public/articles/post", nil, false)
	if got := third.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("更新後 X-Cache = %q", got)
	}
	if !strings.Contains(third.Body.String(), "v2") {
		t.Errorf("更新後の本文が返らない: %s", third.Body.String())
	}
	if w := env.do(http.MethodGet, "/api/public/home", nil, false); w.Header().Get("X-Cache") != "MISS" {
		t.Error("記事の更新でホームも無効化されること")
	}
}

func TestPublic_Home(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t,
		seedArticle{title: "Cover Story", day: 3, category: "tech", issue: "spring", published: true, inEvidence: true},
		seedArticle{title: "Column", day: 4, category: "arts", published: true},
		seedArticle{title: "Hidden", day: 5, category: "arts", inEvidence: true},
	)
	ctx := context.Background()
	for _, is := range []*model.Issue{
		{Title: "Winter", Date: model.NewDate(2024, time.January, 1), Published: true},
		{Title: "Spring", Date: model.NewDate(2024, time.March, 1), Published: true},
		{Title: "Summer", Date: model.NewDate(2024, time.June, 1)},
	} {
		if _, err := env.cols.Issues.Create(ctx, is); err != nil {
			t.Fatalf("create issue: %v", err)
		}
	}

	w := env.do(http.MethodGet, "/api/public/home", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var home struct {
		Featured []articleSummary `json:"featured"`
		Latest   []articleSummary `json:"latest"`
		Issue    *model.Issue     `json:"issue"`
		Podcasts []podcastSummary `json:"podcasts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &home); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(home.Featured) != 1 || home.Featured[0].Slug != "cover-story" {
		t.Errorf("featured = %+v", home.Featured)
	}
	if len(home.Latest) != 2 || home.Latest[0].Slug != "column" {
		t.Errorf("latest = %+v", home.Latest)
	}
	if home.Issue == nil || home.Issue.Slug != "spring" {
		t.Errorf("issue = %+v", home.Issue)
	}
	if home.Podcasts == nil || len(home.Podcasts) != 0 {
		t.Errorf("podcasts = %+v", home.Podcasts)
	}

	w = env.do(http.MethodGet, "/api/public/issues/spring", nil, false)
	var issue struct {
		Title    string           `json:"title"`
		Articles []articleSummary `json:"articles"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issue); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if issue.Title != "Spring" || len(issue.Articles) != 1 {
		t.Errorf("issue = %+v", issue)
	}

	if w := env.do(http.MethodGet, "/api/public/issues/summer", nil, false); w.Code != http.StatusNotFound {
		t.Errorf("未公開の号 status = %d", w.Code)
	}
}

func TestPublic_PodcastsAndPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ep := &model.Podcast{Title: "Episode 1", Date: model.NewDate(2024, time.May, 1), Audio: "https://cdn.example.com/1.mp3", Duration: 1800, Published: true}
	ep.Content = "Show notes"
	if _, err := env.cols.Podcasts.Create(ctx, ep); err != nil {
		t.Fatalf("create podcast: %v", err)
	}
	page := &model.Page{Title: "About", Published: true}
	page.Content = "We write *things*."
	if _, err := env.cols.Pages.Create(ctx, page); err != nil {
		t.Fatalf("create page: %v", err)
	}

	w := env.do(http.MethodGet, "/api/public/podcasts/episode-1", nil, false)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Show notes") {
		t.Errorf("podcast = %d %s", w.Code, w.Body.String())
	}
	w = env.do(http.MethodGet, "/api/public/pages/about", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("page = %d %s", w.Code, w.Body.String())
	}
	var pageBody struct {
		HTML string `json:"html"`
	}
	if err := json.NewDecoder(w.Body).Decode(&pageBody); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if !strings.Contains(pageBody.HTML, "<em>things</em>") {
		t.Errorf("html = %q", pageBody.HTML)
	}
}

func TestPublic_ResponseBuiltDuringInvalidationIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	page := &model.Page{Title: "About", Published: true}
	page.Content = "v1"
	if _, err := env.cols.Pages.Create(context.Background(), page); err != nil {
		t.Fatalf("create page: %v", err)
	}

	// 読み込み中に別の編集で無効化が走る
	invalidated := false
	env.files.SetFault(func(op, p string) error {
		if op == "read" && p == "public/pages/about.md" && !invalidated {
			invalidated = true
			_ = env.pageCache.Invalidate(context.Background(), cache.Tags(model.KindPage, "about"))
		}
		return nil
	})

	w := env.do(http.MethodGet, "/api/public/pages/about", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if !invalidated {
		t.Fatal("ページの読み込みが行われなかった")
	}
	if _, ok := env.pageCache.Get("/api/public/pages/about"); ok {
		t.Error("無効化をまたいだレスポンスがキャッシュされている")
	}

	w = env.do(http.MethodGet, "/api/public/pages/about", nil, false)
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if _, ok := env.pageCache.Get("/api/public/pages/about"); !ok {
		t.Error("無効化のない組み立てはキャッシュされるべき")
	}
}

func TestPublic_RemoteFailureIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.files.SetFault(func(op, path string) error {
		return &model.TransportError{Op: op, Path: path, StatusCode: 503, Transient: true}
	})

	w := env.do(http.MethodGet, "/api/public/articles", nil, false)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if body := decodeAPIError(t, w); body.Code != model.ErrCodeUnavailable {
		t.Errorf("code = %q", body.Code)
	}
}

func TestLatestIssue(t *testing.T) {
	a := &model.Issue{Title: "A", Date: model.NewDate(2024, time.January, 1)}
	b := &model.Issue{Title: "B"}
	c := &model.Issue{Title: "C", Date: model.NewDate(2024, time.January, 1)}

	if got := latestIssue(nil); got != nil {
		t.Errorf("latestIssue(nil) = %+v", got)
	}
	if got := latestIssue([]*model.Issue{a, b, c}); got != c {
		t.Errorf("latestIssue = %+v, 同じ日付なら後ろの号", got)
	}
}
