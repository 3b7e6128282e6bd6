package action

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/inkstand/internal/model"
)

// form はフォーム値を読み取り、最初のエラーを保持する。
type form struct {
	v   url.Values
	err error
}

func newForm(v url.Values) *form {
	if v == nil {
		v = url.Values{}
	}
	return &form{v: v}
}

func (f *form) str(key string) string {
	return strings.TrimSpace(f.v.Get(key))
}

// body は本文を返す。改行コードのみ正規化し、空白はそのまま残す。
func (f *form) body(key string) string {
	return strings.ReplaceAll(f.v.Get(key), "\r\n", "\n")
}

// boolean は "true" または "on" を真とする。チェックボックス未送信は偽。
func (f *form) boolean(key string) bool {
	switch strings.ToLower(f.str(key)) {
	case "true", "on":
		return true
	default:
		return false
	}
}

func (f *form) date(key string) model.Date {
	d, err := model.ParseDate(f.str(key))
	if err != nil && f.err == nil {
		f.err = model.NewValidationError(key, "must be a date in YYYY-MM-DD format")
	}
	return d
}

func (f *form) integer(key string) int {
	s := f.str(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if (err != nil || n < 0) && f.err == nil {
		f.err = model.NewValidationError(key, "must be a non-negative number")
	}
	return n
}

func (f *form) base() model.Base {
	return model.Base{
		Slug:     f.str("slug"),
		Content:  f.body("content"),
		Revision: f.str("revision"),
	}
}

// Slugs はフォームからスラッグの一覧を読み取る。
// 複数値（slugs=a&slugs=b）とカンマ区切り（slugs=a,b）の両方を受け付ける。
func Slugs(v url.Values, key string) []string {
	var out []string
	for _, raw := range v[key] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func parseArticle(v url.Values) (*model.Article, error) {
	f := newForm(v)
	a := &model.Article{
		Title:      f.str("title"),
		Subtitle:   f.str("subtitle"),
		Date:       f.date("date"),
		LastUpdate: f.date("last_update"),
		Author:     f.str("author"),
		Category:   f.str("category"),
		Issue:      f.str("issue"),
		Podcast:    f.str("podcast"),
		Image:      f.str("image"),
		Excerpt:    f.str("excerpt"),
		Published:  f.boolean("published"),
		InEvidence: f.boolean("in_evidence"),
		Base:       f.base(),
	}
	return a, f.err
}

func parseAuthor(v url.Values) (*model.Author, error) {
	f := newForm(v)
	return &model.Author{
		Name:  f.str("name"),
		Role:  f.str("role"),
		Email: f.str("email"),
		Image: f.str("image"),
		Base:  f.base(),
	}, f.err
}

func parseCategory(v url.Values) (*model.Category, error) {
	f := newForm(v)
	return &model.Category{
		Name:        f.str("name"),
		Color:       f.str("color"),
		Description: f.str("description"),
		Base:        f.base(),
	}, f.err
}

func parseIssue(v url.Values) (*model.Issue, error) {
	f := newForm(v)
	i := &model.Issue{
		Title:       f.str("title"),
		Date:        f.date("date"),
		Cover:       f.str("cover"),
		Description: f.str("description"),
		Color:       f.str("color"),
		Published:   f.boolean("published"),
		Base:        f.base(),
	}
	return i, f.err
}

func parsePodcast(v url.Values) (*model.Podcast, error) {
	f := newForm(v)
	p := &model.Podcast{
		Title:      f.str("title"),
		Date:       f.date("date"),
		LastUpdate: f.date("last_update"),
		Audio:      f.str("audio"),
		Cover:      f.str("cover"),
		Duration:   f.integer("duration"),
		Episode:    f.integer("episode"),
		Author:     f.str("author"),
		Category:   f.str("category"),
		Issue:      f.str("issue"),
		Published:  f.boolean("published"),
		Base:       f.base(),
	}
	return p, f.err
}

func parsePage(v url.Values) (*model.Page, error) {
	f := newForm(v)
	return &model.Page{
		Title:       f.str("title"),
		Description: f.str("description"),
		Published:   f.boolean("published"),
		Base:        f.base(),
	}, f.err
}

func parseUser(v url.Values) (*model.User, error) {
	f := newForm(v)
	return &model.User{
		Name:  f.str("name"),
		Email: strings.ToLower(f.str("email")),
		Role:  f.str("role"),
		Image: f.str("image"),
		Base:  f.base(),
	}, f.err
}
