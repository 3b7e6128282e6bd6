package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind はコンテンツの種類を表す。
type Kind string

const (
	KindArticle  Kind = "article"
	KindAuthor   Kind = "author"
	KindCategory Kind = "category"
	KindIssue    Kind = "issue"
	KindPodcast  Kind = "podcast"
	KindPage     Kind = "page"
	KindUser     Kind = "user"
)

// Kinds は全コンテンツ種別を依存の少ない順に返す。
func Kinds() []Kind {
	return []Kind{KindAuthor, KindCategory, KindIssue, KindPage, KindUser, KindPodcast, KindArticle}
}

// Collection はリモートストア上のディレクトリ名を返す。
func (k Kind) Collection() string {
	if k == KindCategory {
		return "categories"
	}
	return string(k) + "s"
}

// KindFromCollection はディレクトリ名からKindを解決する。
func KindFromCollection(collection string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.Collection() == collection {
			return k, true
		}
	}
	return "", false
}

// Base は全エンティティに共通する属性。
// Slug、Content、Revision はフロントマターには書き出さない。
type Base struct {
	Slug     string `yaml:"-" json:"slug"`
	Content  string `yaml:"-" json:"content"`
	Revision string `yaml:"-" json:"revision,omitempty"`

	// RenamedFrom はリネームで作成されたファイルに旧スラッグを記録する。
	RenamedFrom string `yaml:"renamed_from,omitempty" json:"renamed_from,omitempty"`
}

// Common は埋め込まれたBaseへのポインタを返す。
func (b *Base) Common() *Base { return b }

// Entity はコレクションに格納できるエンティティ。
type Entity interface {
	Kind() Kind
	Common() *Base
	// SlugSource はスラッグ未指定時にスラッグを導出する元の文字列を返す。
	SlugSource() string
	// Validate は必須フィールドを検証する。
	Validate() error
	// RequiredFields はフロントマター上の必須キーを返す。
	RequiredFields() []string
}

// Orderable は表示順を持つエンティティ。
type Orderable interface {
	Entity
	GetOrder() int
	SetOrder(order int)
}

// Ref はエンティティが保持する外部キー。
type Ref struct {
	Kind  Kind
	Slug  string
	Field string
}

// Referrer は他コレクションを参照するエンティティ。
type Referrer interface {
	Entity
	Refs() []Ref
}

// Dated は日付と最終更新日を持つエンティティ。
type Dated interface {
	Entity
	PublishedOn() Date
	LastUpdated() Date
	Touch(day Date)
}

func appendRef(refs []Ref, kind Kind, slug, field string) []Ref {
	if slug == "" {
		return refs
	}
	return append(refs, Ref{Kind: kind, Slug: slug, Field: field})
}

func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return RequiredError(pairs[i])
		}
	}
	return nil
}

const dateLayout = "2006-01-02"

// Date はYYYY-MM-DD形式の日付。常にUTCで保持する。
type Date struct {
	time.Time
}

// NewDate は年月日からDateを生成する。
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf は時刻の日付部分をDateとして返す。
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate はYYYY-MM-DDまたはRFC3339形式の文字列を解析する。
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// MarshalYAML は引用符なしの YYYY-MM-DD として書き出す。
func (d Date) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!timestamp", Value: d.String()}, nil
}

func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDate(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
