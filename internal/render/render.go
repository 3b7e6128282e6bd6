// Package render はMarkdown本文を公開API用のHTMLに変換する。
package render

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"github.com/hitoshi/inkstand/internal/security"
)

const (
	// DefaultExcerptLength は抜粋の最大文字数。
	DefaultExcerptLength = 280
	wordsPerMinute       = 200
)

// Heading は本文中の見出し。目次の表示に使う。
type Heading struct {
	Level int    `json:"level"`
	ID    string `json:"id"`
	Text  string `json:"text"`
}

// Rendered は変換結果。
type Rendered struct {
	HTML           string    `json:"html"`
	Excerpt        string    `json:"excerpt"`
	Headings       []Heading `json:"headings,omitempty"`
	ReadingMinutes int       `json:"reading_minutes"`
}

// Renderer はMarkdownをサニタイズ済みHTMLに変換する。
// 本文中の生HTMLはgoldmarkで通し、サニタイザーで許可リスト外を除去する。
type Renderer struct {
	md        goldmark.Markdown
	sanitizer security.Sanitizer
	excerpt   int
}

// NewRenderer はRendererを生成する。
func NewRenderer(sanitizer security.Sanitizer) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Footnote),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		sanitizer: sanitizer,
		excerpt:   DefaultExcerptLength,
	}
}

// Render はMarkdownを変換する。
// 抜粋は変換後のHTMLから取り出すため、Markdown記法は含まれない。
func (r *Renderer) Render(markdown string) (*Rendered, error) {
	src := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, src, doc); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	safe := r.sanitizer.Sanitize(buf.String())
	plain := PlainText(safe)
	return &Rendered{
		HTML:           safe,
		Excerpt:        Truncate(plain, r.excerpt),
		Headings:       headings(doc, src),
		ReadingMinutes: readingMinutes(plain),
	}, nil
}

func headings(doc ast.Node, src []byte) []Heading {
	var out []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		heading := Heading{Level: h.Level, Text: inlineText(h, src)}
		if id, ok := h.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				heading.ID = string(b)
			}
		}
		out = append(out, heading)
		return ast.WalkSkipChildren, nil
	})
	return out
}

// inlineText は見出しなどのインライン要素から表示テキストだけを取り出す。
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// PlainText はHTMLからテキストだけを取り出し、空白を1つにまとめる。
func PlainText(htmlStr string) string {
	z := html.NewTokenizer(strings.NewReader(htmlStr))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "p", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "td", "th", "figcaption":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if n := string(name); (n == "script" || n == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Truncate はテキストを最大maxRunes文字に切り詰める。
// 単語の途中で切らず、切り詰めた場合は末尾に「…」を付ける。
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	cut := maxRunes
	for i := maxRunes; i > maxRunes/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + "…"
}

func readingMinutes(plain string) int {
	words := len(strings.Fields(plain))
	if words == 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}
