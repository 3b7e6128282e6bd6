// Package security はアプリケーションのセキュリティ機能を提供する。
//
// HTMLSanitizer はMarkdownから生成した記事HTMLを公開API用にサニタイズする。
// bluemondayの許可リストポリシーで、本文の表現に必要なタグと属性だけを通過させる。
package security

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTMLのサニタイズ機能のインターフェース。
type Sanitizer interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
	// 空文字列の入力には空文字列を返す。同一入力には常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// codeLanguageClass はgoldmarkが付けるコードブロックの言語クラス。
var codeLanguageClass = regexp.MustCompile(`^language-[a-zA-Z0-9_+-]+$`)

// HTMLSanitizer はSanitizerの実装。ポリシーはスレッドセーフに共有できる。
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

// NewHTMLSanitizer は記事本文用のポリシーでHTMLSanitizerを生成する。
// ポリシーの内容:
//   - 見出し、段落、リスト、引用、コード、表、強調、区切り線を許可
//   - script, iframe, style および全てのon*イベント属性は除去
//   - aのhrefは http, https, mailto と相対URLのみ。外部リンクには target="_blank" と rel="noopener noreferrer" を付与
//   - imgのsrcは https と相対URL（リポジトリ内の /images/...）のみ
func NewHTMLSanitizer() *HTMLSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del", "sup", "sub",
		"table", "thead", "tbody", "tr",
		"figure", "figcaption",
	)
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|center|right)$`)).OnElements("th", "td")
	p.AllowAttrs("class").Matching(codeLanguageClass).OnElements("code")
	p.AllowAttrs("id").Matching(bluemonday.Paragraph).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")

	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnFullyQualifiedLinks(true)

	p.AllowAttrs("alt", "title").OnElements("img")
	p.AllowAttrs("src").OnElements("img")

	return &HTMLSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。
// httpのimgは混在コンテンツになるため、ポリシー適用前に要素ごと取り除く。
func (s *HTMLSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(dropInsecureImages(rawHTML))
}

var insecureImage = regexp.MustCompile(`(?i)<img\b[^>]*\bsrc\s*=\s*["']?\s*http://[^>]*>`)

func dropInsecureImages(rawHTML string) string {
	if !strings.Contains(strings.ToLower(rawHTML), "http://") {
		return rawHTML
	}
	return insecureImage.ReplaceAllString(rawHTML, "")
}
