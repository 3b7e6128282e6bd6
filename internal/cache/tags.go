// Package cache はコンテンツ変更時のキャッシュ無効化と、公開APIのレスポンスキャッシュを提供する。
package cache

import (
	"fmt"
	"sort"

	"github.com/hitoshi/inkstand/internal/model"
)

// PublicPrefix は公開APIのパスの接頭辞。
const PublicPrefix = "/api/public"

// HomePath はトップページ用の集約レスポンスのパス。
const HomePath = PublicPrefix + "/home"

// Set は無効化対象のタグとパスの集合。
type Set struct {
	Tags  []string `json:"tags"`
	Paths []string `json:"paths"`
}

// Empty は無効化対象がないかどうかを返す。
func (s Set) Empty() bool {
	return len(s.Tags) == 0 && len(s.Paths) == 0
}

// publicRoute は種別ごとの公開パスの形。
type publicRoute struct {
	list   bool
	entity bool
	home   bool
}

var routes = map[model.Kind]publicRoute{
	model.KindArticle:  {list: true, entity: true, home: true},
	model.KindPodcast:  {list: true, entity: true, home: true},
	model.KindIssue:    {list: true, entity: true, home: true},
	model.KindCategory: {list: true, home: true},
	model.KindAuthor:   {list: true, entity: true},
	model.KindPage:     {entity: true},
}

// dependents は表示上ほかの種別に埋め込まれる種別。
// 著者名やカテゴリ名は記事・エピソードのレスポンスにも含まれる。
var dependents = map[model.Kind][]model.Kind{
	model.KindAuthor:   {model.KindArticle, model.KindPodcast},
	model.KindCategory: {model.KindArticle, model.KindPodcast},
	model.KindIssue:    {model.KindArticle, model.KindPodcast},
	model.KindPodcast:  {model.KindArticle},
}

// CollectionTag はコレクション全体のタグ。
func CollectionTag(kind model.Kind) string {
	return kind.Collection()
}

// EntityTag は1エンティティのタグ。
func EntityTag(kind model.Kind, slug string) string {
	return fmt.Sprintf("%s:%s", kind, slug)
}

// ListPath はコレクション一覧の公開パス。
func ListPath(kind model.Kind) string {
	return PublicPrefix + "/" + kind.Collection()
}

// EntityPath はエンティティの公開パス。
func EntityPath(kind model.Kind, slug string) string {
	return ListPath(kind) + "/" + slug
}

// Tags は種別とスラッグから無効化対象を導出する純粋関数。
// 同じ入力には常に同じ（ソート済みの）結果を返す。
func Tags(kind model.Kind, slugs ...string) Set {
	tags := map[string]struct{}{CollectionTag(kind): {}}
	paths := map[string]struct{}{}

	route := routes[kind]
	if route.list {
		paths[ListPath(kind)] = struct{}{}
	}
	if route.home {
		paths[HomePath] = struct{}{}
	}
	for _, s := range slugs {
		if s == "" {
			continue
		}
		tags[EntityTag(kind, s)] = struct{}{}
		if route.entity {
			paths[EntityPath(kind, s)] = struct{}{}
		}
	}
	for _, dep := range dependents[kind] {
		tags[CollectionTag(dep)] = struct{}{}
	}

	return Set{Tags: sortedKeys(tags), Paths: sortedKeys(paths)}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
