// Package relation はコレクション間の参照整合性を削除時に検査する。
package relation

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/inkstand/internal/model"
)

// Source は参照元になりうるコレクション。
type Source interface {
	Kind() model.Kind
	Entities(ctx context.Context) ([]model.Entity, error)
}

// Guard は指定エンティティを参照しているエンティティを探す。
// 参照元コレクションを全件走査するため、件数に比例した時間がかかる。
type Guard struct {
	mu      sync.RWMutex
	sources []Source
}

// NewGuard はGuardを生成する。
func NewGuard(sources ...Source) *Guard {
	return &Guard{sources: sources}
}

// Register は参照元コレクションを追加する。
func (g *Guard) Register(sources ...Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sources = append(g.sources, sources...)
}

// Check はkind/slugを参照している箇所を返す。空なら削除してよい。
func (g *Guard) Check(ctx context.Context, kind model.Kind, slug string) ([]model.Reference, error) {
	g.mu.RLock()
	sources := append([]Source(nil), g.sources...)
	g.mu.RUnlock()

	var refs []model.Reference
	for _, src := range sources {
		if !mayReference(src.Kind(), kind) {
			continue
		}
		entities, err := src.Entities(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", src.Kind().Collection(), err)
		}
		for _, e := range entities {
			r, ok := e.(model.Referrer)
			if !ok {
				continue
			}
			for _, ref := range r.Refs() {
				if ref.Kind == kind && ref.Slug == slug {
					refs = append(refs, model.Reference{
						Collection: src.Kind().Collection(),
						Slug:       e.Common().Slug,
						Field:      ref.Field,
					})
				}
			}
		}
	}
	return refs, nil
}

// referenceMap は参照先の種別ごとに、参照しうるコレクションを表す。
var referenceMap = map[model.Kind][]model.Kind{
	model.KindAuthor:   {model.KindArticle, model.KindPodcast},
	model.KindCategory: {model.KindArticle, model.KindPodcast},
	model.KindIssue:    {model.KindArticle, model.KindPodcast},
	model.KindPodcast:  {model.KindArticle},
}

// ReferencedBy はkindを参照しうるコレクションの種別を返す。
func ReferencedBy(kind model.Kind) []model.Kind {
	return referenceMap[kind]
}

func mayReference(from, to model.Kind) bool {
	for _, k := range referenceMap[to] {
		if k == from {
			return true
		}
	}
	return false
}
