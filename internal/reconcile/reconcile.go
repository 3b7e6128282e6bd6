// Package reconcile はコンテンツリポジトリの整合性を検査し、必要なら修復する。
//
// 対象は次の3種類:
//   - リネームで旧ファイルの削除に失敗し、新旧2つのファイルが残っているもの
//   - リネームは完了しているが renamed_from の記録が残っているもの
//   - 存在しないエンティティへの参照（報告のみ）
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/inkstand/internal/content"
	"github.com/hitoshi/inkstand/internal/model"
)

// FindingKind は検出した不整合の種類。
type FindingKind string

const (
	// KindOrphan はリネーム前の旧ファイルが残っている状態。
	KindOrphan FindingKind = "orphan"
	// KindMarker はリネーム完了後もrenamed_fromが残っている状態。
	KindMarker FindingKind = "marker"
	// KindDangling は存在しないエンティティへの参照。
	KindDangling FindingKind = "dangling"
)

// Status は修復の結果。
type Status string

const (
	StatusPlanned Status = "planned"
	StatusFixed   Status = "fixed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusReport  Status = "report"
)

// Finding は1件の不整合。
type Finding struct {
	Kind       FindingKind
	Collection model.Kind
	Slug       string
	// Target はorphan/markerではリネーム元、danglingでは参照先の種別とスラッグ。
	Target string
	Status Status
	Detail string
}

// Report は検査結果。
type Report struct {
	Findings []Finding
	Applied  bool
}

// Count は種類ごとの件数を返す。
func (r *Report) Count(kind FindingKind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Failed は修復に失敗した件数を返す。
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Findings {
		if f.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Reconciler は全コレクションを走査する。
type Reconciler struct {
	collections []content.Collection
	logger      *slog.Logger
}

// New はReconcilerを生成する。
func New(cols *content.Collections, logger *slog.Logger) *Reconciler {
	return &Reconciler{collections: cols.All(), logger: logger}
}

// Run は不整合を検出する。applyがtrueの場合はorphanとmarkerを修復する。
// orphanの旧ファイルは参照チェック付きで削除するため、参照されていれば残す。
func (r *Reconciler) Run(ctx context.Context, apply bool) (*Report, error) {
	report := &Report{Applied: apply}
	existing := make(map[model.Kind]map[string]bool, len(r.collections))
	entities := make(map[model.Kind][]model.Entity, len(r.collections))

	for _, col := range r.collections {
		list, err := col.Entities(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", col.Kind().Collection(), err)
		}
		slugs := make(map[string]bool, len(list))
		for _, e := range list {
			slugs[e.Common().Slug] = true
		}
		existing[col.Kind()] = slugs
		entities[col.Kind()] = list
	}

	for _, col := range r.collections {
		for _, e := range entities[col.Kind()] {
			from := e.Common().RenamedFrom
			if from == "" {
				continue
			}
			f := Finding{Kind: KindMarker, Collection: col.Kind(), Slug: e.Common().Slug, Target: from, Status: StatusPlanned}
			if existing[col.Kind()][from] {
				f.Kind = KindOrphan
			}
			if apply {
				r.fix(ctx, col, &f)
			}
			report.Findings = append(report.Findings, f)
		}
	}

	for _, col := range r.collections {
		for _, e := range entities[col.Kind()] {
			ref, ok := e.(model.Referrer)
			if !ok {
				continue
			}
			for _, rf := range ref.Refs() {
				if existing[rf.Kind][rf.Slug] {
					continue
				}
				report.Findings = append(report.Findings, Finding{
					Kind:       KindDangling,
					Collection: col.Kind(),
					Slug:       e.Common().Slug,
					Target:     fmt.Sprintf("%s %s", rf.Kind, rf.Slug),
					Status:     StatusReport,
					Detail:     rf.Field,
				})
			}
		}
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Kind != b.Kind {
			return a.Kind > b.Kind
		}
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		return a.Slug < b.Slug
	})
	return report, nil
}

func (r *Reconciler) fix(ctx context.Context, col content.Collection, f *Finding) {
	if f.Kind == KindOrphan {
		if err := col.Delete(ctx, f.Target); err != nil {
			var rce *model.RelationConflictError
			if errors.As(err, &rce) {
				f.Status = StatusSkipped
				f.Detail = err.Error()
				return
			}
			r.failed(f, err)
			return
		}
	}
	if err := col.ClearRenamedFrom(ctx, f.Slug); err != nil {
		r.failed(f, err)
		return
	}
	f.Status = StatusFixed
	r.logger.Info("リネームの後始末をしました",
		slog.String("kind", string(f.Collection)),
		slog.String("slug", f.Slug),
		slog.String("renamed_from", f.Target),
		slog.String("finding", string(f.Kind)),
	)
}

func (r *Reconciler) failed(f *Finding, err error) {
	f.Status = StatusFailed
	f.Detail = err.Error()
	r.logger.Error("整合性の修復に失敗しました",
		slog.String("kind", string(f.Collection)),
		slog.String("slug", f.Slug),
		slog.String("error", err.Error()),
	)
}
