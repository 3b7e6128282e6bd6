package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/inkstand/internal/model"
)

// Invalidator はタグとパスで示されたキャッシュを無効化する。
type Invalidator interface {
	Invalidate(ctx context.Context, set Set) error
}

// Multi は複数のInvalidatorに順に無効化を伝える。
// 1つが失敗しても残りには伝え、エラーはまとめて返す。
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context, set Set) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, set); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FailureObserver は無効化失敗の計測フック。
type FailureObserver interface {
	ObserveInvalidationFailure()
}

// Notifier は書き込み後に呼ばれ、種別とスラッグから無効化対象を導出して伝える。
// 失敗はログに残すだけで呼び出し元には返さない。
type Notifier struct {
	inv      Invalidator
	logger   *slog.Logger
	observer FailureObserver
}

// NewNotifier はNotifierを生成する。observerはnilでもよい。
func NewNotifier(inv Invalidator, logger *slog.Logger, observer FailureObserver) *Notifier {
	return &Notifier{inv: inv, logger: logger, observer: observer}
}

// Invalidate は無効化を実行する。
func (n *Notifier) Invalidate(ctx context.Context, kind model.Kind, slugs ...string) {
	set := Tags(kind, slugs...)
	if n.inv == nil || set.Empty() {
		return
	}
	// リクエストが切断されても無効化は最後まで行う
	if err := n.inv.Invalidate(context.WithoutCancel(ctx), set); err != nil {
		if n.observer != nil {
			n.observer.ObserveInvalidationFailure()
		}
		n.logger.Warn("キャッシュの無効化に失敗しました",
			slog.String("kind", string(kind)),
			slog.Any("tags", set.Tags),
			slog.String("error", err.Error()),
		)
	}
}
