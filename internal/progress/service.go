package progress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/inkstand/internal/model"
)

const (
	maxLabelLength = 200
	// completionMargin は残りこの秒数以下で聴き終えたとみなす。
	completionMargin = 30
)

// EpisodeFinder は公開中のエピソードを取得する。content.Store が実装する。
type EpisodeFinder interface {
	Get(ctx context.Context, slug string) (*model.Podcast, error)
}

// Service は再生位置とブックマークの操作を提供する。
// 非公開または存在しないエピソードへの操作は EPISODE_NOT_FOUND になる。
type Service struct {
	repo     *Repository
	episodes EpisodeFinder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService はServiceを生成する。
func NewService(repo *Repository, episodes EpisodeFinder, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		episodes: episodes,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// episode は公開中のエピソードを返す。
func (s *Service) episode(ctx context.Context, slug string) (*model.Podcast, error) {
	ep, err := s.episodes.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation) {
			return nil, model.NewEpisodeNotFoundError(slug)
		}
		return nil, err
	}
	if !ep.Published {
		return nil, model.NewEpisodeNotFoundError(slug)
	}
	return ep, nil
}

// GetProgress は再生位置を返す。未保存の場合は位置0を返す。
func (s *Service) GetProgress(ctx context.Context, listenerID, slug string) (*Progress, error) {
	ep, err := s.episode(ctx, slug)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.FindProgress(ctx, listenerID, slug)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &Progress{ListenerID: listenerID, Podcast: slug, Duration: ep.Duration}, nil
	}
	return p, nil
}

// SaveProgress は再生位置を保存する。
// durationが0の場合はエピソードの長さを使う。位置が長さを超える場合は長さに丸める。
func (s *Service) SaveProgress(ctx context.Context, listenerID, slug string, position, duration int) (*Progress, error) {
	if position < 0 {
		return nil, model.NewInvalidProgressError("position must not be negative")
	}
	if duration < 0 {
		return nil, model.NewInvalidProgressError("duration must not be negative")
	}
	ep, err := s.episode(ctx, slug)
	if err != nil {
		return nil, err
	}
	if duration == 0 {
		duration = ep.Duration
	}
	if duration > 0 && position > duration {
		position = duration
	}

	p := &Progress{
		ListenerID: listenerID,
		Podcast:    slug,
		Position:   position,
		Duration:   duration,
		Completed:  duration > 0 && duration-position <= completionMargin,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.repo.SaveProgress(ctx, p); err != nil {
		s.logger.Error("再生位置の保存に失敗しました",
			slog.String("podcast", slug),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return p, nil
}

// ListBookmarks はエピソードのブックマークを返す。
func (s *Service) ListBookmarks(ctx context.Context, listenerID, slug string) ([]*Bookmark, error) {
	if _, err := s.episode(ctx, slug); err != nil {
		return nil, err
	}
	return s.repo.ListBookmarks(ctx, listenerID, slug)
}

// AddBookmark はブックマークを追加する。
func (s *Service) AddBookmark(ctx context.Context, listenerID, slug string, position int, label string) (*Bookmark, error) {
	if position < 0 {
		return nil, model.NewInvalidProgressError("position must not be negative")
	}
	label = strings.TrimSpace(label)
	if utf8.RuneCountInString(label) > maxLabelLength {
		return nil, model.NewInvalidProgressError("label is too long")
	}
	ep, err := s.episode(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ep.Duration > 0 && position > ep.Duration {
		return nil, model.NewInvalidProgressError("position is beyond the end of the episode")
	}

	b := &Bookmark{
		ID:         s.newID(),
		ListenerID: listenerID,
		Podcast:    slug,
		Position:   position,
		Label:      label,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AddBookmark(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBookmark はブックマークを削除する。他のリスナーのブックマークは見つからない扱いになる。
func (s *Service) DeleteBookmark(ctx context.Context, listenerID, id string) error {
	ok, err := s.repo.DeleteBookmark(ctx, listenerID, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewBookmarkNotFoundError(id)
	}
	return nil
}
