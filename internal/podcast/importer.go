// Package podcast は外部のRSSフィードからポッドキャストのエピソードを取り込む。
package podcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/security"
)

// DefaultMaxFeedSize はフィードの最大バイト数。
const DefaultMaxFeedSize int64 = 10 << 20

// Store はエピソードの保存先。content.Store が実装する。
type Store interface {
	List(ctx context.Context) ([]*model.Podcast, error)
	Create(ctx context.Context, e *model.Podcast) (*model.Podcast, error)
}

// ImportObserver は取り込み結果の計測フック。
type ImportObserver interface {
	ObserveImport(source string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveImport(string, error) {}

// Options は取り込んだエピソードに設定する値。
type Options struct {
	Author    string
	Category  string
	Issue     string
	Published bool
	// Limit は新しい順に取り込む最大件数。0は無制限。
	Limit int
}

// Result は取り込み結果。
type Result struct {
	Feed    string            `json:"feed"`
	Created []string          `json:"created"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Importer はRSSフィードのエピソードをpodcastsコレクションに作成する。
// 音声ファイルのURLが既存エピソードと同じ項目は取り込まない。
type Importer struct {
	fetcher  security.Fetcher
	store    Store
	logger   *slog.Logger
	observer ImportObserver
	maxSize  int64
	now      func() time.Time
}

// NewImporter はImporterを生成する。
func NewImporter(fetcher security.Fetcher, store Store, logger *slog.Logger, observer ImportObserver) *Importer {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Importer{
		fetcher:  fetcher,
		store:    store,
		logger:   logger,
		observer: observer,
		maxSize:  DefaultMaxFeedSize,
		now:      time.Now,
	}
}

// Import はフィードを取得して新しいエピソードを作成する。
// 個々のエピソードの作成失敗は Result.Failed に記録し、処理を続ける。
func (im *Importer) Import(ctx context.Context, feedURL string, opts Options) (*Result, error) {
	res, err := im.importFeed(ctx, strings.TrimSpace(feedURL), opts)
	im.observer.ObserveImport("podcast_feed", err)
	return res, err
}

func (im *Importer) importFeed(ctx context.Context, feedURL string, opts Options) (*Result, error) {
	fetched, err := im.fetcher.Fetch(ctx, feedURL, im.maxSize)
	if err != nil {
		if errors.Is(err, security.ErrTooLarge) {
			return nil, model.NewFetchFailedError(fmt.Sprintf("feed exceeds %d bytes", im.maxSize))
		}
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(fetched.Body))
	if err != nil {
		im.logger.Warn("ポッドキャストフィードの解析に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFeedParseFailedError()
	}

	existing, err := im.store.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.Audio] = true
	}

	res := &Result{Feed: feed.Title, Created: []string{}, Skipped: []string{}}
	for _, ep := range Episodes(feed, opts, im.now) {
		if opts.Limit > 0 && len(res.Created) >= opts.Limit {
			break
		}
		if known[ep.Audio] {
			res.Skipped = append(res.Skipped, ep.Title)
			continue
		}
		created, err := im.store.Create(ctx, ep)
		if err != nil {
			if errors.Is(err, model.ErrConflict) {
				res.Skipped = append(res.Skipped, ep.Title)
				continue
			}
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[ep.Title] = err.Error()
			continue
		}
		known[ep.Audio] = true
		res.Created = append(res.Created, created.Slug)
	}

	im.logger.Info("ポッドキャストフィードを取り込みました",
		slog.String("feed_url", feedURL),
		slog.Int("created", len(res.Created)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// Episodes はフィードの項目のうち音声の添付があるものをエピソードに変換する。
// 結果は公開日の新しい順。
func Episodes(feed *gofeed.Feed, opts Options, now func() time.Time) []*model.Podcast {
	cover := feedCover(feed)
	var out []*model.Podcast
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		audio := audioEnclosure(item)
		if audio == "" || strings.TrimSpace(item.Title) == "" {
			continue
		}

		ep := &model.Podcast{
			Title:     strings.TrimSpace(item.Title),
			Date:      itemDate(item, now),
			Audio:     audio,
			Cover:     cover,
			Author:    opts.Author,
			Category:  opts.Category,
			Issue:     opts.Issue,
			Published: opts.Published,
		}
		if item.Image != nil && item.Image.URL != "" {
			ep.Cover = item.Image.URL
		}
		if it := item.ITunesExt; it != nil {
			if it.Image != "" {
				ep.Cover = it.Image
			}
			ep.Duration = ParseDuration(it.Duration)
			ep.Episode, _ = strconv.Atoi(strings.TrimSpace(it.Episode))
		}
		ep.Content = item.Content
		if ep.Content == "" {
			ep.Content = item.Description
		}
		out = append(out, ep)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	return out
}

func audioEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "audio/") {
			return enc.URL
		}
	}
	return ""
}

func feedCover(feed *gofeed.Feed) string {
	if feed.ITunesExt != nil && feed.ITunesExt.Image != "" {
		return feed.ITunesExt.Image
	}
	if feed.Image != nil {
		return feed.Image.URL
	}
	return ""
}

func itemDate(item *gofeed.Item, now func() time.Time) model.Date {
	switch {
	case item.PublishedParsed != nil:
		return model.DateOf(*item.PublishedParsed)
	case item.UpdatedParsed != nil:
		return model.DateOf(*item.UpdatedParsed)
	default:
		return model.DateOf(now())
	}
}

// ParseDuration はiTunesのduration（"3600"、"59:30"、"1:02:03"）を秒数に変換する。
// 解釈できない値は0を返す。
func ParseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
