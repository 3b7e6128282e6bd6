package podcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/inkstand/internal/content"
	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/remote"
	"github.com/hitoshi/inkstand/internal/security"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Voci dal Futuro</title>
    <itunes:image href="https://cdn.example.com/show.jpg"/>
    <item>
      <title>Episodio 1: Inizio</title>
      <pubDate>Mon, 01 Jan 2024 08:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep1.mp3" length="1000" type="audio/mpeg"/>
      <itunes:duration>12:30</itunes:duration>
      <itunes:episode>1</itunes:episode>
      <description>&lt;p&gt;Il primo episodio&lt;/p&gt;</description>
    </item>
    <item>
      <title>Episodio 2: Seguito</title>
      <pubDate>Mon, 08 Jan 2024 08:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep2.mp3" length="1000" type="audio/mpeg"/>
      <itunes:duration>1:02:03</itunes:duration>
      <itunes:episode>2</itunes:episode>
      <itunes:image href="https://cdn.example.com/ep2.jpg"/>
    </item>
    <item>
      <title>Solo testo</title>
      <pubDate>Mon, 15 Jan 2024 08:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

type mockFetcher struct {
	fetchFn func(ctx context.Context, rawURL string, maxBytes int64) (*security.Fetched, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) (*security.Fetched, error) {
	return m.fetchFn(ctx, rawURL, maxBytes)
}

func feedFetcher(body string) *mockFetcher {
	return &mockFetcher{
		fetchFn: func(_ context.Context, rawURL string, _ int64) (*security.Fetched, error) {
			return &security.Fetched{Body: []byte(body), ContentType: "application/rss+xml", FinalURL: rawURL}, nil
		},
	}
}

func newStore() *content.Collections {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return content.NewCollections(content.Deps{Files: remote.NewMemoryStore(), Logger: logger})
}

func newImporter(f security.Fetcher, cols *content.Collections) *Importer {
	im := NewImporter(f, cols.Podcasts, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	im.now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	return im
}

func TestImport_CreatesEpisodes(t *testing.T) {
	cols := newStore()
	im := newImporter(feedFetcher(testFeed), cols)

	res, err := im.Import(context.Background(), "https://feeds.example.com/voci.xml", Options{Author: "mario", Published: true})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if res.Feed != "Voci dal Futuro" {
		t.Errorf("Feed = %q", res.Feed)
	}
	want := []string{"episodio-2-seguito", "episodio-1-inizio"}
	if strings.Join(res.Created, ",") != strings.Join(want, ",") {
		t.Errorf("Created = %v, want %v", res.Created, want)
	}

	ep, err := cols.Podcasts.Get(context.Background(), "episodio-1-inizio")
	if err != nil {
		t.Fatalf("エピソードが作成されていない: %v", err)
	}
	if ep.Audio != "https://cdn.example.com/ep1.mp3" {
		t.Errorf("Audio = %q", ep.Audio)
	}
	if ep.Duration != 750 || ep.Episode != 1 {
		t.Errorf("Duration/Episode = %d/%d, want 750/1", ep.Duration, ep.Episode)
	}
	if ep.Cover != "https://cdn.example.com/show.jpg" {
		t.Errorf("Cover = %q, want feed cover", ep.Cover)
	}
	if ep.Author != "mario" || !ep.Published {
		t.Errorf("Options not applied: author=%q published=%v", ep.Author, ep.Published)
	}
	if !ep.Date.Equal(model.NewDate(2024, time.January, 1).Time) {
		t.Errorf("Date = %v", ep.Date)
	}
	if !strings.Contains(ep.Content, "Il primo episodio") {
		t.Errorf("Content = %q", ep.Content)
	}
}

func TestImport_SkipsKnownAudio(t *testing.T) {
	cols := newStore()
	im := newImporter(feedFetcher(testFeed), cols)
	ctx := context.Background()

	if _, err := im.Import(ctx, "https://feeds.example.com/voci.xml", Options{}); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	res, err := im.Import(ctx, "https://feeds.example.com/voci.xml", Options{})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(res.Created) != 0 || len(res.Skipped) != 2 {
		t.Errorf("Created=%v Skipped=%v, want 0 created and 2 skipped", res.Created, res.Skipped)
	}
}

func TestImport_Limit(t *testing.T) {
	cols := newStore()
	im := newImporter(feedFetcher(testFeed), cols)

	res, err := im.Import(context.Background(), "https://feeds.example.com/voci.xml", Options{Limit: 1})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0] != "episodio-2-seguito" {
		t.Errorf("Created = %v, want newest episode only", res.Created)
	}
}

func TestImport_ParseFailure(t *testing.T) {
	im := newImporter(feedFetcher("<html>not a feed</html>"), newStore())

	_, err := im.Import(context.Background(), "https://example.com/", Options{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFeedParseFailed {
		t.Errorf("expected FEED_PARSE_FAILED, got %v", err)
	}
}

func TestImport_FetchError(t *testing.T) {
	f := &mockFetcher{
		fetchFn: func(context.Context, string, int64) (*security.Fetched, error) {
			return nil, model.NewSSRFBlockedError()
		},
	}
	_, err := newImporter(f, newStore()).Import(context.Background(), "http://10.0.0.1/feed", Options{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSSRFBlocked {
		t.Errorf("expected SSRF_BLOCKED, got %v", err)
	}
}

func TestEpisodes_IgnoresItemsWithoutAudio(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(testFeed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eps := Episodes(feed, Options{}, time.Now)
	if len(eps) != 2 {
		t.Fatalf("len = %d, want 2", len(eps))
	}
	if eps[0].Cover != "https://cdn.example.com/ep2.jpg" {
		t.Errorf("episode cover = %q, want item image", eps[0].Cover)
	}
	if eps[0].Duration != 3723 {
		t.Errorf("Duration = %d, want 3723", eps[0].Duration)
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]int{
		"":        0,
		"3600":    3600,
		"59:30":   3570,
		"1:02:03": 3723,
		"abc":     0,
		"1:2:3:4": 0,
		" 90 ":    90,
		"-5":      0,
	}
	for in, want := range tests {
		if got := ParseDuration(in); got != want {
			t.Errorf("ParseDuration(%q) = %d, want %d", in, got, want)
		}
	}
}
