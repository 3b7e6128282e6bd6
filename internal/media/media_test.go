package media

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/remote"
	"github.com/hitoshi/inkstand/internal/security"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// mockFetcher はsecurity.Fetcherのモック。
type mockFetcher struct {
	fetchFn func(ctx context.Context, rawURL string, maxBytes int64) (*security.Fetched, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) (*security.Fetched, error) {
	return m.fetchFn(ctx, rawURL, maxBytes)
}

type recordingObserver struct {
	sources []string
	errs    []error
}

func (r *recordingObserver) ObserveImport(source string, err error) {
	r.sources = append(r.sources, source)
	r.errs = append(r.errs, err)
}

func newTestService(files *remote.MemoryStore, fetcher security.Fetcher, maxSize int64, obs ImportObserver) *Service {
	s := NewService(files, fetcher, Config{Root: "public", MaxSize: maxSize}, slog.New(slog.NewTextHandler(io.Discard, nil)), obs)
	s.newID = func() string { return "0d5f0c8e-1111-4222-8333-444455556666" }
	return s
}

func dataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func apiCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func TestUpload_StoresImage(t *testing.T) {
	files := remote.NewMemoryStore()
	s := newTestService(files, nil, 0, nil)

	img, err := s.Upload(context.Background(), dataURL("image/png", pngBytes))
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if img.Path != "/images/0d5f0c8e-1111-4222-8333-444455556666.png" {
		t.Errorf("Path = %q", img.Path)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", img.ContentType)
	}

	f, err := files.ReadFile(context.Background(), "public/images/0d5f0c8e-1111-4222-8333-444455556666.png")
	if err != nil {
		t.Fatalf("画像が保存されていない: %v", err)
	}
	if string(f.Content) != string(pngBytes) {
		t.Error("保存内容がアップロードしたデータと一致しない")
	}
}

func TestUpload_SVG(t *testing.T) {
	s := newTestService(remote.NewMemoryStore(), nil, 0, nil)

	img, err := s.Upload(context.Background(), dataURL("image/svg+xml", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`)))
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.HasSuffix(img.Path, ".svg") {
		t.Errorf("Path = %q, want .svg suffix", img.Path)
	}
}

func TestUpload_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxSize  int64
		wantCode string
	}{
		{"データURLでない", "https://example.com/a.png", 0, model.ErrCodeInvalidImage},
		{"base64でない", "data:image/png,abc", 0, model.ErrCodeInvalidImage},
		{"不正なbase64", "data:image/png;base64,@@@", 0, model.ErrCodeInvalidImage},
		{"空", "data:image/png;base64,", 0, model.ErrCodeInvalidImage},
		{"画像でない", dataURL("image/png", []byte("hello world")), 0, model.ErrCodeInvalidImage},
		{"宣言と中身の不一致", dataURL("image/jpeg", pngBytes), 0, model.ErrCodeInvalidImage},
		{"サイズ超過", dataURL("image/png", pngBytes), 10, model.ErrCodeImageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := remote.NewMemoryStore()
			s := newTestService(files, nil, tt.maxSize, nil)

			_, err := s.Upload(context.Background(), tt.input)
			if got := apiCode(err); got != tt.wantCode {
				t.Errorf("エラーコード = %q, want %q (err=%v)", got, tt.wantCode, err)
			}
			if files.Calls("write") != 0 {
				t.Error("不正な画像が書き込まれた")
			}
		})
	}
}

func TestImport_StoresFetchedImage(t *testing.T) {
	files := remote.NewMemoryStore()
	obs := &recordingObserver{}
	fetcher := &mockFetcher{
		fetchFn: func(_ context.Context, rawURL string, maxBytes int64) (*security.Fetched, error) {
			if rawURL != "https://cdn.example.com/a.png" {
				t.Errorf("rawURL = %q", rawURL)
			}
			if maxBytes != DefaultMaxSize {
				t.Errorf("maxBytes = %d, want %d", maxBytes, DefaultMaxSize)
			}
			return &security.Fetched{Body: pngBytes, ContentType: "image/png; charset=binary", FinalURL: rawURL}, nil
		},
	}
	s := newTestService(files, fetcher, 0, obs)

	img, err := s.Import(context.Background(), "  https://cdn.example.com/a.png ")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.HasPrefix(img.Path, "/images/") {
		t.Errorf("Path = %q", img.Path)
	}
	if len(obs.sources) != 1 || obs.sources[0] != "image" || obs.errs[0] != nil {
		t.Errorf("取り込み結果の記録が不正: %v %v", obs.sources, obs.errs)
	}
}

func TestImport_TooLarge(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFn: func(context.Context, string, int64) (*security.Fetched, error) {
			return nil, security.ErrTooLarge
		},
	}
	obs := &recordingObserver{}
	s := newTestService(remote.NewMemoryStore(), fetcher, 0, obs)

	_, err := s.Import(context.Background(), "https://cdn.example.com/huge.png")
	if got := apiCode(err); got != model.ErrCodeImageTooLarge {
		t.Errorf("エラーコード = %q, want %q", got, model.ErrCodeImageTooLarge)
	}
	if len(obs.errs) != 1 || obs.errs[0] == nil {
		t.Error("失敗が記録されていない")
	}
}

func TestImport_PropagatesGuardError(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFn: func(context.Context, string, int64) (*security.Fetched, error) {
			return nil, model.NewSSRFBlockedError()
		},
	}
	s := newTestService(remote.NewMemoryStore(), fetcher, 0, nil)

	_, err := s.Import(context.Background(), "http://169.254.169.254/")
	if got := apiCode(err); got != model.ErrCodeSSRFBlocked {
		t.Errorf("エラーコード = %q, want %q", got, model.ErrCodeSSRFBlocked)
	}
}

func TestUpload_RemoteFailure(t *testing.T) {
	files := remote.NewMemoryStore()
	files.SetFault(func(op, path string) error {
		if op == "write" {
			return &model.TransportError{Op: op, Path: path, StatusCode: 502, Transient: true}
		}
		return nil
	})
	s := newTestService(files, nil, 0, nil)

	_, err := s.Upload(context.Background(), dataURL("image/png", pngBytes))
	if !errors.Is(err, model.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}
