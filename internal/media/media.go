// Package media は記事やエピソードで使う画像をコンテンツリポジトリに保存する。
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/remote"
	"github.com/hitoshi/inkstand/internal/security"
)

const (
	// DefaultMaxSize は画像の最大バイト数（5MiB）。
	DefaultMaxSize int64 = 5 << 20
	// Dir はルート直下の画像ディレクトリ。
	Dir = "images"
)

// extensions は受け付ける画像形式と保存時の拡張子。
var extensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

// ImportObserver は取り込み結果の計測フック。
type ImportObserver interface {
	ObserveImport(source string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveImport(string, error) {}

// Image は保存した画像。Path はフロントマターの image/cover に書く公開パス。
type Image struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Config はServiceの設定。
type Config struct {
	Root    string
	MaxSize int64
}

// Service は画像のアップロードとURLからの取り込みを行う。
type Service struct {
	files    remote.FileStore
	fetcher  security.Fetcher
	root     string
	maxSize  int64
	logger   *slog.Logger
	observer ImportObserver
	newID    func() string
}

// NewService はServiceを生成する。
func NewService(files remote.FileStore, fetcher security.Fetcher, config Config, logger *slog.Logger, observer ImportObserver) *Service {
	s := &Service{
		files:    files,
		fetcher:  fetcher,
		root:     config.Root,
		maxSize:  config.MaxSize,
		logger:   logger,
		observer: observer,
		newID:    func() string { return uuid.NewString() },
	}
	if s.root == "" {
		s.root = "public"
	}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxSize
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Upload は "data:image/png;base64,..." 形式のデータURLを保存する。
func (s *Service) Upload(ctx context.Context, dataURL string) (*Image, error) {
	declared, data, err := s.decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, declared, data, "Upload image")
}

// Import は外部URLの画像を取得して保存する。
func (s *Service) Import(ctx context.Context, rawURL string) (*Image, error) {
	img, err := s.importURL(ctx, rawURL)
	s.observer.ObserveImport("image", err)
	return img, err
}

func (s *Service) importURL(ctx context.Context, rawURL string) (*Image, error) {
	fetched, err := s.fetcher.Fetch(ctx, strings.TrimSpace(rawURL), s.maxSize)
	if err != nil {
		if errors.Is(err, security.ErrTooLarge) {
			return nil, model.NewImageTooLargeError(s.maxSize)
		}
		return nil, err
	}
	declared := fetched.ContentType
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mt
	}
	return s.store(ctx, declared, fetched.Body, "Import image from "+fetched.FinalURL)
}

func (s *Service) decodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return "", nil, model.NewInvalidImageError("data URL must start with data:")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, model.NewInvalidImageError("missing data")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, model.NewInvalidImageError("data must be base64 encoded")
	}
	// base64で4/3倍になるため、デコード前に大まかに上限を確認する
	if int64(len(payload)) > s.maxSize/3*4+4 {
		return "", nil, model.NewImageTooLargeError(s.maxSize)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, model.NewInvalidImageError("malformed base64")
	}
	return strings.ToLower(mediaType), data, nil
}

// store は形式とサイズを確認して images/<uuid>.<ext> に新規作成する。
func (s *Service) store(ctx context.Context, declared string, data []byte, message string) (*Image, error) {
	if len(data) == 0 {
		return nil, model.NewInvalidImageError("empty image")
	}
	if int64(len(data)) > s.maxSize {
		return nil, model.NewImageTooLargeError(s.maxSize)
	}
	contentType, err := detectType(declared, data)
	if err != nil {
		return nil, err
	}

	name := s.newID() + "." + extensions[contentType]
	p := remote.Join(s.root, Dir, name)
	if _, err := s.files.WriteFile(ctx, p, data, "", fmt.Sprintf("%s %s", message, name)); err != nil {
		return nil, fmt.Errorf("write %s: %w", p, err)
	}

	s.logger.Info("画像を保存しました",
		slog.String("path", p),
		slog.String("content_type", contentType),
		slog.Int("size", len(data)),
	)
	return &Image{Path: "/" + Dir + "/" + name, ContentType: contentType, Size: len(data)}, nil
}

// detectType は宣言された形式と中身が一致する画像形式を返す。
// SVGはDetectContentTypeで判別できないため、宣言とXMLらしい中身で判定する。
func detectType(declared string, data []byte) (string, error) {
	if declared == "image/svg+xml" {
		if looksLikeSVG(data) {
			return declared, nil
		}
		return "", model.NewInvalidImageError("content is not an SVG image")
	}
	sniffed := http.DetectContentType(data)
	if _, ok := extensions[sniffed]; !ok {
		if looksLikeSVG(data) {
			return "image/svg+xml", nil
		}
		return "", model.NewInvalidImageError(fmt.Sprintf("unsupported type %s", sniffed))
	}
	if declared != "" && declared != "application/octet-stream" && declared != sniffed {
		return "", model.NewInvalidImageError(fmt.Sprintf("declared %s but content is %s", declared, sniffed))
	}
	return sniffed, nil
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(strings.ToLower(string(head)), "<svg")
}
