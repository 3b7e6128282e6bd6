package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/inkstand/internal/media"
	"github.com/hitoshi/inkstand/internal/middleware"
	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/podcast"
)

// MediaServiceInterface は画像ハンドラーが必要とするサービスインターフェース。
type MediaServiceInterface interface {
	Upload(ctx context.Context, dataURL string) (*media.Image, error)
	Import(ctx context.Context, rawURL string) (*media.Image, error)
}

// PodcastImporterInterface はフィード取り込みハンドラーが必要とするインターフェース。
type PodcastImporterInterface interface {
	Import(ctx context.Context, feedURL string, opts podcast.Options) (*podcast.Result, error)
}

// MediaHandler は画像のアップロードと取り込みのHTTPハンドラー。
type MediaHandler struct {
	service MediaServiceInterface
}

// NewMediaHandler はMediaHandlerを生成する。
func NewMediaHandler(service MediaServiceInterface) *MediaHandler {
	return &MediaHandler{service: service}
}

// Upload はフォームの data（base64のdata URL）を保存する。
// POST /admin/media/images
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		middleware.WriteError(w, model.NewInvalidImageError("form could not be read"))
		return
	}
	img, err := h.service.Upload(r.Context(), form.Get("data"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, img)
}

// Import はフォームの url から画像を取得して保存する。
// POST /admin/media/images/import
func (h *MediaHandler) Import(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		middleware.WriteError(w, model.NewInvalidURLError("form could not be read"))
		return
	}
	img, err := h.service.Import(r.Context(), form.Get("url"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, img)
}

// PodcastImportHandler はRSSフィードからエピソードを取り込むHTTPハンドラー。
type PodcastImportHandler struct {
	importer PodcastImporterInterface
}

// NewPodcastImportHandler はPodcastImportHandlerを生成する。
func NewPodcastImportHandler(importer PodcastImporterInterface) *PodcastImportHandler {
	return &PodcastImportHandler{importer: importer}
}

// Import はフォームの feed_url を取り込む。
// author、category、issue、published、limit で作成するエピソードの属性を指定できる。
// POST /admin/podcasts/import
func (h *PodcastImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		middleware.WriteError(w, model.NewInvalidURLError("form could not be read"))
		return
	}

	opts := podcast.Options{
		Author:   strings.TrimSpace(form.Get("author")),
		Category: strings.TrimSpace(form.Get("category")),
		Issue:    strings.TrimSpace(form.Get("issue")),
	}
	switch form.Get("published") {
	case "true", "on":
		opts.Published = true
	}
	if raw := strings.TrimSpace(form.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "limitは0以上の整数で指定してください。",
				Category: "validation",
				Action:   "取り込む件数を見直してください。",
			})
			return
		}
		opts.Limit = n
	}

	res, err := h.importer.Import(r.Context(), form.Get("feed_url"), opts)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
