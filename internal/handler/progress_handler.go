package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/inkstand/internal/middleware"
	"github.com/hitoshi/inkstand/internal/model"
	"github.com/hitoshi/inkstand/internal/progress"
)

// ListenerCookieName はログイン不要のリスナーを識別するCookieの名前。
const ListenerCookieName = "listener_id"

const listenerCookieMaxAge = 365 * 24 * 60 * 60

// ProgressServiceInterface は再生位置ハンドラーが必要とするサービスインターフェース。
type ProgressServiceInterface interface {
	GetProgress(ctx context.Context, listenerID, slug string) (*progress.Progress, error)
	SaveProgress(ctx context.Context, listenerID, slug string, position, duration int) (*progress.Progress, error)
	ListBookmarks(ctx context.Context, listenerID, slug string) ([]*progress.Bookmark, error)
	AddBookmark(ctx context.Context, listenerID, slug string, position int, label string) (*progress.Bookmark, error)
	DeleteBookmark(ctx context.Context, listenerID, id string) error
}

// ProgressHandlerConfig は再生位置ハンドラーの設定。
type ProgressHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// ProgressHandler はエピソードの再生位置とブックマークのHTTPハンドラー。
type ProgressHandler struct {
	service ProgressServiceInterface
	config  ProgressHandlerConfig
}

// NewProgressHandler はProgressHandlerを生成する。
func NewProgressHandler(service ProgressServiceInterface, config ProgressHandlerConfig) *ProgressHandler {
	return &ProgressHandler{service: service, config: config}
}

type saveProgressRequest struct {
	Position int `json:"position"`
	Duration int `json:"duration"`
}

type addBookmarkRequest struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
}

// listener はCookieのリスナーIDを返す。なければ発行してCookieに設定する。
func (h *ProgressHandler) listener(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ListenerCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ListenerCookieName,
		Value:    id,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   listenerCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v); err != nil {
		return model.NewInvalidProgressError("request body must be JSON")
	}
	return nil
}

// GetProgress は再生位置を返す。
// GET /api/public/podcasts/{slug}/progress
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	listenerID := h.listener(w, r)
	p, err := h.service.GetProgress(r.Context(), listenerID, chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}

// SaveProgress は再生位置を保存する。
// PUT /api/public/podcasts/{slug}/progress
func (h *ProgressHandler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	listenerID := h.listener(w, r)
	var req saveProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	p, err := h.service.SaveProgress(r.Context(), listenerID, chi.URLParam(r, "slug"), req.Position, req.Duration)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}

// ListBookmarks はブックマークを再生位置順に返す。
// GET /api/public/podcasts/{slug}/bookmarks
func (h *ProgressHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	listenerID := h.listener(w, r)
	list, err := h.service.ListBookmarks(r.Context(), listenerID, chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if list == nil {
		list = []*progress.Bookmark{}
	}
	middleware.WriteJSON(w, http.StatusOK, list)
}

// AddBookmark はブックマークを追加する。
// POST /api/public/podcasts/{slug}/bookmarks
func (h *ProgressHandler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	listenerID := h.listener(w, r)
	var req addBookmarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	b, err := h.service.AddBookmark(r.Context(), listenerID, chi.URLParam(r, "slug"), req.Position, req.Label)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, b)
}

// DeleteBookmark はブックマークを削除する。
// DELETE /api/public/podcasts/{slug}/bookmarks/{id}
func (h *ProgressHandler) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	listenerID := h.listener(w, r)
	if err := h.service.DeleteBookmark(r.Context(), listenerID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
