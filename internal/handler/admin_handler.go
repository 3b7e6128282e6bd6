package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/inkstand/internal/action"
	"github.com/hitoshi/inkstand/internal/middleware"
	"github.com/hitoshi/inkstand/internal/model"
)

// maxFormBytes は管理フォームの最大サイズ。本文にdata URLの画像を貼る場合を見込んでいる。
const maxFormBytes = 8 << 20

// CollectionResolver はコレクション名から操作を引く。action.Facade が実装する。
type CollectionResolver interface {
	For(collection string) (action.Collection, bool)
}

// AdminHandler は管理画面からのコレクション操作を ActionResult のJSONで返す。
type AdminHandler struct {
	actions CollectionResolver
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(actions CollectionResolver) *AdminHandler {
	return &AdminHandler{actions: actions}
}

// StatusForResult は操作結果に対応するHTTPステータスを返す。
func StatusForResult(r action.Result) int {
	if r.Success {
		return http.StatusOK
	}
	err := r.Err()
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case r.ErrorType == action.ErrorTypeWarning, errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, r action.Result) {
	middleware.WriteJSON(w, StatusForResult(r), r)
}

// collection はURLのコレクション名を解決する。未知の場合は404を書き込んでfalseを返す。
func (h *AdminHandler) collection(w http.ResponseWriter, r *http.Request) (action.Collection, bool) {
	name := chi.URLParam(r, "collection")
	c, ok := h.actions.For(name)
	if !ok {
		writeResult(w, action.Fail(&unknownCollectionError{name: name}))
		return nil, false
	}
	return c, true
}

type unknownCollectionError struct{ name string }

func (e *unknownCollectionError) Error() string { return "unknown collection " + e.name }
func (e *unknownCollectionError) Unwrap() error { return model.ErrNotFound }

// parseForm はurlencoded/multipartのフォームを読み込む。
func parseForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(maxFormBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, model.NewValidationError("form", err.Error())
	}
	return r.PostForm, nil
}

// List はコレクションの一覧を返す。
// GET /admin/{collection}
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeResult(w, c.List(r.Context()))
}

// Get は1件を返す。
// GET /admin/{collection}/{slug}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeResult(w, c.Get(r.Context(), chi.URLParam(r, "slug")))
}

// Create はフォームからエンティティを作成する。
// POST /admin/{collection}
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	form, err := parseForm(w, r)
	if err != nil {
		writeResult(w, action.Fail(err))
		return
	}
	res := c.Create(r.Context(), form)
	if res.Success {
		middleware.WriteJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

// Update はエンティティを更新する。フォームの newSlug でリネームする。
// POST /admin/{collection}/{slug}
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	form, err := parseForm(w, r)
	if err != nil {
		writeResult(w, action.Fail(err))
		return
	}
	writeResult(w, c.Update(r.Context(), chi.URLParam(r, "slug"), form))
}

// Delete はエンティティを削除する。クエリの revision で条件付き削除になる。
// DELETE /admin/{collection}/{slug}
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeResult(w, c.Delete(r.Context(), chi.URLParam(r, "slug"), r.URL.Query().Get("revision")))
}

// DeleteMany はフォームの slugs を一括削除する。
// POST /admin/{collection}/delete
func (h *AdminHandler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	form, err := parseForm(w, r)
	if err != nil {
		writeResult(w, action.Fail(err))
		return
	}
	writeResult(w, c.DeleteMany(r.Context(), action.Slugs(form, "slugs")))
}

// Reorder はフォームの slugs の順に並べ替える。
// POST /admin/{collection}/reorder
func (h *AdminHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	form, err := parseForm(w, r)
	if err != nil {
		writeResult(w, action.Fail(err))
		return
	}
	writeResult(w, c.Reorder(r.Context(), action.Slugs(form, "slugs")))
}
