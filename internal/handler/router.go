package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/inkstand/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CookieSecure      bool
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	MetricsHandler http.Handler
	HealthCheck    func(ctx context.Context) error

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 管理
	Actions  CollectionResolver
	Media    MediaServiceInterface
	Importer PodcastImporterInterface

	// 公開
	Public         *PublicHandler
	Progress       ProgressServiceInterface
	ProgressConfig ProgressHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 共通のミドルウェアスタック:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// 管理アクションは OptionalSession → CSRF → RateLimit(General, Mutation) を通り、
// 未ログインは ActionResult の Unauthorized になる。
// メディアとフィード取り込みは Session（401のJSON）を要求する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.Actions)
	mediaHandler := NewMediaHandler(deps.Media)
	importHandler := NewPodcastImportHandler(deps.Importer)
	progressHandler := NewProgressHandler(deps.Progress, deps.ProgressConfig)

	// --- 運用 ---
	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", authHandler.Login)
		r.Get("/github/callback", authHandler.Callback)
		r.With(middleware.NewCSRFMiddleware(deps.CSRF)).Post("/logout", authHandler.Logout)
		r.With(middleware.NewSessionMiddleware(deps.SessionFinder)).Get("/me", authHandler.Me)
	})

	// --- 公開API ---
	r.Route("/api/public", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/home", deps.Public.Home)
		r.Get("/articles", deps.Public.ListArticles)
		r.Get("/articles/{slug}", deps.Public.GetArticle)
		r.Get("/podcasts", deps.Public.ListPodcasts)
		r.Get("/podcasts/{slug}", deps.Public.GetPodcast)
		r.Get("/pages/{slug}", deps.Public.GetPage)
		r.Get("/categories", deps.Public.ListCategories)
		r.Get("/issues", deps.Public.ListIssues)
		r.Get("/issues/{slug}", deps.Public.GetIssue)
		r.Get("/authors", deps.Public.ListAuthors)
		r.Get("/authors/{slug}", deps.Public.GetAuthor)

		// 再生位置（リスナーCookie）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.MutationMiddleware())

			r.Get("/podcasts/{slug}/progress", progressHandler.GetProgress)
			r.Put("/podcasts/{slug}/progress", progressHandler.SaveProgress)
			r.Get("/podcasts/{slug}/bookmarks", progressHandler.ListBookmarks)
			r.Post("/podcasts/{slug}/bookmarks", progressHandler.AddBookmark)
			r.Delete("/podcasts/{slug}/bookmarks/{id}", progressHandler.DeleteBookmark)
		})
	})

	// --- 管理API ---
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// メディアとフィード取り込み: ログイン必須
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(deps.RateLimiter.MutationMiddleware())

			r.Post("/media/images", mediaHandler.Upload)
			r.Post("/media/images/import", mediaHandler.Import)
			r.Post("/podcasts/import", importHandler.Import)
		})

		// コレクション操作: 未ログインはActionResultで返す
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(deps.RateLimiter.MutationMiddleware())

			r.Get("/{collection}", adminHandler.List)
			r.Post("/{collection}", adminHandler.Create)
			r.Post("/{collection}/delete", adminHandler.DeleteMany)
			r.Post("/{collection}/reorder", adminHandler.Reorder)
			r.Get("/{collection}/{slug}", adminHandler.Get)
			r.Post("/{collection}/{slug}", adminHandler.Update)
			r.Delete("/{collection}/{slug}", adminHandler.Delete)
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。checkがnilの場合は常にok。
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
