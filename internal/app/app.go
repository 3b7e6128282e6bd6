package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/inkstand/internal/action"
	"github.com/hitoshi/inkstand/internal/auth"
	"github.com/hitoshi/inkstand/internal/cache"
	"github.com/hitoshi/inkstand/internal/config"
	"github.com/hitoshi/inkstand/internal/content"
	"github.com/hitoshi/inkstand/internal/database"
	"github.com/hitoshi/inkstand/internal/handler"
	"github.com/hitoshi/inkstand/internal/logger"
	"github.com/hitoshi/inkstand/internal/media"
	"github.com/hitoshi/inkstand/internal/metrics"
	"github.com/hitoshi/inkstand/internal/middleware"
	"github.com/hitoshi/inkstand/internal/podcast"
	"github.com/hitoshi/inkstand/internal/progress"
	"github.com/hitoshi/inkstand/internal/reconcile"
	"github.com/hitoshi/inkstand/internal/remote"
	"github.com/hitoshi/inkstand/internal/render"
	"github.com/hitoshi/inkstand/internal/repository"
	"github.com/hitoshi/inkstand/internal/security"
	"github.com/hitoshi/inkstand/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// newFileStore は設定に応じたコンテンツの保存先を返す。
func newFileStore(cfg *config.Config, log *slog.Logger, observer remote.Observer) remote.FileStore {
	if cfg.ContentBackend == config.BackendMemory {
		log.Warn("using in-memory content store; content is lost on restart")
		return remote.NewMemoryStore()
	}
	return remote.NewGitHubClient(
		&http.Client{Timeout: cfg.GitHubTimeout},
		log,
		cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubToken,
		remote.WithBaseURL(cfg.GitHubAPIURL),
		remote.WithBranch(cfg.GitHubBranch),
		remote.WithRateLimit(cfg.GitHubRate),
		remote.WithObserver(observer),
	)
}

// server はserveコマンドで起動する構成要素一式。
type server struct {
	handler http.Handler
	jobs    []*cleanup.CleanupJob
	closers []func() error
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to release resource", slog.String("error", err.Error()))
		}
	}
}

// newServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*server, error) {
	s := &server{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	// 1. 計測
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. コンテンツリポジトリとキャッシュ
	files := newFileStore(cfg, log, collector)
	pageCache := cache.NewPageCache(cfg.PageCacheTTL, collector)
	invalidators := cache.Multi{pageCache}
	if cfg.RevalidateURL != "" {
		invalidators = append(invalidators, cache.NewWebhookRevalidator(
			&http.Client{Timeout: 10 * time.Second}, cfg.RevalidateURL, cfg.RevalidateSecret,
		))
	}
	cols := content.NewCollections(content.Deps{
		Files:       files,
		Root:        cfg.ContentRoot,
		Invalidator: cache.NewNotifier(invalidators, log, collector),
		Observer:    collector,
		Logger:      log,
	})

	// 3. セッション（PostgreSQL、未設定ならプロセス内）
	var sessions repository.SessionRepository
	var sessionDB *sql.DB
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL, 10*time.Second)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		sessionDB = db
		sessions = repository.NewPostgresSessionRepo(db)
		s.jobs = append(s.jobs, cleanup.NewSessionCleanupJob(db, log))
		log.Info("database connection established")
	} else {
		log.Warn("DATABASE_URL is not set; sessions are kept in memory")
		sessions = repository.NewMemorySessionRepo()
	}

	// 4. 再生位置（SQLite）
	progressDB, err := progress.Open(cfg.ProgressDBPath)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, progressDB.Close)
	s.jobs = append(s.jobs, cleanup.NewProgressCleanupJob(progressDB, log, nil))
	progressService := progress.NewService(progress.NewRepository(progressDB), cols.Podcasts, log)

	// 5. 認証
	if !cfg.OAuthEnabled() {
		log.Warn("GITHUB_CLIENT_ID or GITHUB_CLIENT_SECRET is not set; admin login will fail")
	}
	oauthProvider := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
	}, &http.Client{Timeout: cfg.GitHubTimeout})
	authService := auth.NewService(
		oauthProvider, auth.NewCollectionDirectory(cols.Users), sessions,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 6. 管理操作と取り込み
	guard := security.NewURLGuard(cfg.ImportTimeout)
	actions := action.NewFacade(cols, authService, log)
	mediaService := media.NewService(files, guard, media.Config{
		Root:    cfg.ContentRoot,
		MaxSize: cfg.MediaMaxSize,
	}, log, collector)
	importer := podcast.NewImporter(guard, cols.Podcasts, log, collector)

	// 7. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	s.closers = append(s.closers, func() error { rateLimiter.Stop(); return nil })

	renderer := render.NewRenderer(security.NewHTMLSanitizer())
	s.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		SessionFinder:     sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		MetricsHandler: metrics.Handler(registry),
		HealthCheck: func(ctx context.Context) error {
			if sessionDB != nil {
				if err := sessionDB.PingContext(ctx); err != nil {
					return fmt.Errorf("session database: %w", err)
				}
			}
			if err := progressDB.PingContext(ctx); err != nil {
				return fmt.Errorf("progress database: %w", err)
			}
			return nil
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Actions:  actions,
		Media:    mediaService,
		Importer: importer,

		Public:   handler.NewPublicHandler(cols, renderer, pageCache, log),
		Progress: progressService,
		ProgressConfig: handler.ProgressHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
	})

	ok = true
	return s, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.Close()

	go cleanup.Schedule(ctx, cfg.CleanupInterval, srv.jobs...)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("backend", cfg.ContentBackend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はセッション用データベースのマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runReconcile はリネーム途中で残ったファイルと参照切れを検出し、applyなら修復する。
func runReconcile(ctx context.Context, cfg *config.Config, out io.Writer, apply bool) error {
	log := slog.Default()
	files := newFileStore(cfg, log, nil)
	cols := content.NewCollections(content.Deps{Files: files, Root: cfg.ContentRoot, Logger: log})

	report, err := reconcile.New(cols, log).Run(ctx, apply)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	reconcile.Print(out, report)

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d fix(es) failed", n)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
