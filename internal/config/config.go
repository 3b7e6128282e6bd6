package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// コンテンツの保存先
const (
	BackendGitHub = "github"
	BackendMemory = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Content repository
	ContentBackend string
	ContentRoot    string
	GitHubToken    string
	GitHubOwner    string
	GitHubRepo     string
	GitHubBranch   string
	GitHubAPIURL   string
	GitHubTimeout  time.Duration
	GitHubRate     float64

	// Database
	DatabaseURL    string
	ProgressDBPath string

	// OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Session
	SessionMaxAge int

	// Cache
	PageCacheTTL     time.Duration
	RevalidateURL    string
	RevalidateSecret string

	// Media
	MediaMaxSize  int64
	ImportTimeout time.Duration

	// Rate Limit
	RateLimitGeneral  int
	RateLimitMutation int

	// Cleanup
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// CONTENT_BACKEND=memory の場合、必須なのはBASE_URLのみ。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ContentBackend = strings.ToLower(getEnvString("CONTENT_BACKEND", BackendGitHub))
	if cfg.ContentBackend != BackendGitHub && cfg.ContentBackend != BackendMemory {
		return nil, fmt.Errorf("CONTENT_BACKEND must be %q or %q, got %q", BackendGitHub, BackendMemory, cfg.ContentBackend)
	}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	if cfg.ContentBackend == BackendGitHub {
		cfg.GitHubToken = required("GITHUB_TOKEN")
		cfg.GitHubOwner = required("GITHUB_OWNER")
		cfg.GitHubRepo = required("GITHUB_REPO")
		cfg.DatabaseURL = required("DATABASE_URL")
	} else {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
		cfg.GitHubOwner = os.Getenv("GITHUB_OWNER")
		cfg.GitHubRepo = os.Getenv("GITHUB_REPO")
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ContentRoot = strings.Trim(getEnvString("CONTENT_ROOT", "public"), "/")
	cfg.GitHubBranch = getEnvString("GITHUB_BRANCH", "main")
	cfg.GitHubAPIURL = getEnvString("GITHUB_API_URL", "https://api.github.com")
	cfg.GitHubTimeout = getEnvDuration("GITHUB_TIMEOUT", 15*time.Second)
	cfg.GitHubRate = getEnvFloat("GITHUB_RATE", 5)
	cfg.ProgressDBPath = getEnvString("PROGRESS_DB_PATH", "inkstand-progress.db")
	cfg.GitHubClientID = getEnvString("GITHUB_CLIENT_ID", "")
	cfg.GitHubClientSecret = getEnvString("GITHUB_CLIENT_SECRET", "")
	cfg.GitHubRedirectURL = getEnvString("GITHUB_REDIRECT_URL", strings.TrimRight(cfg.BaseURL, "/")+"/auth/github/callback")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.PageCacheTTL = getEnvDuration("PAGE_CACHE_TTL", 10*time.Minute)
	cfg.RevalidateURL = getEnvString("REVALIDATE_URL", "")
	cfg.RevalidateSecret = getEnvString("REVALIDATE_SECRET", "")
	cfg.MediaMaxSize = getEnvInt64("MEDIA_MAX_SIZE", 5242880)
	cfg.ImportTimeout = getEnvDuration("IMPORT_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は値の範囲を検証する。
func (c *Config) Validate() error {
	var problems []string
	if c.GitHubRate <= 0 {
		problems = append(problems, "GITHUB_RATE must be positive")
	}
	if c.SessionMaxAge <= 0 {
		problems = append(problems, "SESSION_MAX_AGE must be positive")
	}
	if c.MediaMaxSize <= 0 {
		problems = append(problems, "MEDIA_MAX_SIZE must be positive")
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitMutation <= 0 {
		problems = append(problems, "RATE_LIMIT_GENERAL and RATE_LIMIT_MUTATION must be positive")
	}
	if c.ContentRoot == "" {
		problems = append(problems, "CONTENT_ROOT must not be empty")
	}
	if c.RevalidateURL != "" && !strings.HasPrefix(c.RevalidateURL, "http://") && !strings.HasPrefix(c.RevalidateURL, "https://") {
		problems = append(problems, "REVALIDATE_URL must be an http(s) URL")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// OAuthEnabled はGitHubログインが設定されているかを返す。
func (c *Config) OAuthEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
