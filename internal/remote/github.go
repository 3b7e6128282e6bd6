package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/inkstand/internal/model"
)

const (
	// DefaultAPIURL はGitHub REST APIのベースURL。
	DefaultAPIURL = "https://api.github.com"
	// DefaultBranch は読み書きするブランチ。
	DefaultBranch = "main"

	userAgent     = "inkstand/1.0"
	maxErrorBody  = 4 << 10
	rawMediaType  = "application/vnd.github.raw+json"
	jsonMediaType = "application/vnd.github+json"
)

// GitHubClient はGitHub Contents APIを使うFileStore実装。
// 一時的な通信エラー（5xx、ネットワークエラー）に限り1回だけ再試行する。
type GitHubClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	owner      string
	repo       string
	branch     string
	token      string
	limiter    *rate.Limiter
	observer   Observer
	now        func() time.Time
}

// GitHubOption はGitHubClientのオプション。
type GitHubOption func(*GitHubClient)

// WithBaseURL はAPIのベースURLを差し替える。GitHub Enterpriseやテストで使う。
func WithBaseURL(u string) GitHubOption {
	return func(c *GitHubClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithBranch は対象ブランチを指定する。
func WithBranch(branch string) GitHubOption {
	return func(c *GitHubClient) {
		if branch != "" {
			c.branch = branch
		}
	}
}

// WithRateLimit は毎秒の最大リクエスト数を指定する。0以下は無制限。
func WithRateLimit(perSecond float64) GitHubOption {
	return func(c *GitHubClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithObserver はリモート呼び出しの計測フックを設定する。
func WithObserver(o Observer) GitHubOption {
	return func(c *GitHubClient) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewGitHubClient はGitHubClientを生成する。
func NewGitHubClient(httpClient *http.Client, logger *slog.Logger, owner, repo, token string, opts ...GitHubOption) *GitHubClient {
	c := &GitHubClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    DefaultAPIURL,
		owner:      owner,
		repo:       repo,
		branch:     DefaultBranch,
		token:      token,
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type contentResponse struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// ReadFile はファイルを取得する。存在しない場合はmodel.ErrNotFoundを返す。
func (c *GitHubClient) ReadFile(ctx context.Context, p string) (*File, error) {
	var body []byte
	err := c.withRetry(ctx, "read", p, func() error {
		var err error
		body, err = c.call(ctx, http.MethodGet, "read", p, jsonMediaType, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cr contentResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, &model.TransportError{Op: "read", Path: p, Cause: fmt.Errorf("decode response: %w", err)}
	}
	if cr.Type != "" && cr.Type != "file" {
		return nil, fmt.Errorf("%s is a %s, not a file: %w", p, cr.Type, model.ErrNotFound)
	}

	content, err := c.decodeContent(ctx, p, cr)
	if err != nil {
		return nil, err
	}
	return &File{Path: p, Content: content, SHA: cr.SHA}, nil
}

// decodeContent はbase64のcontentを復元する。
// 1MBを超えるファイルはcontentが空で返るため、raw形式で取り直す。
func (c *GitHubClient) decodeContent(ctx context.Context, p string, cr contentResponse) ([]byte, error) {
	if cr.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cr.Content, "\n", ""))
		if err != nil {
			return nil, &model.TransportError{Op: "read", Path: p, Cause: fmt.Errorf("decode content: %w", err)}
		}
		return decoded, nil
	}
	if cr.Size == 0 {
		return []byte{}, nil
	}

	var raw []byte
	err := c.withRetry(ctx, "read", p, func() error {
		var err error
		raw, err = c.call(ctx, http.MethodGet, "read", p, rawMediaType, nil)
		return err
	})
	return raw, err
}

// WriteFile はファイルを作成または更新し、新しいSHAを返す。
func (c *GitHubClient) WriteFile(ctx context.Context, p string, content []byte, sha, message string) (string, error) {
	payload, err := json.Marshal(writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
		Branch:  c.branch,
	})
	if err != nil {
		return "", fmt.Errorf("encode write request: %w", err)
	}

	var body []byte
	err = c.withRetry(ctx, "write", p, func() error {
		var err error
		body, err = c.call(ctx, http.MethodPut, "write", p, jsonMediaType, payload)
		return err
	})
	if err != nil {
		return "", err
	}

	var wr writeResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return "", &model.TransportError{Op: "write", Path: p, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return wr.Content.SHA, nil
}

// DeleteFile はSHAが一致する場合にファイルを削除する。
func (c *GitHubClient) DeleteFile(ctx context.Context, p, sha, message string) error {
	payload, err := json.Marshal(writeRequest{Message: message, SHA: sha, Branch: c.branch})
	if err != nil {
		return fmt.Errorf("encode delete request: %w", err)
	}
	return c.withRetry(ctx, "delete", p, func() error {
		_, err := c.call(ctx, http.MethodDelete, "delete", p, jsonMediaType, payload)
		return err
	})
}

// ListFiles はディレクトリ直下のファイル一覧を返す。
func (c *GitHubClient) ListFiles(ctx context.Context, dir string) ([]Entry, error) {
	var body []byte
	err := c.withRetry(ctx, "list", dir, func() error {
		var err error
		body, err = c.call(ctx, http.MethodGet, "list", dir, jsonMediaType, nil)
		return err
	})
	if errors.Is(err, model.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}

	var items []contentResponse
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &model.TransportError{Op: "list", Path: dir, Cause: fmt.Errorf("%s is not a directory: %w", dir, err)}
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		if it.Type != "file" {
			continue
		}
		entries = append(entries, Entry{Path: it.Path, Name: it.Name, SHA: it.SHA})
	}
	return entries, nil
}

// withRetry は一時的なエラーの場合に限り1回だけ再試行する。
func (c *GitHubClient) withRetry(ctx context.Context, op, p string, fn func() error) error {
	err := fn()
	if err == nil || !model.IsTransient(err) || ctx.Err() != nil {
		return err
	}
	c.logger.Warn("リモートストアへのリクエストを再試行します",
		slog.String("op", op),
		slog.String("path", p),
		slog.String("error", err.Error()),
	)
	return fn()
}

func (c *GitHubClient) contentsURL(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	q := url.Values{}
	q.Set("ref", c.branch)
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s?%s",
		c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(segments, "/"), q.Encode())
}

// call は1回分のHTTPリクエストを実行し、レスポンスを分類してエラーに変換する。
func (c *GitHubClient) call(ctx context.Context, method, op, p, accept string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &model.TransportError{Op: op, Path: p, Cause: err}
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.contentsURL(p), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observer.ObserveRemoteCall(op, "network_error", c.now().Sub(start))
		// 呼び出し元のキャンセルは再試行しない
		transient := ctx.Err() == nil
		return nil, &model.TransportError{Op: op, Path: p, Transient: transient, Cause: err}
	}
	defer resp.Body.Close()

	outcome := ClassifyResponse(resp.StatusCode, resp.Header)
	c.observer.ObserveRemoteCall(op, outcome.String(), c.now().Sub(start))

	if outcome == OutcomeOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &model.TransportError{Op: op, Path: p, Transient: true, Cause: err}
		}
		return body, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch outcome {
	case OutcomeNotFound:
		return nil, fmt.Errorf("%s: %w", p, model.ErrNotFound)
	case OutcomeConflict:
		return nil, fmt.Errorf("%s: %s: %w", p, githubMessage(detail), model.ErrConflict)
	case OutcomeRateLimited:
		rl := rateLimitFromHeader(resp.Header, c.now())
		c.logger.Warn("GitHub APIのレート制限に達しました",
			slog.String("op", op),
			slog.String("path", p),
			slog.Duration("retry_after", rl.RetryAfter),
		)
		return nil, rl
	default:
		return nil, &model.TransportError{
			Op:         op,
			Path:       p,
			StatusCode: resp.StatusCode,
			Transient:  outcome == OutcomeTransient,
			Cause:      errors.New(githubMessage(detail)),
		}
	}
}

func githubMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	if len(body) == 0 {
		return "empty response"
	}
	return strings.TrimSpace(string(body))
}

var _ FileStore = (*GitHubClient)(nil)
