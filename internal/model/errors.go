// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// コンテンツ層のエラー分類。呼び出し側は errors.Is で判定する。
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("Unauthorized")
	ErrParse            = errors.New("parse error")
	ErrRateLimited      = errors.New("rate limited")
	ErrTransport        = errors.New("transport error")
	ErrRenameIncomplete = errors.New("rename incomplete")
)

// ParseError はコンテンツファイルのデコード失敗を表す。
// Field が空でない場合は欠落した必須フィールド名を示す。
type ParseError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Path != "" {
		b.WriteString(" in ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": missing required field %q", e.Field)
	} else if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return ErrParse }

// ValidationError は入力値の検証エラー。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError はフィールド単位の検証エラーを生成する。
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RequiredError は必須フィールド未入力の検証エラーを生成する。
func RequiredError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

// Reference はあるエンティティが別エンティティを参照している箇所を表す。
type Reference struct {
	Collection string `json:"collection"`
	Slug       string `json:"slug"`
	Field      string `json:"field"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s", r.Collection, r.Slug)
}

// RelationConflictError は参照されているエンティティを削除しようとした場合のエラー。
// メッセージには必ず "used by" が含まれる。
type RelationConflictError struct {
	Kind Kind
	Slug string
	Refs []Reference
}

func (e *RelationConflictError) Error() string {
	names := make([]string, 0, len(e.Refs))
	for _, r := range e.Refs {
		names = append(names, r.String())
	}
	return fmt.Sprintf("%s %q is used by %d item(s): %s", e.Kind, e.Slug, len(e.Refs), strings.Join(names, ", "))
}

func (e *RelationConflictError) Unwrap() error { return ErrConflict }

// RateLimitError はリモートストアのレート制限超過を表す。
type RateLimitError struct {
	RetryAfter time.Duration
	Reset      time.Time
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("remote rate limit exceeded, retry after %s", e.RetryAfter)
	}
	if !e.Reset.IsZero() {
		return fmt.Sprintf("remote rate limit exceeded, resets at %s", e.Reset.UTC().Format(time.RFC3339))
	}
	return "remote rate limit exceeded"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// TransportError はリモートストアとの通信エラーを表す。
// Transient が true の場合のみ再試行の対象になる。
type TransportError struct {
	Op         string
	Path       string
	StatusCode int
	Transient  bool
	Cause      error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Op, e.Path)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Cause}
}

// Retryable は一時的な通信エラーかどうかを返す。
func (e *TransportError) Retryable() bool { return e.Transient }

// IsTransient はerrが再試行可能な通信エラーかどうかを判定する。
// NotFound、Conflict、RateLimited は常にfalse。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrRateLimited) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// BatchResult は一括削除の結果。
type BatchResult struct {
	Deleted int               `json:"deleted"`
	Failed  int               `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, media, podcast, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeFeedParseFailed  = "FEED_PARSE_FAILED"
	ErrCodeInvalidImage     = "INVALID_IMAGE"
	ErrCodeImageTooLarge    = "IMAGE_TOO_LARGE"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeNotAllowed       = "NOT_ALLOWED"
	ErrCodeInvalidProgress  = "INVALID_PROGRESS"
	ErrCodeEpisodeNotFound  = "EPISODE_NOT_FOUND"
	ErrCodeBookmarkNotFound = "BOOKMARK_NOT_FOUND"
	ErrCodeContentNotFound  = "CONTENT_NOT_FOUND"
	ErrCodeUnavailable      = "CONTENT_UNAVAILABLE"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はURL取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "media",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewFeedParseFailedError はポッドキャストフィードの解析失敗エラーを生成する。
func NewFeedParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeFeedParseFailed,
		Message:  "ポッドキャストフィードの解析に失敗しました。",
		Category: "podcast",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// NewInvalidImageError は画像データが不正な場合のエラーを生成する。
func NewInvalidImageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("画像データが不正です: %s", reason),
		Category: "media",
		Action:   "PNG、JPEG、GIF、WebP、SVGのいずれかの画像を指定してください。",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", limit),
		Category: "media",
		Action:   "画像を圧縮してから再度アップロードしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotAllowedError は編集者として登録されていないアカウントでのログインエラーを生成する。
func NewNotAllowedError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAllowed,
		Message:  fmt.Sprintf("このアカウントには管理画面へのアクセス権がありません: %s", email),
		Category: "auth",
		Action:   "管理者にユーザー登録を依頼してください。",
	}
}

// NewInvalidProgressError は再生位置が不正な場合のエラーを生成する。
func NewInvalidProgressError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProgress,
		Message:  fmt.Sprintf("再生位置が不正です: %s", reason),
		Category: "validation",
		Action:   "0以上の秒数を指定してください。",
	}
}

// NewEpisodeNotFoundError はエピソードが見つからない場合のエラーを生成する。
func NewEpisodeNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeEpisodeNotFound,
		Message:  fmt.Sprintf("指定されたエピソードが見つかりません: %s", slug),
		Category: "podcast",
		Action:   "エピソードのURLを確認してください。",
	}
}

// NewBookmarkNotFoundError はブックマークが見つからない場合のエラーを生成する。
func NewBookmarkNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeBookmarkNotFound,
		Message:  fmt.Sprintf("ブックマークが見つかりません: %s", id),
		Category: "podcast",
		Action:   "ブックマーク一覧を再読み込みしてください。",
	}
}

// NewContentNotFoundError は公開コンテンツが存在しないか非公開の場合のエラーを生成する。
func NewContentNotFoundError(kind Kind, slug string) *APIError {
	return &APIError{
		Code:     ErrCodeContentNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %s", kind, slug),
		Category: "content",
		Action:   "URLを確認してください。",
	}
}

// NewUnavailableError はコンテンツリポジトリに接続できない場合のエラーを生成する。
func NewUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "コンテンツを取得できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
