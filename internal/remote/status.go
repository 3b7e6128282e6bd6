package remote

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/inkstand/internal/model"
)

// Outcome はHTTPレスポンスの分類。
type Outcome int

const (
	// OutcomeOK は成功（2xx）。
	OutcomeOK Outcome = iota
	// OutcomeNotFound は対象が存在しない（404）。
	OutcomeNotFound
	// OutcomeConflict はSHA不一致や既存ファイルとの衝突（409/422）。
	OutcomeConflict
	// OutcomeRateLimited はレート制限（429、または残数0の403）。
	OutcomeRateLimited
	// OutcomeFatal は再試行しても解決しないエラー（401/403など）。
	OutcomeFatal
	// OutcomeTransient は一時的なエラー（5xx）。
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// ClassifyResponse はステータスコードとレート制限ヘッダーからレスポンスを分類する。
func ClassifyResponse(statusCode int, header http.Header) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == http.StatusNotFound:
		return OutcomeNotFound
	case statusCode == http.StatusConflict || statusCode == http.StatusUnprocessableEntity:
		return OutcomeConflict
	case statusCode == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case statusCode == http.StatusForbidden:
		if header.Get("X-RateLimit-Remaining") == "0" || header.Get("Retry-After") != "" {
			return OutcomeRateLimited
		}
		return OutcomeFatal
	case statusCode >= 500:
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}

// rateLimitFromHeader はRetry-AfterとX-RateLimit-Resetからレート制限エラーを組み立てる。
func rateLimitFromHeader(header http.Header, now time.Time) *model.RateLimitError {
	e := &model.RateLimitError{}
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			e.Reset = time.Unix(unix, 0).UTC()
			if e.RetryAfter == 0 && e.Reset.After(now) {
				e.RetryAfter = e.Reset.Sub(now).Round(time.Second)
			}
		}
	}
	return e
}
