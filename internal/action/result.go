// Package action は管理画面からのフォーム入力を受け取り、認証・入力検証・
// コレクション操作を行って、画面にそのまま返せる結果に変換する。
// どの操作もエラーを返さず、失敗は Result に変換される。
package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/inkstand/internal/model"
)

// ErrorType は失敗の重さ。warning は参照中のため削除できないなど、利用者が対処できるもの。
type ErrorType string

const (
	ErrorTypeError   ErrorType = "error"
	ErrorTypeWarning ErrorType = "warning"
)

// Result は操作結果。
type Result struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorType ErrorType `json:"errorType,omitempty"`

	err error
}

// Err は失敗の原因を返す。成功時はnil。
func (r Result) Err() error { return r.err }

// OK は成功結果を生成する。
func OK(data any, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

// Fail はエラーを失敗結果に変換する。
func Fail(err error) Result {
	return Result{
		Success:   false,
		Error:     messageFor(err),
		ErrorType: Classify(err),
		err:       err,
	}
}

// Unauthorized は未認証の結果を返す。
func Unauthorized() Result {
	return Fail(model.ErrUnauthorized)
}

// Classify はエラーの重さを判定する。メッセージに "used by" を含むものは warning。
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "used by") || errors.Is(err, model.ErrRenameIncomplete) {
		return ErrorTypeWarning
	}
	return ErrorTypeError
}

func messageFor(err error) string {
	var rl *model.RateLimitError
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return model.ErrUnauthorized.Error()
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			return fmt.Sprintf("The content repository is rate limited, retry in %s", rl.RetryAfter)
		}
		return "The content repository is rate limited, retry later"
	case errors.Is(err, model.ErrTransport):
		return "The content repository is unavailable, please retry"
	default:
		return err.Error()
	}
}
