package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SecretHeader は再検証Webhookの共有シークレットを送るヘッダー。
const SecretHeader = "X-Revalidate-Secret"

// WebhookRevalidator は外部のフロントエンドに再検証を依頼する。
// 無効化対象のタグとパスをJSONでPOSTする。
type WebhookRevalidator struct {
	httpClient *http.Client
	endpoint   string
	secret     string
}

// NewWebhookRevalidator はWebhookRevalidatorを生成する。
func NewWebhookRevalidator(httpClient *http.Client, endpoint, secret string) *WebhookRevalidator {
	return &WebhookRevalidator{httpClient: httpClient, endpoint: endpoint, secret: secret}
}

func (w *WebhookRevalidator) Invalidate(ctx context.Context, set Set) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode revalidate payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create revalidate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SecretHeader, w.secret)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("revalidate endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
