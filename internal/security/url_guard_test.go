package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/inkstand/internal/model"
)

func apiErrorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// TestNewSafeClient はタイムアウトとカスタムTransportが設定されることを検証する。
func TestNewSafeClient(t *testing.T) {
	client := NewSafeClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestURLGuard_BlocksLoopback はhttptestサーバー（127.0.0.1）への取得が拒否されることを検証する。
func TestURLGuard_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer ts.Close()

	_, err := NewURLGuard(5*time.Second).Fetch(context.Background(), ts.URL, 1024)
	if got := apiErrorCode(err); got != model.ErrCodeSSRFBlocked {
		t.Errorf("error code = %q, want %q (err=%v)", got, model.ErrCodeSSRFBlocked, err)
	}
}

// TestURLGuard_FetchThroughSafeClientDialer はDNS解決後のアドレス検証で拒否されることを検証する。
// 事前検証を通るホスト名でも、接続先がループバックなら取得できない。
func TestURLGuard_FetchThroughSafeClientDialer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer ts.Close()

	g := NewURLGuard(2 * time.Second)
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	if _, err := g.client.Do(req); err == nil {
		t.Fatal("expected safe client to refuse loopback connection")
	}
}

// TestReadLimited は上限を超える本文がErrTooLargeになることを検証する。
func TestReadLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if _, err := readLimited(resp.Body, 1024); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

// TestValidateURL は事前検証の許可と拒否を検証する。
func TestValidateURL(t *testing.T) {
	tests := []struct {
		url      string
		wantCode string
	}{
		{"https://example.com/image.png", ""},
		{"https://feeds.example.com/podcast.xml", ""},
		{"http://blog.example.org/feed", ""},
		{"", model.ErrCodeInvalidURL},
		{"not-a-url", model.ErrCodeInvalidURL},
		{"ftp://example.com/feed", model.ErrCodeInvalidURL},
		{"file:///etc/passwd", model.ErrCodeInvalidURL},
		{"http://10.0.0.1/feed", model.ErrCodeSSRFBlocked},
		{"http://172.16.0.1/feed", model.ErrCodeSSRFBlocked},
		{"http://192.168.1.100/feed", model.ErrCodeSSRFBlocked},
		{"http://127.0.0.2/feed", model.ErrCodeSSRFBlocked},
		{"http://localhost/feed", model.ErrCodeSSRFBlocked},
		{"http://api.localhost/feed", model.ErrCodeSSRFBlocked},
		{"http://169.254.169.254/latest/meta-data/", model.ErrCodeSSRFBlocked},
		{"http://[::1]/feed", model.ErrCodeSSRFBlocked},
		{"http://0.0.0.0/feed", model.ErrCodeSSRFBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("ValidateURL(%q) returned error: %v", tt.url, err)
				}
				return
			}
			if got := apiErrorCode(err); got != tt.wantCode {
				t.Errorf("ValidateURL(%q) code = %q, want %q", tt.url, got, tt.wantCode)
			}
		})
	}
}

// TestURLGuardInterface はURLGuardがFetcherを実装していることを検証する。
func TestURLGuardInterface(t *testing.T) {
	var _ Fetcher = NewURLGuard(time.Second)
}
