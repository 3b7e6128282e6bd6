package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/inkstand/internal/model"
)

// Fetcher は外部URLの内容を取得する。画像とポッドキャストフィードの取り込みで使う。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, maxBytes int64) (*Fetched, error)
}

// Fetched は取得結果。
type Fetched struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// ErrTooLarge は応答がmaxBytesを超えたことを表す。
var ErrTooLarge = errors.New("response body too large")

// allowedSchemes は取り込みで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は事前検証で拒否するネットワーク範囲。
// 接続時の検証はsafeurlがDNS解決後のIPアドレスに対して行う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（クラウドメタデータ 169.254.169.254 を含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// URLGuard はSSRF対策を施したFetcherの実装。
type URLGuard struct {
	client *http.Client
}

// NewURLGuard はsafeurlのクライアントでURLGuardを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続はDialerの段階で拒否される。
func NewURLGuard(timeout time.Duration) *URLGuard {
	return &URLGuard{client: NewSafeClient(timeout)}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// Fetch はURLを検証してから取得する。
// 返すエラーは *model.APIError（INVALID_URL, SSRF_BLOCKED, FETCH_FAILED）か、
// 上限超過を表す ErrTooLarge。
func (g *URLGuard) Fetch(ctx context.Context, rawURL string, maxBytes int64) (*Fetched, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "inkstand/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		// 名前解決後のアドレスがsafeurlに拒否された場合もここに来る
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewFetchFailedError(fmt.Sprintf("status %d", resp.StatusCode))
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, ErrTooLarge
	}

	body, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	return &Fetched{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, model.NewFetchFailedError(err.Error())
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// DNS再バインディングはsafeurlのDialer側の検証で防ぐ。
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return model.NewInvalidURLError("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.NewInvalidURLError(err.Error())
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return model.NewInvalidURLError(fmt.Sprintf("disallowed scheme %q", scheme))
	}

	host := parsed.Hostname()
	if host == "" {
		return model.NewInvalidURLError("empty host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return model.NewSSRFBlockedError()
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return model.NewSSRFBlockedError()
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
