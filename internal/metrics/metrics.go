// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// リモートクライアント、コレクションストア、キャッシュ層、取り込み処理の計測フックを兼ねる。
type Collector struct {
	remoteRequests     *prometheus.CounterVec
	remoteLatency      *prometheus.HistogramVec
	mutations          *prometheus.CounterVec
	parseSkipped       *prometheus.CounterVec
	invalidationFailed prometheus.Counter
	pageCache          *prometheus.CounterVec
	imports            *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkstand_remote_requests_total",
			Help: "GitHub APIへのリクエスト数（操作・結果別）",
		}, []string{"op", "status"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkstand_remote_latency_seconds",
			Help:    "GitHub APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkstand_content_mutations_total",
			Help: "コンテンツの書き込み操作数",
		}, []string{"kind", "op", "outcome"}),
		parseSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkstand_content_parse_skipped_total",
			Help: "解析できずに一覧から除外したファイル数",
		}, []string{"kind"}),
		invalidationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkstand_cache_invalidation_failures_total",
			Help: "キャッシュ無効化の失敗数",
		}),
		pageCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkstand_page_cache_total",
			Help: "公開APIのページキャッシュ参照数",
		}, []string{"result"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkstand_imports_total",
			Help: "外部URLからの取り込み数",
		}, []string{"source", "outcome"}),
	}

	reg.MustRegister(
		c.remoteRequests,
		c.remoteLatency,
		c.mutations,
		c.parseSkipped,
		c.invalidationFailed,
		c.pageCache,
		c.imports,
	)

	return c
}

// ObserveRemoteCall はGitHub API呼び出しを記録する。
func (c *Collector) ObserveRemoteCall(op, status string, elapsed time.Duration) {
	c.remoteRequests.WithLabelValues(op, status).Inc()
	c.remoteLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveMutation はコンテンツの書き込み結果を記録する。
func (c *Collector) ObserveMutation(kind, op, outcome string) {
	c.mutations.WithLabelValues(kind, op, outcome).Inc()
}

// ObserveParseSkip は解析に失敗したファイルを記録する。
func (c *Collector) ObserveParseSkip(kind string) {
	c.parseSkipped.WithLabelValues(kind).Inc()
}

// ObserveInvalidationFailure はキャッシュ無効化の失敗を記録する。
func (c *Collector) ObserveInvalidationFailure() {
	c.invalidationFailed.Inc()
}

// ObservePageCache はページキャッシュのヒット・ミスを記録する。
func (c *Collector) ObservePageCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.pageCache.WithLabelValues(result).Inc()
}

// ObserveImport は画像やフィードの取り込み結果を記録する。
func (c *Collector) ObserveImport(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.imports.WithLabelValues(source, outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
