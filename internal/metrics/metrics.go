// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordBid(accepted bool)
	RecordComment(op string)
	RecordLookup(strategy, outcome string)
	RecordAIRequest(operation, outcome string, elapsed time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus *prometheus.CounterVec
	bids       *prometheus.CounterVec
	comments   *prometheus.CounterVec
	lookups    *prometheus.CounterVec
	aiRequests *prometheus.CounterVec
	aiLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pasarmalam_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pasarmalam_bids_total",
			Help: "入札の結果別の合計数",
		}, []string{"outcome"}),
		comments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pasarmalam_comments_total",
			Help: "コメントの追加・削除の合計数",
		}, []string{"op"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pasarmalam_lookup_total",
			Help: "ゲームメタデータ検索の戦略別・結果別の合計数",
		}, []string{"strategy", "outcome"}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pasarmalam_ai_requests_total",
			Help: "AI抽出リクエストの操作別・結果別の合計数",
		}, []string{"operation", "outcome"}),
		aiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pasarmalam_ai_latency_seconds",
			Help:    "AI抽出のレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.bids,
		c.comments,
		c.lookups,
		c.aiRequests,
		c.aiLatency,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBid は入札の受理・拒否を記録する。
func (c *Collector) RecordBid(accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	c.bids.WithLabelValues(outcome).Inc()
}

// RecordComment はコメント操作（add/delete）を記録する。
func (c *Collector) RecordComment(op string) {
	c.comments.WithLabelValues(op).Inc()
}

// RecordLookup はメタデータ検索の戦略ごとの結果を記録する。
func (c *Collector) RecordLookup(strategy, outcome string) {
	c.lookups.WithLabelValues(strategy, outcome).Inc()
}

// RecordAIRequest はAI抽出の結果とレイテンシを記録する。
func (c *Collector) RecordAIRequest(operation, outcome string, elapsed time.Duration) {
	c.aiRequests.WithLabelValues(operation, outcome).Inc()
	c.aiLatency.Observe(elapsed.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
