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
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordCrawlSuccess(sourceID string)
	RecordCrawlFailure(sourceID string, reason string)
	RecordParseFailure(sourceID string)
	RecordHTTPStatus(statusCode int)
	RecordCrawlLatency(duration time.Duration)
	RecordChangesDetected(count int)
	RecordDeliveryResult(channelType string, success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	crawlSuccess    prometheus.Counter
	crawlFail       prometheus.Counter
	parseFail       prometheus.Counter
	httpStatus      *prometheus.CounterVec
	crawlLatency    prometheus.Histogram
	changesDetected prometheus.Counter
	deliveryResult  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		crawlSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_crawl_success_total",
			Help: "ソースクロール成功の合計数",
		}),
		crawlFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_crawl_fail_total",
			Help: "ソースクロール失敗の合計数",
		}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_parse_fail_total",
			Help: "ページパース失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		crawlLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatch_crawl_latency_seconds",
			Help:    "ソースクロールのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		changesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_changes_detected_total",
			Help: "検知した料金変更イベントの合計数",
		}),
		deliveryResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_delivery_total",
			Help: "チャネル別・結果別の通知配信数",
		}, []string{"channel_type", "result"}),
	}

	reg.MustRegister(
		c.crawlSuccess,
		c.crawlFail,
		c.parseFail,
		c.httpStatus,
		c.crawlLatency,
		c.changesDetected,
		c.deliveryResult,
	)

	return c
}

// RecordCrawlSuccess はクロール成功を記録する。
func (c *Collector) RecordCrawlSuccess(sourceID string) {
	c.crawlSuccess.Inc()
}

// RecordCrawlFailure はクロール失敗を記録する。
func (c *Collector) RecordCrawlFailure(sourceID string, reason string) {
	c.crawlFail.Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(sourceID string) {
	c.parseFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCrawlLatency はクロールのレイテンシを記録する。
func (c *Collector) RecordCrawlLatency(duration time.Duration) {
	c.crawlLatency.Observe(duration.Seconds())
}

// RecordChangesDetected は検知した変更イベント数を記録する。
func (c *Collector) RecordChangesDetected(count int) {
	c.changesDetected.Add(float64(count))
}

// RecordDeliveryResult はチャネル別の配信結果を記録する。
func (c *Collector) RecordDeliveryResult(channelType string, success bool) {
	result := "failed"
	if success {
		result = "sent"
	}
	c.deliveryResult.WithLabelValues(channelType, result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
