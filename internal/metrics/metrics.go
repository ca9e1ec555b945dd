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
// 生成オーケストレーターやスケジュールコントローラーから利用する。
type MetricsCollector interface {
	RecordGenerationSuccess()
	RecordGenerationFailure()
	RecordGenerationSkipped(reason string)
	RecordGenerationLatency(duration time.Duration)
	RecordItemsRendered(count int)
	RecordItemRenderFailure()
	RecordDeliveryStatus(statusCode int)
	RecordRateCacheHit()
	RecordRateCacheMiss()
	RecordRateFallbackUsed()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	generationSuccess prometheus.Counter
	generationFail    prometheus.Counter
	generationSkipped *prometheus.CounterVec
	generationLatency prometheus.Histogram
	itemsRendered     prometheus.Counter
	itemRenderFail    prometheus.Counter
	deliveryStatus    *prometheus.CounterVec
	rateCacheHit      prometheus.Counter
	rateCacheMiss     prometheus.Counter
	rateFallback      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generationSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_generation_success_total",
			Help: "フィード生成成功の合計数",
		}),
		generationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_generation_fail_total",
			Help: "フィード生成失敗の合計数",
		}),
		generationSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchantfeed_generation_skipped_total",
			Help: "スキップされたスケジュール実行の理由別合計数",
		}, []string{"reason"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "merchantfeed_generation_latency_seconds",
			Help:    "フィード生成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_items_rendered_total",
			Help: "フィードに出力された商品の合計数",
		}),
		itemRenderFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_item_render_fail_total",
			Help: "変換に失敗しスキップされた商品の合計数",
		}),
		deliveryStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchantfeed_delivery_status_total",
			Help: "フィード配信のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		rateCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_rate_cache_hit_total",
			Help: "為替レートキャッシュヒットの合計数",
		}),
		rateCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_rate_cache_miss_total",
			Help: "為替レートキャッシュミスの合計数",
		}),
		rateFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "merchantfeed_rate_fallback_total",
			Help: "静的フォールバックレートが使用された合計数",
		}),
	}

	reg.MustRegister(
		c.generationSuccess,
		c.generationFail,
		c.generationSkipped,
		c.generationLatency,
		c.itemsRendered,
		c.itemRenderFail,
		c.deliveryStatus,
		c.rateCacheHit,
		c.rateCacheMiss,
		c.rateFallback,
	)

	return c
}

// RecordGenerationSuccess はフィード生成成功を記録する。
func (c *Collector) RecordGenerationSuccess() {
	c.generationSuccess.Inc()
}

// RecordGenerationFailure はフィード生成失敗を記録する。
func (c *Collector) RecordGenerationFailure() {
	c.generationFail.Inc()
}

// RecordGenerationSkipped はスケジュール実行のスキップを理由付きで記録する。
func (c *Collector) RecordGenerationSkipped(reason string) {
	c.generationSkipped.WithLabelValues(reason).Inc()
}

// RecordGenerationLatency はフィード生成のレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
}

// RecordItemsRendered は出力された商品数を記録する。
func (c *Collector) RecordItemsRendered(count int) {
	c.itemsRendered.Add(float64(count))
}

// RecordItemRenderFailure は商品変換の失敗を記録する。
func (c *Collector) RecordItemRenderFailure() {
	c.itemRenderFail.Inc()
}

// RecordDeliveryStatus はフィード配信のHTTPステータスコードを記録する。
func (c *Collector) RecordDeliveryStatus(statusCode int) {
	c.deliveryStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateCacheHit は為替レートキャッシュヒットを記録する。
func (c *Collector) RecordRateCacheHit() {
	c.rateCacheHit.Inc()
}

// RecordRateCacheMiss は為替レートキャッシュミスを記録する。
func (c *Collector) RecordRateCacheMiss() {
	c.rateCacheMiss.Inc()
}

// RecordRateFallbackUsed はフォールバックレートの使用を記録する。
func (c *Collector) RecordRateFallbackUsed() {
	c.rateFallback.Inc()
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
