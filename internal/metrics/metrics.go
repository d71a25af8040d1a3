// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordLinkOutcome(status string)
	RecordLinkFailure(code string)
	RecordMatchMethod(method string)
	RecordMappingsUpserted(count int)
	RecordContactRouted()
	RecordContactFailure(code string)
	RecordSessionsSwept(count int64)
	RecordUpstreamLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	linkOutcome     *prometheus.CounterVec
	linkFailure     *prometheus.CounterVec
	matchMethod     *prometheus.CounterVec
	mappingsUpsert  prometheus.Counter
	contactRouted   prometheus.Counter
	contactFailure  *prometheus.CounterVec
	sessionsSwept   prometheus.Counter
	upstreamLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		linkOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkman_link_outcome_total",
			Help: "リンク処理ステップの結果別合計数",
		}, []string{"status"}),
		linkFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkman_link_failure_total",
			Help: "リンク処理失敗のエラーコード別合計数",
		}, []string{"code"}),
		matchMethod: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkman_match_method_total",
			Help: "候補解決に使われたマッチ手法別の合計数",
		}, []string{"method"}),
		mappingsUpsert: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkman_mappings_upserted_total",
			Help: "アップサートされたマッピングの合計数",
		}),
		contactRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkman_contacts_routed_total",
			Help: "オーディエンスへ振り分けられたコンタクトの合計数",
		}),
		contactFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkman_contact_failure_total",
			Help: "コンタクト振り分け失敗のエラーコード別合計数",
		}, []string{"code"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkman_sessions_swept_total",
			Help: "掃除された期限切れセッションの合計数",
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkman_upstream_latency_seconds",
			Help:    "マーケティングプラットフォームAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.linkOutcome,
		c.linkFailure,
		c.matchMethod,
		c.mappingsUpsert,
		c.contactRouted,
		c.contactFailure,
		c.sessionsSwept,
		c.upstreamLatency,
	)

	return c
}

// RecordLinkOutcome はリンク処理ステップの結果を記録する。
func (c *Collector) RecordLinkOutcome(status string) {
	c.linkOutcome.WithLabelValues(status).Inc()
}

// RecordLinkFailure はリンク処理の失敗をエラーコード別に記録する。
func (c *Collector) RecordLinkFailure(code string) {
	c.linkFailure.WithLabelValues(code).Inc()
}

// RecordMatchMethod は候補解決に使われたマッチ手法を記録する。
func (c *Collector) RecordMatchMethod(method string) {
	c.matchMethod.WithLabelValues(method).Inc()
}

// RecordMappingsUpserted はアップサートされたマッピング数を記録する。
func (c *Collector) RecordMappingsUpserted(count int) {
	c.mappingsUpsert.Add(float64(count))
}

// RecordContactRouted はコンタクト振り分け成功を記録する。
func (c *Collector) RecordContactRouted() {
	c.contactRouted.Inc()
}

// RecordContactFailure はコンタクト振り分け失敗をエラーコード別に記録する。
func (c *Collector) RecordContactFailure(code string) {
	c.contactFailure.WithLabelValues(code).Inc()
}

// RecordSessionsSwept は掃除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordUpstreamLatency は外部API呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(operation string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

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
