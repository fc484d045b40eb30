// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ingestion path ラベル値
const (
	PathPage     = "page"
	PathRealtime = "realtime"
)

// toggle outcome ラベル値
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeRolledBack = "rolled_back"
	OutcomeDropped    = "dropped"
)

// Recorder はメトリクス収集のインターフェース。
// フィードコントローラーやインタラクションストアから利用する。
type Recorder interface {
	RecordIngested(kind string, path string, count int)
	RecordRealtimeDropped(reason string)
	RecordPageLoad(outcome string, duration time.Duration)
	RecordToggle(kind string, outcome string)
	SetActiveSessions(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ingested        *prometheus.CounterVec
	realtimeDropped *prometheus.CounterVec
	pageLoads       *prometheus.CounterVec
	pageLoadLatency prometheus.Histogram
	toggles         *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devhub_feed_items_ingested_total",
			Help: "フィードに取り込まれたアイテム数（重複排除後）",
		}, []string{"kind", "path"}),
		realtimeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devhub_realtime_events_dropped_total",
			Help: "破棄されたリアルタイム挿入通知の数",
		}, []string{"reason"}),
		pageLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devhub_page_loads_total",
			Help: "ページ読み込みの結果別件数",
		}, []string{"outcome"}),
		pageLoadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devhub_page_load_seconds",
			Help:    "2種別並列ページ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devhub_interaction_toggles_total",
			Help: "いいね/ブックマーク操作の結果別件数",
		}, []string{"kind", "outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devhub_feed_sessions_active",
			Help: "開いているフィードセッション数",
		}),
	}

	reg.MustRegister(
		c.ingested,
		c.realtimeDropped,
		c.pageLoads,
		c.pageLoadLatency,
		c.toggles,
		c.activeSessions,
	)

	return c
}

// RecordIngested は取り込まれたアイテム数を記録する。
func (c *Collector) RecordIngested(kind string, path string, count int) {
	c.ingested.WithLabelValues(kind, path).Add(float64(count))
}

// RecordRealtimeDropped は破棄されたリアルタイム通知を記録する。
func (c *Collector) RecordRealtimeDropped(reason string) {
	c.realtimeDropped.WithLabelValues(reason).Inc()
}

// RecordPageLoad はページ読み込みの結果とレイテンシを記録する。
func (c *Collector) RecordPageLoad(outcome string, duration time.Duration) {
	c.pageLoads.WithLabelValues(outcome).Inc()
	c.pageLoadLatency.Observe(duration.Seconds())
}

// RecordToggle はトグル操作の結果を記録する。
func (c *Collector) RecordToggle(kind string, outcome string) {
	c.toggles.WithLabelValues(kind, outcome).Inc()
}

// SetActiveSessions は開いているセッション数を設定する。
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// NopRecorder は何も記録しないRecorder。
type NopRecorder struct{}

func (NopRecorder) RecordIngested(string, string, int)   {}
func (NopRecorder) RecordRealtimeDropped(string)         {}
func (NopRecorder) RecordPageLoad(string, time.Duration) {}
func (NopRecorder) RecordToggle(string, string)          {}
func (NopRecorder) SetActiveSessions(int)                {}

// OrNop はnilの場合にNopRecorderを返す。
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = NopRecorder{}
)
