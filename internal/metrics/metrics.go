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
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignUp(outcome string)
	RecordSignIn(method, outcome string)
	RecordProfileBootstrapFailure()
	RecordInquiryCreated()
	RecordInquiryDecision(status string)
	RecordInquiryConflict()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsPurged(count int64)
}

// 認証系メトリクスのoutcomeラベル値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signUps                  *prometheus.CounterVec
	signIns                  *prometheus.CounterVec
	profileBootstrapFailures prometheus.Counter
	inquiriesCreated         prometheus.Counter
	inquiryDecisions         *prometheus.CounterVec
	inquiryConflicts         prometheus.Counter
	httpStatus               *prometheus.CounterVec
	requestLatency           prometheus.Histogram
	sessionsPurged           prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estate_signups_total",
			Help: "アカウント登録の試行数（結果別）",
		}, []string{"outcome"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estate_signins_total",
			Help: "サインインの試行数（識別子種別・結果別）",
		}, []string{"method", "outcome"}),
		profileBootstrapFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estate_profile_bootstrap_failures_total",
			Help: "アカウント作成後のプロフィール作成失敗数",
		}),
		inquiriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estate_inquiries_created_total",
			Help: "作成された内見リクエストの合計数",
		}),
		inquiryDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estate_inquiry_decisions_total",
			Help: "管理者による内見リクエストの判定数（状態別）",
		}, []string{"status"}),
		inquiryConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estate_inquiry_conflicts_total",
			Help: "判定済みの内見リクエストへの再判定の試行数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "estate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "estate_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estate_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.signUps,
		c.signIns,
		c.profileBootstrapFailures,
		c.inquiriesCreated,
		c.inquiryDecisions,
		c.inquiryConflicts,
		c.httpStatus,
		c.requestLatency,
		c.sessionsPurged,
	)

	return c
}

// RecordSignUp はアカウント登録の結果を記録する。
func (c *Collector) RecordSignUp(outcome string) {
	c.signUps.WithLabelValues(outcome).Inc()
}

// RecordSignIn はサインインの結果を記録する。methodは "email" または "mobile"。
func (c *Collector) RecordSignIn(method, outcome string) {
	c.signIns.WithLabelValues(method, outcome).Inc()
}

// RecordProfileBootstrapFailure はプロフィール作成失敗を記録する。
func (c *Collector) RecordProfileBootstrapFailure() {
	c.profileBootstrapFailures.Inc()
}

// RecordInquiryCreated は内見リクエストの作成を記録する。
func (c *Collector) RecordInquiryCreated() {
	c.inquiriesCreated.Inc()
}

// RecordInquiryDecision は内見リクエストの判定を記録する。
func (c *Collector) RecordInquiryDecision(status string) {
	c.inquiryDecisions.WithLabelValues(status).Inc()
}

// RecordInquiryConflict は判定済みリクエストへの再判定を記録する。
func (c *Collector) RecordInquiryConflict() {
	c.inquiryConflicts.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSignUp(string) {}
func (Nop) RecordSignIn(string, string) {}
func (Nop) RecordProfileBootstrapFailure() {}
func (Nop) RecordInquiryCreated() {}
func (Nop) RecordInquiryDecision(string) {}
func (Nop) RecordInquiryConflict() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordSessionsPurged(int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

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
