// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とワーカーから利用する。
type MetricsCollector interface {
	RecordSignup()
	RecordLoginAttempt(provider string, success bool)
	RecordRefreshRotation()
	RecordRefreshRejected()
	RecordHTTPStatus(statusCode int)
	RecordLogsDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups         prometheus.Counter
	loginAttempts   *prometheus.CounterVec
	refreshRotation prometheus.Counter
	refreshRejected prometheus.Counter
	httpStatus      *prometheus.CounterVec
	logsDeleted     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authhub_signups_total",
			Help: "アカウント作成の合計数",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_login_attempts_total",
			Help: "プロバイダー・成否別のログイン試行数",
		}, []string{"provider", "outcome"}),
		refreshRotation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authhub_refresh_rotations_total",
			Help: "リフレッシュトークンのローテーション成功数",
		}),
		refreshRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authhub_refresh_rejected_total",
			Help: "拒否されたリフレッシュ交換の合計数（期限切れ・再利用を含む）",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		logsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authhub_login_logs_deleted_total",
			Help: "保持期間超過で削除されたログイン試行ログの合計数",
		}),
	}

	reg.MustRegister(
		c.signups,
		c.loginAttempts,
		c.refreshRotation,
		c.refreshRejected,
		c.httpStatus,
		c.logsDeleted,
	)

	return c
}

// RecordSignup はアカウント作成を記録する。
func (c *Collector) RecordSignup() {
	c.signups.Inc()
}

// RecordLoginAttempt はログイン試行をプロバイダー・成否別に記録する。
func (c *Collector) RecordLoginAttempt(provider string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.loginAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordRefreshRotation はリフレッシュトークンのローテーション成功を記録する。
func (c *Collector) RecordRefreshRotation() {
	c.refreshRotation.Inc()
}

// RecordRefreshRejected は拒否されたリフレッシュ交換を記録する。
func (c *Collector) RecordRefreshRejected() {
	c.refreshRejected.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordLogsDeleted は保持期間運用で削除されたログ数を記録する。
func (c *Collector) RecordLogsDeleted(count int64) {
	c.logsDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// ルーターが/metricsにマウントする。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
