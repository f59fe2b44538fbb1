// Package metrics 定义采集服务的 Prometheus 指标
//
// 指标注册在独立的 Registry 上，由 HTTP 层在 /metrics 暴露。
// 命名规则：pm25_ 前缀，计数器以 _total 结尾。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry 采集服务指标注册表
var Registry = prometheus.NewRegistry()

var (
	// MeasurementsTotal 成功解析的读数数量
	MeasurementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pm25_measurements_total",
			Help: "Total number of measurements accepted by the ingestion pipeline.",
		},
	)

	// ParseFailuresTotal 解析失败数量（按原因）
	ParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25_parse_failures_total",
			Help: "Total number of dropped telemetry messages by failure reason.",
		},
		[]string{"reason"},
	)

	// PersistenceFailuresTotal 写入时序库失败数量
	PersistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pm25_persistence_failures_total",
			Help: "Total number of measurements that failed to persist.",
		},
	)

	// AlertsTriggeredTotal 告警打开/升级次数（按等级）
	AlertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25_alerts_triggered_total",
			Help: "Total number of triggered alert transitions by level.",
		},
		[]string{"level"},
	)

	// NotificationFailuresTotal 通知渠道失败次数（按渠道）
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm25_notification_failures_total",
			Help: "Total number of failed notification deliveries by channel.",
		},
		[]string{"channel"},
	)

	// ActiveAlerts 当前活跃告警数量
	ActiveAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pm25_active_alerts",
			Help: "Number of devices with an active alert.",
		},
	)
)

func init() {
	Registry.MustRegister(
		MeasurementsTotal,
		ParseFailuresTotal,
		PersistenceFailuresTotal,
		AlertsTriggeredTotal,
		NotificationFailuresTotal,
		ActiveAlerts,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// RecordParseFailure 记录一次解析失败
func RecordParseFailure(reason string) {
	ParseFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordAlertTriggered 记录一次告警迁移
func RecordAlertTriggered(level string) {
	AlertsTriggeredTotal.WithLabelValues(level).Inc()
}

// RecordNotificationFailure 记录一次通知失败
func RecordNotificationFailure(channel string) {
	NotificationFailuresTotal.WithLabelValues(channel).Inc()
}

// SetActiveAlerts 更新活跃告警数量
func SetActiveAlerts(n int) {
	ActiveAlerts.Set(float64(n))
}
