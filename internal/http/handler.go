package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/export"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/repository"

	"go.uber.org/zap"
)

const (
	maxQueryHours  = 168
	maxExportRange = 30 * 24 * time.Hour
	version        = "2.1.0"
)

// StatsProvider 采集计数器（service.Coordinator 实现）
type StatsProvider interface {
	Stats() models.IngestionStats
	Uptime() time.Duration
}

// AlertProvider 活跃告警（evaluator.StateMachine 实现）
type AlertProvider interface {
	Active() []models.Alert
	Acknowledge(deviceID string) bool
}

// HistoryProvider 告警历史（history.Ledger 实现）
type HistoryProvider interface {
	Recent(hours int) []models.Alert
	Between(start, end time.Time) []models.Alert
	Summary() models.AlertSummary
}

// HealthCheck 依赖健康检查，返回 nil 表示正常
type HealthCheck func(ctx context.Context) error

// Handler 采集服务 API
type Handler struct {
	stats   StatsProvider
	alerts  AlertProvider
	history HistoryProvider
	store   repository.MeasurementStore
	loc     *time.Location
	checks  map[string]HealthCheck
	ws      http.HandlerFunc
	logger  *zap.Logger
}

// NewHandler 创建 API handler
func NewHandler(
	stats StatsProvider,
	alerts AlertProvider,
	history HistoryProvider,
	store repository.MeasurementStore,
	loc *time.Location,
	logger *zap.Logger,
) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		stats:   stats,
		alerts:  alerts,
		history: history,
		store:   store,
		loc:     loc,
		checks:  make(map[string]HealthCheck),
		logger:  logger,
	}
}

// AddHealthCheck 注册依赖检查（例如 database、mqtt）
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// SetWebSocket 设置 websocket 升级 handler
func (h *Handler) SetWebSocket(ws http.HandlerFunc) {
	h.ws = ws
}

// Health GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	services := make(map[string]bool, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		err := check(ctx)
		services[name] = err == nil
		if err != nil {
			healthy = false
			h.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, Ok(map[string]any{
		"status":         status,
		"healthy":        healthy,
		"timestamp":      time.Now().In(h.loc).Format(time.RFC3339),
		"services":       services,
		"stats":          h.stats.Stats(),
		"uptime_seconds": int64(h.stats.Uptime().Seconds()),
		"version":        version,
	}))
}

// ListAlerts GET /api/v1/alerts?hours=N&active=true
// 默认返回活跃告警；带 hours 时返回历史快照
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var alerts []models.Alert
	if q.Get("hours") != "" && q.Get("active") != "true" {
		alerts = h.history.Recent(clampHours(q.Get("hours"), 24, maxQueryHours))
	} else {
		alerts = h.alerts.Active()
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	writeJSON(w, http.StatusOK, Ok(alerts))
}

// AlertSummary GET /api/v1/alerts/summary
func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.history.Summary()))
}

// AcknowledgeAlert POST /api/v1/alerts/{device_id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, deviceID string) {
	if !h.alerts.Acknowledge(deviceID) {
		writeJSON(w, http.StatusNotFound, Fail("No active alert for device"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"device_id": deviceID, "message": "Alert acknowledged"}))
}

// ExportAlerts GET /api/v1/alerts/export?start=&end=&format=json|xlsx
func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now().UTC()
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid end time, expected RFC 3339"))
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid start time, expected RFC 3339"))
			return
		}
		start = t
	}

	if end.Before(start) {
		writeJSON(w, http.StatusBadRequest, Fail("end must not be before start"))
		return
	}
	if end.Sub(start) > maxExportRange {
		writeJSON(w, http.StatusBadRequest, Fail("export range must not exceed 30 days"))
		return
	}

	alerts := h.history.Between(start, end)
	if alerts == nil {
		alerts = []models.Alert{}
	}

	switch q.Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, Ok(alerts))
	case "xlsx":
		var buf bytes.Buffer
		if err := export.WriteAlertsXLSX(&buf, alerts); err != nil {
			h.logger.Error("Failed to export alerts", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("failed to export alerts"))
			return
		}
		filename := fmt.Sprintf("pm25-alerts-%s-%s.xlsx", start.Format("20060102"), end.Format("20060102"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		writeJSON(w, http.StatusBadRequest, Fail("format must be json or xlsx"))
	}
}

// CurrentData GET /api/v1/data/current?hours=N（直接返回 GeoJSON，不包 Result）
func (h *Handler) CurrentData(w http.ResponseWriter, r *http.Request) {
	hours := clampHours(r.URL.Query().Get("hours"), 24, maxQueryHours)

	points, err := h.store.QueryRecent(r.Context(), hours)
	if err != nil {
		h.logger.Error("Current data error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Failed to generate data"))
		return
	}

	w.Header().Set("Cache-Control", "max-age=60")
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	h.encode(w, export.BuildFeatureCollection(points, h.loc))
}

// DeviceSummary 设备最近一次上报
type DeviceSummary struct {
	DeviceID string          `json:"device_id"`
	LastSeen time.Time       `json:"last_seen"`
	Location models.Location `json:"location"`
	PM25     float64         `json:"pm25"`
}

// ListDevices GET /api/v1/devices 最近 24 小时内上报过的设备
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	points, err := h.store.QueryRecent(r.Context(), 24)
	if err != nil {
		h.logger.Error("Devices endpoint error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query devices"))
		return
	}

	latest := make(map[string]DeviceSummary)
	for _, p := range points {
		if d, ok := latest[p.DeviceID]; ok && !p.Time.After(d.LastSeen) {
			continue
		}
		latest[p.DeviceID] = DeviceSummary{
			DeviceID: p.DeviceID,
			LastSeen: p.Time,
			Location: models.Location{Latitude: p.Latitude, Longitude: p.Longitude},
			PM25:     p.PM25,
		}
	}

	devices := make([]DeviceSummary, 0, len(latest))
	for _, d := range latest {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })

	writeJSON(w, http.StatusOK, Ok(devices))
}

// DeviceStats GET /api/v1/devices/{device_id}/stats?hours=N
func (h *Handler) DeviceStats(w http.ResponseWriter, r *http.Request, deviceID string) {
	hours := clampHours(r.URL.Query().Get("hours"), 24, maxQueryHours)

	stats, err := h.store.DeviceStats(r.Context(), deviceID, hours)
	if err != nil {
		h.logger.Error("Device stats error", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query device stats"))
		return
	}
	if stats.Count == 0 {
		writeJSON(w, http.StatusNotFound, Fail("Device not found or no data"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(stats))
}

func (h *Handler) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}
