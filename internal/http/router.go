package httpapi

import (
	"net/http"
	"strings"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes 注册采集服务 API
func (r *Router) RegisterRoutes(h *Handler) {
	r.Handle("/api/v1/health", func(w http.ResponseWriter, req *http.Request) {
		if methodAllowed(w, req, http.MethodGet) {
			h.Health(w, req)
		}
	})

	r.Handle("/api/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		if methodAllowed(w, req, http.MethodGet) {
			h.ListAlerts(w, req)
		}
	})
	r.Handle("/api/v1/alerts/summary", func(w http.ResponseWriter, req *http.Request) {
		if methodAllowed(w, req, http.MethodGet) {
			h.AlertSummary(w, req)
		}
	})
	r.Handle("/api/v1/alerts/export", func(w http.ResponseWriter, req *http.Request) {
		if methodAllowed(w, req, http.MethodGet) {
			h.ExportAlerts(w, req)
		}
	})

	// alerts/{device_id}/acknowledge
	r.Handle("/api/v1/alerts/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/alerts/")
		deviceID, action, ok := strings.Cut(rest, "/")
		if !ok || deviceID == "" || action != "acknowledge" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if methodAllowed(w, req, http.MethodPost) {
			h.AcknowledgeAlert(w, req, deviceID)
		}
	})

	r.Handle("/api/v1/data/current", func(w http.ResponseWriter, req *http.Request) {
		if methodAllowed(w, req, http.MethodGet) {
			h.CurrentData(w, req)
		}
	})

	r.Handle("/api/v1/devices", func(w http.ResponseWriter, req *http.Request) {
		if methodAllowed(w, req, http.MethodGet) {
			h.ListDevices(w, req)
		}
	})

	// devices/{device_id}/stats
	r.Handle("/api/v1/devices/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/devices/")
		deviceID, action, ok := strings.Cut(rest, "/")
		if !ok || deviceID == "" || action != "stats" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if methodAllowed(w, req, http.MethodGet) {
			h.DeviceStats(w, req, deviceID)
		}
	})

	if h.ws != nil {
		r.Handle("/api/v1/ws", h.ws)
	}

	r.HandleHandler("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}
