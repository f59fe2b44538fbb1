package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bejranonda/pm2.5-ghostbuster/common/config"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
)

// ErrConfiguration 配置无效，启动时致命
var ErrConfiguration = errors.New("invalid configuration")

// Config 采集服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	SMTP     config.SMTPConfig

	// 采集服务特定配置
	Collector struct {
		MinAlertLevel      models.SeverityLevel // 最低告警等级，默认 unhealthy
		HistorySize        int                  // 告警历史容量，默认 1000
		StatsLogInterval   int                  // 统计日志间隔（秒），默认 300
		RetentionHours     int                  // 时序数据保留时长（小时），默认 720
		CacheSyncInterval  int                  // 活跃告警缓存同步间隔（秒），默认 10
		ActiveAlertKey     string               // 活跃告警缓存键，如 "pm25:alerts:active"
		ActiveAlertTTL     int                  // 活跃告警缓存 TTL（秒），默认 30
		AlertStream        string               // 告警事件 Redis Stream
		AlertStreamMaxLen  int64                // Stream 最大长度（近似裁剪）
		NotifyTimeout      int                  // 单个通知渠道超时（秒），默认 10
		PayloadExcerptSize int                  // 丢弃日志中的负载摘录长度
		WriteTimeout       int                  // 单次持久化超时（秒），默认 5
		IngestWorkers      int                  // 按设备分片的处理 worker 数，默认 8
		Timezone           string               // 展示时间使用的时区，默认 Asia/Bangkok
	}

	GeoJSON struct {
		OutputPath     string // 快照输出路径
		UpdateInterval int    // 导出间隔（秒），默认 60
		WindowHours    int    // 快照时间窗口（小时），默认 24
	}

	API struct {
		Enabled bool
		Port    int
	}

	Notify struct {
		AlertEmail string // 邮件收件人，空表示不发送
		MapURL     string // 邮件正文中的地图链接
		WebhookURL string // 空表示不启用 webhook
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "pm25gps",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:      "tcp://mqtt.thalay.eu:1883",
		ClientID:    "pm25-collector",
		Username:    "pm25",
		TopicPrefix: "pm25",
		QoS:         1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.SMTP = config.SMTPConfig{Port: 587, From: "pm25-ghostbuster@thalay.eu"}
	cfg.SMTP.LoadFromEnv("SMTP")

	// 采集服务配置
	level, err := models.ParseSeverityLevel(getEnv("MIN_ALERT_LEVEL", "unhealthy"))
	if err != nil {
		return nil, fmt.Errorf("%w: MIN_ALERT_LEVEL: %v", ErrConfiguration, err)
	}
	cfg.Collector.MinAlertLevel = level

	if cfg.Collector.HistorySize, err = getEnvInt("ALERT_HISTORY_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.Collector.HistorySize <= 0 {
		return nil, fmt.Errorf("%w: ALERT_HISTORY_SIZE must be positive, got %d", ErrConfiguration, cfg.Collector.HistorySize)
	}
	if cfg.Collector.StatsLogInterval, err = getEnvInt("STATS_LOG_INTERVAL", 300); err != nil {
		return nil, err
	}
	if cfg.Collector.RetentionHours, err = getEnvInt("DATA_RETENTION_HOURS", 720); err != nil {
		return nil, err
	}
	cfg.Collector.CacheSyncInterval = 10
	cfg.Collector.ActiveAlertKey = getEnv("CACHE_ACTIVE_ALERTS_KEY", "pm25:alerts:active")
	cfg.Collector.ActiveAlertTTL = 30 // 30秒
	cfg.Collector.AlertStream = getEnv("ALERT_STREAM", "pm25:alerts:stream")
	cfg.Collector.AlertStreamMaxLen = 10000
	cfg.Collector.NotifyTimeout = 10
	cfg.Collector.PayloadExcerptSize = 256
	if cfg.Collector.WriteTimeout, err = getEnvInt("WRITE_TIMEOUT", 5); err != nil {
		return nil, err
	}
	if cfg.Collector.IngestWorkers, err = getEnvInt("INGEST_WORKERS", 8); err != nil {
		return nil, err
	}
	cfg.Collector.Timezone = getEnv("DEFAULT_TIMEZONE", "Asia/Bangkok")

	cfg.GeoJSON.OutputPath = getEnv("GEOJSON_OUTPUT_PATH", "/var/www/html/gj/pm25gps.geojson")
	if cfg.GeoJSON.UpdateInterval, err = getEnvInt("GEOJSON_UPDATE_INTERVAL", 60); err != nil {
		return nil, err
	}
	cfg.GeoJSON.WindowHours = 24

	cfg.API.Enabled = getEnvBool("ENABLE_API", true)
	if cfg.API.Port, err = getEnvInt("API_PORT", 5000); err != nil {
		return nil, err
	}

	cfg.Notify.AlertEmail = getEnv("ALERT_EMAIL", "")
	cfg.Notify.MapURL = getEnv("MAP_URL", "https://map.thalay.eu")
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", "")
	cfg.SMTP.To = cfg.Notify.AlertEmail

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.GeoJSON.UpdateInterval <= 0 || cfg.Collector.StatsLogInterval <= 0 {
		return nil, fmt.Errorf("%w: intervals must be positive", ErrConfiguration)
	}
	if cfg.Collector.WriteTimeout <= 0 || cfg.Collector.IngestWorkers <= 0 {
		return nil, fmt.Errorf("%w: WRITE_TIMEOUT and INGEST_WORKERS must be positive", ErrConfiguration)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrConfiguration, key, value)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
