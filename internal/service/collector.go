package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/common/database"
	"github.com/bejranonda/pm2.5-ghostbuster/common/mqtt"
	rediscommon "github.com/bejranonda/pm2.5-ghostbuster/common/redis"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/config"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/consumer"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/evaluator"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/export"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/history"
	httpapi "github.com/bejranonda/pm2.5-ghostbuster/internal/http"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/notifier"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/repository"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/websocket"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MQTTConn MQTT 连接（common/mqtt.Client 实现）
type MQTTConn interface {
	consumer.Subscriber
	IsConnected() bool
	Disconnect()
}

// CollectorService 采集服务（整合各层）
type CollectorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  MQTTConn
	logger      *zap.Logger

	// 各层组件
	measurementsRepo *repository.MeasurementsRepository
	alertTable       *evaluator.AlertTable
	ledger           *history.Ledger
	stateMachine     *evaluator.StateMachine
	notifier         *notifier.Notifier
	hub              *websocket.Hub
	coordinator      *Coordinator
	mqttConsumer     *consumer.MQTTConsumer
	cacheManager     *consumer.CacheManager
	geojson          *export.GeoJSONExporter
	scheduler        *Scheduler
	httpServer       *http.Server
}

// NewCollectorService 连接外部依赖并创建采集服务
func NewCollectorService(cfg *config.Config, logger *zap.Logger) (*CollectorService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	return newCollectorService(cfg, db, redisClient, mqttClient, logger)
}

// newCollectorService 基于已建立的连接组装各层组件
func newCollectorService(cfg *config.Config, db *sql.DB, redisClient *redis.Client, mqttClient MQTTConn, logger *zap.Logger) (*CollectorService, error) {
	loc, err := time.LoadLocation(cfg.Collector.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone, falling back to UTC", zap.String("timezone", cfg.Collector.Timezone), zap.Error(err))
		loc = time.UTC
	}

	// Repository 层
	measurementsRepo := repository.NewMeasurementsRepository(db, logger)

	// Evaluator 层（活跃告警表由服务持有并注入）
	alertTable := evaluator.NewAlertTable()
	ledger := history.NewLedger(cfg.Collector.HistorySize, alertTable)
	stateMachine := evaluator.NewStateMachine(alertTable, ledger, cfg.Collector.MinAlertLevel, logger)

	// 通知渠道（按注册顺序投递）
	hub := websocket.NewHub(logger)
	n := notifier.NewNotifier(logger, notifier.NewLogObserver(logger))
	if email := notifier.NewEmailChannel(cfg.SMTP, cfg.Notify.MapURL, loc); email != nil {
		n.Register(email)
	}
	if webhook := notifier.NewWebhookChannel(cfg.Notify.WebhookURL, time.Duration(cfg.Collector.NotifyTimeout)*time.Second); webhook != nil {
		n.Register(webhook)
	}
	n.Register(notifier.NewStreamChannel(redisClient, cfg.Collector.AlertStream, cfg.Collector.AlertStreamMaxLen))
	n.Register(hub)

	// 采集协调器
	coordinator := NewCoordinator(measurementsRepo, stateMachine, n, logger,
		WithPayloadExcerpt(cfg.Collector.PayloadExcerptSize),
		WithNotifyTimeout(time.Duration(cfg.Collector.NotifyTimeout)*time.Second),
		WithWriteTimeout(time.Duration(cfg.Collector.WriteTimeout)*time.Second),
	)

	// Consumer 层
	mqttConsumer := consumer.NewMQTTConsumer(mqttClient, coordinator, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, logger,
		consumer.WithWorkers(cfg.Collector.IngestWorkers, consumer.DefaultQueueSize),
	)
	cacheManager := consumer.NewCacheManager(redisClient, cfg.Collector.ActiveAlertKey,
		time.Duration(cfg.Collector.ActiveAlertTTL)*time.Second, logger)

	geojson := export.NewGeoJSONExporter(measurementsRepo, cfg.GeoJSON.OutputPath, cfg.GeoJSON.WindowHours, loc, logger)

	s := &CollectorService{
		config:           cfg,
		db:               db,
		redisClient:      redisClient,
		mqttClient:       mqttClient,
		logger:           logger,
		measurementsRepo: measurementsRepo,
		alertTable:       alertTable,
		ledger:           ledger,
		stateMachine:     stateMachine,
		notifier:         n,
		hub:              hub,
		coordinator:      coordinator,
		mqttConsumer:     mqttConsumer,
		cacheManager:     cacheManager,
		geojson:          geojson,
		scheduler:        NewScheduler(logger),
	}

	if err := s.scheduleJobs(); err != nil {
		return nil, err
	}

	// HTTP API
	if cfg.API.Enabled {
		h := httpapi.NewHandler(coordinator, stateMachine, ledger, measurementsRepo, loc, logger)
		h.AddHealthCheck("database", func(ctx context.Context) error { return database.Ping(ctx, db) })
		h.AddHealthCheck("redis", func(ctx context.Context) error { return rediscommon.Ping(ctx, redisClient) })
		h.AddHealthCheck("mqtt", func(context.Context) error {
			if !mqttClient.IsConnected() {
				return errors.New("mqtt disconnected")
			}
			return nil
		})
		h.SetWebSocket(hub.ServeWS)

		router := httpapi.NewRouter(logger)
		router.RegisterRoutes(h)
		s.httpServer = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.API.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	logger.Info("Collector service initialized",
		zap.String("min_alert_level", cfg.Collector.MinAlertLevel.String()),
		zap.Int("history_size", cfg.Collector.HistorySize),
		zap.Strings("channels", n.Channels()),
	)
	return s, nil
}

func (s *CollectorService) scheduleJobs() error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(ctx context.Context) error
	}{
		{"geojson_export", time.Duration(s.config.GeoJSON.UpdateInterval) * time.Second, s.geojson.Export},
		{"stats_log", time.Duration(s.config.Collector.StatsLogInterval) * time.Second, s.logStatistics},
		{"active_alert_cache", time.Duration(s.config.Collector.CacheSyncInterval) * time.Second, s.syncActiveAlerts},
		{"retention_cleanup", time.Hour, s.cleanup},
	}
	for _, j := range jobs {
		if err := s.scheduler.Every(j.name, j.interval, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// Start 启动服务，阻塞直到 ctx 取消
func (s *CollectorService) Start(ctx context.Context) error {
	s.logger.Info("Starting PM2.5 collector service",
		zap.String("topic", s.mqttConsumer.Topic()),
	)

	if err := s.measurementsRepo.EnsureSchema(ctx); err != nil {
		return err
	}

	go s.hub.Run(ctx)

	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}

	s.scheduler.Start()

	serverErr := make(chan error, 1)
	if s.httpServer != nil {
		go func() {
			s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return err
	}
}

// Stop 停止服务（先停止接收，再等待处理中的消息，最后关闭连接）
// 采集使用独立于 Start ctx 的上下文，ctx 取消后已接收的消息仍能写入
func (s *CollectorService) Stop() error {
	s.logger.Info("Stopping collector service")

	if err := s.mqttConsumer.Stop(); err != nil {
		s.logger.Warn("Failed to unsubscribe", zap.Error(err))
	}
	s.coordinator.Close()
	s.scheduler.Stop()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shut down API server", zap.Error(err))
		}
	}

	s.logStatistics(context.Background())

	s.mqttClient.Disconnect()

	// 关闭数据库连接
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	// 关闭 Redis 连接
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// logStatistics 定时输出运行统计
func (s *CollectorService) logStatistics(context.Context) error {
	stats := s.coordinator.Stats()
	uptime := s.coordinator.Uptime()

	fields := []zap.Field{
		zap.Float64("uptime_hours", uptime.Hours()),
		zap.Int64("messages_processed", stats.MeasurementsProcessed),
		zap.Int64("alerts_generated", stats.AlertsTriggered),
		zap.Int("active_alerts", s.alertTable.Len()),
		zap.Int("history_size", s.ledger.Len()),
		zap.Int("websocket_clients", s.hub.ClientCount()),
	}
	if stats.LastMeasurementAt != nil {
		fields = append(fields, zap.Time("last_measurement_time", *stats.LastMeasurementAt))
	}

	s.logger.Info("Collector statistics", fields...)
	return nil
}

// syncActiveAlerts 活跃告警镜像到 Redis
func (s *CollectorService) syncActiveAlerts(ctx context.Context) error {
	return s.cacheManager.Sync(ctx, s.alertTable)
}

// cleanup 删除超过保留时长的读数
func (s *CollectorService) cleanup(ctx context.Context) error {
	_, err := s.measurementsRepo.Cleanup(ctx, s.config.Collector.RetentionHours)
	return err
}
