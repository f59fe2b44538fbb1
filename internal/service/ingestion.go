package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/evaluator"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/metrics"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/parser"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/repository"

	"go.uber.org/zap"
)

const (
	// DefaultPayloadExcerpt 丢弃日志中保留的负载字节数
	DefaultPayloadExcerpt = 256
	// DefaultWriteTimeout 单次持久化超时
	DefaultWriteTimeout = 5 * time.Second
)

// EventNotifier 迁移事件扇出接口（notifier.Notifier 实现）
type EventNotifier interface {
	Notify(ctx context.Context, event *models.TransitionEvent)
}

// Coordinator 采集协调器：解析 -> 持久化 -> 分级 -> 状态机 -> 通知
type Coordinator struct {
	store    repository.MeasurementStore
	machine  *evaluator.StateMachine
	notifier EventNotifier
	logger   *zap.Logger

	now           func() time.Time
	excerptSize   int
	notifyTimeout time.Duration
	writeTimeout  time.Duration

	processed   atomic.Int64
	triggered   atomic.Int64
	lastMeasure atomic.Pointer[time.Time]
	startedAt   time.Time

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// CoordinatorOption 协调器选项
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock 替换时钟（测试用）
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithPayloadExcerpt 设置丢弃日志中的负载摘录长度
func WithPayloadExcerpt(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.excerptSize = n
		}
	}
}

// WithNotifyTimeout 单次通知扇出的超时
func WithNotifyTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.notifyTimeout = d }
}

// WithWriteTimeout 单次持久化的超时
func WithWriteTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// NewCoordinator 创建采集协调器
func NewCoordinator(
	store repository.MeasurementStore,
	machine *evaluator.StateMachine,
	notifier EventNotifier,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		store:        store,
		machine:      machine,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
		excerptSize:  DefaultPayloadExcerpt,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.now().UTC()
	return c
}

// Ingest 处理一条原始负载，任何失败都只记录日志
func (c *Coordinator) Ingest(ctx context.Context, deviceID string, payload []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.logger.Warn("Coordinator closed, dropping message", zap.String("device_id", deviceID))
		return
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()

	// 1. 解析
	receivedAt := c.now()
	m, err := parser.Parse(deviceID, payload, receivedAt)
	if err != nil {
		metrics.RecordParseFailure(parseFailureReason(err))
		c.logger.Warn("Dropping invalid measurement",
			zap.String("device_id", deviceID),
			zap.Error(err),
			zap.ByteString("payload", c.excerpt(payload)),
		)
		return
	}

	// 2. 设备锁，同一设备的迁移按获取锁的顺序串行
	unlock := c.machine.Table().LockDevice(m.DeviceID)
	defer unlock()

	// 3. 计数器
	c.processed.Add(1)
	metrics.MeasurementsTotal.Inc()
	at := receivedAt.UTC()
	c.lastMeasure.Store(&at)

	// 4. 持久化，失败不影响告警
	if err := c.write(ctx, m); err != nil {
		metrics.PersistenceFailuresTotal.Inc()
		c.logger.Error("Failed to persist measurement",
			zap.String("device_id", m.DeviceID),
			zap.Error(err),
		)
	}

	// 5. 分级 + 状态机
	level := evaluator.Classify(m.PM25)
	event := c.machine.Apply(m.DeviceID, level, m.PM25, m.Location(), m.Timestamp)
	metrics.SetActiveAlerts(c.machine.Table().Len())

	c.logger.Debug("Processed measurement",
		zap.String("device_id", m.DeviceID),
		zap.Float64("pm25", m.PM25),
		zap.String("level", level.String()),
	)

	// 6. 通知
	if event == nil {
		return
	}
	c.triggered.Add(1)
	metrics.RecordAlertTriggered(event.Alert.Level.String())

	notifyCtx := ctx
	if c.notifyTimeout > 0 {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(ctx, c.notifyTimeout)
		defer cancel()
	}
	c.notifier.Notify(notifyCtx, event)
}

func (c *Coordinator) write(ctx context.Context, m *models.Measurement) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.store.Write(ctx, m)
}

// Stats 计数器快照
func (c *Coordinator) Stats() models.IngestionStats {
	stats := models.IngestionStats{
		MeasurementsProcessed: c.processed.Load(),
		AlertsTriggered:       c.triggered.Load(),
		StartedAt:             c.startedAt,
	}
	if last := c.lastMeasure.Load(); last != nil {
		t := *last
		stats.LastMeasurementAt = &t
	}
	return stats
}

// Uptime 运行时长
func (c *Coordinator) Uptime() time.Duration {
	return c.now().Sub(c.startedAt)
}

// Close 停止接收新消息并等待处理中的调用完成
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
}

func (c *Coordinator) excerpt(payload []byte) []byte {
	if len(payload) > c.excerptSize {
		return payload[:c.excerptSize]
	}
	return payload
}

func parseFailureReason(err error) string {
	switch {
	case errors.Is(err, parser.ErrMissingField):
		return "missing_field"
	case errors.Is(err, parser.ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "unknown"
	}
}
