package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ActiveSource 活跃告警来源（evaluator.AlertTable 实现）
type ActiveSource interface {
	Snapshot() []models.Alert
}

// CacheManager 活跃告警 Redis 镜像，供其他服务读取
// 镜像只是时点副本，进程内活跃表才是唯一真实来源
type CacheManager struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(redisClient *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		redisClient: redisClient,
		key:         key,
		ttl:         ttl,
		logger:      logger,
	}
}

// UpdateActiveAlerts 将活跃告警写入 Redis（设置 TTL）
func (c *CacheManager) UpdateActiveAlerts(ctx context.Context, alerts []models.Alert) error {
	if alerts == nil {
		alerts = []models.Alert{}
	}

	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal active alerts: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set active alert cache: %w", err)
	}

	c.logger.Debug("Updated active alert cache",
		zap.String("key", c.key),
		zap.Int("alert_count", len(alerts)),
	)
	return nil
}

// Sync 从 ActiveSource 取快照并写入 Redis
func (c *CacheManager) Sync(ctx context.Context, source ActiveSource) error {
	return c.UpdateActiveAlerts(ctx, source.Snapshot())
}

// GetActiveAlerts 读取镜像（键不存在时返回空切片）
func (c *CacheManager) GetActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	val, err := c.redisClient.Get(ctx, c.key).Result()
	if err != nil {
		if err == redis.Nil {
			return []models.Alert{}, nil
		}
		return nil, fmt.Errorf("failed to get active alert cache: %w", err)
	}

	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal active alerts: %w", err)
	}
	return alerts, nil
}
