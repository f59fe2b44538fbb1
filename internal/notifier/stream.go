package notifier

import (
	"context"
	"fmt"

	rediscommon "github.com/bejranonda/pm2.5-ghostbuster/common/redis"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/go-redis/redis/v8"
)

// DefaultAlertStream 告警事件 Stream 名称
const DefaultAlertStream = "pm25:alerts:stream"

// StreamChannel 将事件追加到 Redis Stream，供下游服务消费
type StreamChannel struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamChannel 创建 Stream 渠道
func NewStreamChannel(client *redis.Client, stream string, maxLen int64) *StreamChannel {
	if stream == "" {
		stream = DefaultAlertStream
	}
	return &StreamChannel{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (c *StreamChannel) Name() string { return "redis_stream" }

func (c *StreamChannel) Deliver(ctx context.Context, event *models.TransitionEvent) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, c.client, c.stream, c.maxLen, event); err != nil {
		return fmt.Errorf("%w: stream %s: %v", ErrNotification, c.stream, err)
	}
	return nil
}
