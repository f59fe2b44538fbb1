package consumer

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/bejranonda/pm2.5-ghostbuster/common/mqtt"

	"go.uber.org/zap"
)

const (
	// DefaultWorkers 默认分片 worker 数
	DefaultWorkers = 8
	// DefaultQueueSize 每个 worker 的队列长度
	DefaultQueueSize = 256
)

// Subscriber MQTT 订阅接口（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Ingestor 读数处理接口（service.Coordinator 实现）
type Ingestor interface {
	Ingest(ctx context.Context, deviceID string, payload []byte)
}

type message struct {
	deviceID string
	payload  []byte
}

// MQTTConsumer 订阅 {prefix}/+/air 并把负载交给 Ingestor
// 按 device_id 哈希分片到固定 worker：同一设备按到达顺序处理，不同设备并行
type MQTTConsumer struct {
	subscriber Subscriber
	ingestor   Ingestor
	prefix     string
	qos        byte
	logger     *zap.Logger

	workers   int
	queueSize int

	ctx     context.Context
	mu      sync.RWMutex
	queues  []chan message
	stopped bool
	wg      sync.WaitGroup
}

// ConsumerOption 消费者选项
type ConsumerOption func(*MQTTConsumer)

// WithWorkers 设置 worker 数和每个 worker 的队列长度
func WithWorkers(workers, queueSize int) ConsumerOption {
	return func(c *MQTTConsumer) {
		if workers > 0 {
			c.workers = workers
		}
		if queueSize > 0 {
			c.queueSize = queueSize
		}
	}
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(subscriber Subscriber, ingestor Ingestor, prefix string, qos byte, logger *zap.Logger, opts ...ConsumerOption) *MQTTConsumer {
	c := &MQTTConsumer{
		subscriber: subscriber,
		ingestor:   ingestor,
		prefix:     strings.Trim(prefix, "/"),
		qos:        qos,
		logger:     logger,
		workers:    DefaultWorkers,
		queueSize:  DefaultQueueSize,
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Topic 订阅主题
func (c *MQTTConsumer) Topic() string {
	return c.prefix + "/+/air"
}

// Start 启动 worker 并订阅主题
// Ingest 使用的上下文不随 ctx 取消，关闭时由 Stop 排空队列
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = context.WithoutCancel(ctx)
	c.queues = make([]chan message, c.workers)
	for i := range c.queues {
		q := make(chan message, c.queueSize)
		c.queues[i] = q
		c.wg.Add(1)
		go c.work(q)
	}
	c.mu.Unlock()

	if err := c.subscriber.Subscribe(c.Topic(), c.qos, c.HandleMessage); err != nil {
		c.drain()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.logger.Info("Subscribed to telemetry topic",
		zap.String("topic", c.Topic()),
		zap.Uint8("qos", c.qos),
		zap.Int("workers", c.workers),
	)
	return nil
}

// Stop 取消订阅，等待队列中已接收的消息处理完
func (c *MQTTConsumer) Stop() error {
	err := c.subscriber.Unsubscribe(c.Topic())
	c.drain()
	return err
}

func (c *MQTTConsumer) drain() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		for _, q := range c.queues {
			close(q)
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *MQTTConsumer) work(q <-chan message) {
	defer c.wg.Done()
	for msg := range q {
		c.ingestor.Ingest(c.ctx, msg.deviceID, msg.payload)
	}
}

// HandleMessage 处理一条 MQTT 消息
// 主题格式 {prefix}/{device_id}/air，段数不足时丢弃
// 队列满时阻塞，向 broker 施加背压
func (c *MQTTConsumer) HandleMessage(topic string, payload []byte) error {
	deviceID, ok := DeviceIDFromTopic(topic)
	if !ok {
		c.logger.Warn("Dropping message with unexpected topic", zap.String("topic", topic))
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped || len(c.queues) == 0 {
		c.logger.Warn("Consumer not running, dropping message", zap.String("device_id", deviceID))
		return nil
	}

	c.queues[shard(deviceID, len(c.queues))] <- message{deviceID: deviceID, payload: payload}
	return nil
}

func shard(deviceID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

// DeviceIDFromTopic 取主题第二段作为设备ID
func DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
