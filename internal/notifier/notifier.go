package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/metrics"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"go.uber.org/zap"
)

// ErrNotification 通知渠道投递失败
var ErrNotification = errors.New("notification failed")

// Channel 告警通知渠道
type Channel interface {
	// Name 渠道名称（用于日志与指标）
	Name() string

	// Deliver 投递一次迁移事件
	Deliver(ctx context.Context, event *models.TransitionEvent) error
}

// Notifier 按注册顺序向所有渠道扇出事件
// 单个渠道的错误或 panic 不影响后续渠道
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   *zap.Logger
}

// NewNotifier 创建通知器
func NewNotifier(logger *zap.Logger, channels ...Channel) *Notifier {
	n := &Notifier{logger: logger}
	for _, ch := range channels {
		n.Register(ch)
	}
	return n
}

// Register 注册渠道（可与 Notify 并发调用）
func (n *Notifier) Register(ch Channel) {
	if ch == nil {
		return
	}
	n.mu.Lock()
	n.channels = append(n.channels, ch)
	n.mu.Unlock()

	n.logger.Info("Registered notification channel", zap.String("channel", ch.Name()))
}

// Channels 已注册渠道名称
func (n *Notifier) Channels() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name()
	}
	return names
}

// Notify 投递事件，不返回错误，不会 panic
func (n *Notifier) Notify(ctx context.Context, event *models.TransitionEvent) {
	if event == nil {
		return
	}

	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	for _, ch := range channels {
		if err := n.deliver(ctx, ch, event); err != nil {
			metrics.RecordNotificationFailure(ch.Name())
			n.logger.Error("Error in alert callback",
				zap.String("channel", ch.Name()),
				zap.String("device_id", event.Alert.DeviceID),
				zap.String("level", event.Alert.Level.String()),
				zap.Error(err),
			)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ch Channel, event *models.TransitionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: channel %s panicked: %v", ErrNotification, ch.Name(), r)
		}
	}()

	if err := ch.Deliver(ctx, event); err != nil {
		if errors.Is(err, ErrNotification) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrNotification, ch.Name(), err)
	}
	return nil
}
