package notifier

import (
	"context"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"go.uber.org/zap"
)

// LogObserver 进程内观察者，将事件写入日志
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver 创建日志观察者
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Name() string { return "log" }

func (o *LogObserver) Deliver(_ context.Context, event *models.TransitionEvent) error {
	fields := []zap.Field{
		zap.String("alert_id", event.Alert.ID),
		zap.String("device_id", event.Alert.DeviceID),
		zap.String("level", event.Alert.Level.String()),
		zap.Float64("pm25", event.Alert.PM25Value),
		zap.Float64("latitude", event.Alert.Location.Latitude),
		zap.Float64("longitude", event.Alert.Location.Longitude),
		zap.Time("triggered_at", event.Alert.TriggeredAt),
	}
	if event.Escalation() {
		fields = append(fields, zap.String("previous_level", event.PreviousLevel.String()))
	}

	o.logger.Warn(event.Alert.Message, fields...)
	return nil
}
