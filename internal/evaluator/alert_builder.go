package evaluator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/google/uuid"
)

// buildMessage 生成告警消息，如 "Air quality is unhealthy. PM2.5: 80.5 μg/m³"
func buildMessage(level models.SeverityLevel, pm25 float64) string {
	return fmt.Sprintf("%s. PM2.5: %s μg/m³", level.Band().Message, strconv.FormatFloat(pm25, 'f', -1, 64))
}

// buildAlert 构建新打开的告警
func buildAlert(deviceID string, level models.SeverityLevel, pm25 float64, loc models.Location, ts time.Time) models.Alert {
	return models.Alert{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		Level:       level,
		PM25Value:   pm25,
		Location:    loc,
		OpenedAt:    ts,
		TriggeredAt: ts,
		Message:     buildMessage(level, pm25),
	}
}

// escalate 原地升级；OpenedAt、ID、Acknowledged 保持不变
func escalate(a *models.Alert, level models.SeverityLevel, pm25 float64, loc models.Location, ts time.Time) {
	a.Level = level
	a.PM25Value = pm25
	a.Location = loc
	a.TriggeredAt = ts
	a.Message = buildMessage(level, pm25)
}
