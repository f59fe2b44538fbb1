package evaluator

import (
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"go.uber.org/zap"
)

// Action 状态机对一次读数做出的决定
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionEscalate
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionEscalate:
		return "escalate"
	case ActionClear:
		return "clear"
	default:
		return "none"
	}
}

// Decide 纯决策函数
// current 为设备当前活跃告警等级（无活跃告警为 nil）
func Decide(current *models.SeverityLevel, next, minLevel models.SeverityLevel) Action {
	if current == nil {
		if next >= minLevel {
			return ActionOpen
		}
		return ActionNone
	}

	switch {
	case next > *current && next >= minLevel:
		return ActionEscalate
	case next < *current:
		return ActionClear
	default:
		// 同级永远是 no-op，不会重复触发
		return ActionNone
	}
}

// HistorySink 告警历史追加接口
type HistorySink interface {
	Append(alert models.Alert)
}

// StateMachine 每设备告警状态机
type StateMachine struct {
	table    *AlertTable
	history  HistorySink
	minLevel models.SeverityLevel
	logger   *zap.Logger
}

// NewStateMachine 创建状态机（活跃告警表由调用方创建并注入）
func NewStateMachine(table *AlertTable, history HistorySink, minLevel models.SeverityLevel, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		table:    table,
		history:  history,
		minLevel: minLevel,
		logger:   logger,
	}
}

// MinLevel 最低告警等级
func (s *StateMachine) MinLevel() models.SeverityLevel {
	return s.minLevel
}

// Table 返回注入的活跃告警表
func (s *StateMachine) Table() *AlertTable {
	return s.table
}

// Apply 根据新读数推进设备状态，打开或升级时返回迁移事件
// 调用方必须持有该设备的设备锁（AlertTable.LockDevice）
func (s *StateMachine) Apply(deviceID string, level models.SeverityLevel, pm25 float64, loc models.Location, ts time.Time) *models.TransitionEvent {
	var current *models.SeverityLevel
	if active, ok := s.table.Get(deviceID); ok {
		l := active.Level
		current = &l
	}

	switch Decide(current, level, s.minLevel) {
	case ActionOpen:
		alert := buildAlert(deviceID, level, pm25, loc, ts)
		s.table.put(alert)
		s.history.Append(alert)

		s.logger.Warn("ALERT TRIGGERED",
			zap.String("device_id", deviceID),
			zap.String("level", level.String()),
			zap.Float64("pm25", pm25),
			zap.String("message", alert.Message),
		)
		return &models.TransitionEvent{
			Type:       models.TransitionTriggered,
			Alert:      alert,
			OccurredAt: ts,
		}

	case ActionEscalate:
		alert, ok := s.table.update(deviceID, func(a *models.Alert) {
			escalate(a, level, pm25, loc, ts)
		})
		if !ok {
			return nil
		}
		s.history.Append(alert)

		s.logger.Warn("ALERT ESCALATED",
			zap.String("device_id", deviceID),
			zap.String("from_level", current.String()),
			zap.String("level", level.String()),
			zap.Float64("pm25", pm25),
		)
		prev := *current
		return &models.TransitionEvent{
			Type:          models.TransitionTriggered,
			Alert:         alert,
			PreviousLevel: &prev,
			OccurredAt:    ts,
		}

	case ActionClear:
		// 清除不产生事件，也不写历史
		s.table.remove(deviceID)
		s.logger.Info("Clearing alert - conditions improved",
			zap.String("device_id", deviceID),
			zap.String("from_level", current.String()),
			zap.String("level", level.String()),
		)
	}

	return nil
}

// Active 当前活跃告警（时点副本）
func (s *StateMachine) Active() []models.Alert {
	return s.table.Snapshot()
}

// Acknowledge 确认设备的活跃告警
func (s *StateMachine) Acknowledge(deviceID string) bool {
	if !s.table.Acknowledge(deviceID) {
		return false
	}
	s.logger.Info("Alert acknowledged", zap.String("device_id", deviceID))
	return true
}
