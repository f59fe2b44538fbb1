package models

import "time"

// Location 经纬度快照
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Alert 设备的一次告警（活跃表中可变，历史中为快照）
type Alert struct {
	ID           string        `json:"id"`
	DeviceID     string        `json:"device_id"`
	Level        SeverityLevel `json:"level"`
	PM25Value    float64       `json:"pm25_value"`
	Location     Location      `json:"location"`
	OpenedAt     time.Time     `json:"opened_at"`    // 升级时不重置
	TriggeredAt  time.Time     `json:"triggered_at"` // 打开或最近一次升级的读数时间
	Message      string        `json:"message"`
	Acknowledged bool          `json:"acknowledged"`
}

// TransitionType 状态迁移类型
type TransitionType string

// TransitionTriggered 打开与升级共用同一事件类型，消费者通过 Level 区分
const TransitionTriggered TransitionType = "triggered"

// TransitionEvent 告警打开/升级时发出的事件
type TransitionEvent struct {
	Type          TransitionType `json:"type"`
	Alert         Alert          `json:"alert"`
	PreviousLevel *SeverityLevel `json:"previous_level,omitempty"` // 打开时为 nil
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Escalation 是否为升级事件
func (e *TransitionEvent) Escalation() bool {
	return e.PreviousLevel != nil
}

// AlertSummary 告警汇总
type AlertSummary struct {
	ActiveCount             int            `json:"active_alerts"`
	ActiveByLevel           map[string]int `json:"active_by_level"`
	CountLast24h            int            `json:"alerts_last_24h"`
	DevicesWithActiveAlerts []string       `json:"devices_with_alerts"`
	MostRecentTriggerTime   *time.Time     `json:"last_alert_time"`
}
