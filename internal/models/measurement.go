package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Measurement 一次传感器读数（解析后的规范化数据，构造后不可修改）
type Measurement struct {
	DeviceID  string                     `json:"device_id"`
	PM25      float64                    `json:"pm25"`      // μg/m³，非负
	Latitude  float64                    `json:"latitude"`  // 范围由生产端保证
	Longitude float64                    `json:"longitude"` // 范围由生产端保证
	Timestamp time.Time                  `json:"timestamp"`
	Speed     *float64                   `json:"speed,omitempty"`
	Extra     map[string]json.RawMessage `json:"extra,omitempty"` // 生产端自定义字段，原样透传
}

// Location 返回读数的位置快照
func (m *Measurement) Location() Location {
	return Location{Latitude: m.Latitude, Longitude: m.Longitude}
}

func (m *Measurement) String() string {
	return fmt.Sprintf("PM2.5: %g μg/m³ at (%g, %g) from %s", m.PM25, m.Latitude, m.Longitude, m.DeviceID)
}

// StoredPoint 从时序库读回的一条记录
type StoredPoint struct {
	DeviceID  string                     `json:"device_id"`
	Time      time.Time                  `json:"time"`
	PM25      float64                    `json:"pm25"`
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Speed     *float64                   `json:"speed,omitempty"`
	Extra     map[string]json.RawMessage `json:"extra,omitempty"`
}

// DeviceStats 单设备时间窗口内的统计
type DeviceStats struct {
	DeviceID string  `json:"device_id"`
	Hours    int     `json:"hours"`
	Count    int64   `json:"count"`
	AvgPM25  float64 `json:"avg_pm25"`
	MinPM25  float64 `json:"min_pm25"`
	MaxPM25  float64 `json:"max_pm25"`
}

// IngestionStats 采集协调器计数器（单调递增）
type IngestionStats struct {
	MeasurementsProcessed int64      `json:"messages_processed"`
	AlertsTriggered       int64      `json:"alerts_generated"`
	LastMeasurementAt     *time.Time `json:"last_measurement_time,omitempty"`
	StartedAt             time.Time  `json:"start_time"`
}
