package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// SeverityLevel PM2.5 严重等级（有序，可直接比较大小）
type SeverityLevel int

const (
	LevelGood SeverityLevel = iota
	LevelModerate
	LevelUnhealthySensitive
	LevelUnhealthy
	LevelVeryUnhealthy
	LevelHazardous
)

// LevelCount 等级数量
const LevelCount = 6

// SeverityBand 等级对应的浓度区间 [Min, Max)
type SeverityBand struct {
	Level   SeverityLevel
	Min     float64
	Max     float64 // 最高等级为 +Inf
	Color   string
	Message string
}

// Bands 静态等级表（WHO/EPA 阈值，按 Level 索引，区间首尾相接）
var Bands = [LevelCount]SeverityBand{
	{LevelGood, 0, 12.1, "#00e400", "Air quality is good"},
	{LevelModerate, 12.1, 35.5, "#ffff00", "Air quality is moderate"},
	{LevelUnhealthySensitive, 35.5, 55.5, "#ff7e00", "Unhealthy for sensitive groups"},
	{LevelUnhealthy, 55.5, 150.5, "#ff0000", "Air quality is unhealthy"},
	{LevelVeryUnhealthy, 150.5, 250.5, "#8f3f97", "Air quality is very unhealthy"},
	{LevelHazardous, 250.5, math.Inf(1), "#7e0023", "Air quality is hazardous"},
}

var levelNames = [LevelCount]string{
	"good",
	"moderate",
	"unhealthy_for_sensitive",
	"unhealthy",
	"very_unhealthy",
	"hazardous",
}

// Valid 是否为已定义的等级
func (l SeverityLevel) Valid() bool {
	return l >= LevelGood && l <= LevelHazardous
}

// String 返回等级名称（与前端/配置一致）
func (l SeverityLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Band 返回等级的区间定义
func (l SeverityLevel) Band() SeverityBand {
	if !l.Valid() {
		return Bands[LevelHazardous]
	}
	return Bands[l]
}

// ParseSeverityLevel 根据名称解析等级（大小写不敏感）
func ParseSeverityLevel(name string) (SeverityLevel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range levelNames {
		if s == n {
			return SeverityLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity level %q", name)
}

func (l SeverityLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *SeverityLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseSeverityLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}
