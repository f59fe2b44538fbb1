package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
)

var (
	// ErrMalformedPayload 负载不是合法的 JSON 对象，或时间戳/速度字段无法解析
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingField pm25/lat/lon 缺失或无法转为数值
	ErrMissingField = errors.New("missing field")
)

// 已识别字段，不会进入 Extra
var recognizedFields = map[string]struct{}{
	"pm25":      {},
	"lat":       {},
	"lon":       {},
	"latitude":  {},
	"longitude": {},
	"tst":       {},
	"timestamp": {},
	"speed":     {},
}

// 无时区的 ISO-8601 格式，按 UTC 解释
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse 将一条原始 MQTT 负载解析为 Measurement
// now 为接收时间，负载中没有时间戳时使用
func Parse(deviceID string, payload []byte, now time.Time) (*models.Measurement, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device_id is empty", ErrMissingField)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	pm25, err := requiredNumber(fields, "pm25")
	if err != nil {
		return nil, err
	}
	if pm25 < 0 {
		return nil, fmt.Errorf("%w: pm25 must be non-negative, got %g", ErrMissingField, pm25)
	}

	lat, err := requiredNumber(fields, "lat", "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := requiredNumber(fields, "lon", "longitude")
	if err != nil {
		return nil, err
	}

	ts, err := resolveTimestamp(fields, now)
	if err != nil {
		return nil, err
	}

	m := &models.Measurement{
		DeviceID:  deviceID,
		PM25:      pm25,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
	}

	if raw, ok := fields["speed"]; ok && !isNull(raw) {
		speed, ok := coerceNumber(raw)
		if !ok {
			return nil, fmt.Errorf("%w: invalid speed %s", ErrMalformedPayload, excerpt(raw))
		}
		m.Speed = &speed
	}

	for k, v := range fields {
		if _, known := recognizedFields[k]; known {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}

	return m, nil
}

// requiredNumber 按顺序尝试字段名，取第一个存在的
func requiredNumber(fields map[string]json.RawMessage, names ...string) (float64, error) {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, ok := coerceNumber(raw)
		if !ok {
			return 0, fmt.Errorf("%w: %s is not numeric: %s", ErrMissingField, name, excerpt(raw))
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingField, names[0])
}

// resolveTimestamp tst(epoch 秒) > timestamp(ISO-8601) > now
func resolveTimestamp(fields map[string]json.RawMessage, now time.Time) (time.Time, error) {
	if raw, ok := fields["tst"]; ok && !isNull(raw) {
		sec, ok := coerceNumber(raw)
		if !ok {
			return time.Time{}, fmt.Errorf("%w: invalid tst %s", ErrMalformedPayload, excerpt(raw))
		}
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}

	if raw, ok := fields["timestamp"]; ok && !isNull(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp must be an ISO-8601 string", ErrMalformedPayload)
		}
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedPayload, s)
	}

	return now.UTC(), nil
}

// coerceNumber 接受 JSON 数值或数值字符串，拒绝布尔、NaN、Inf
func coerceNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func excerpt(raw []byte) string {
	const max = 64
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
