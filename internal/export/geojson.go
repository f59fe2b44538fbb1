package export

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/evaluator"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"go.uber.org/zap"
)

// PointSource 时序数据读取接口（repository.MeasurementStore 的子集）
type PointSource interface {
	QueryRecent(ctx context.Context, hours int) ([]models.StoredPoint, error)
}

// FeatureCollection GeoJSON 要素集合
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature GeoJSON 点要素
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Geometry GeoJSON 几何（只使用 Point）
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // [lon, lat]
}

// 不会被 Extra 覆盖的属性
var reservedProperties = map[string]struct{}{
	"device_id": {},
	"pm25":      {},
	"time":      {},
	"speed":     {},
	"level":     {},
	"color":     {},
}

// BuildFeatureCollection 将读数转换为 FeatureCollection
// 时间按 loc 格式化为 "2006-01-02 15:04:05"
func BuildFeatureCollection(points []models.StoredPoint, loc *time.Location) FeatureCollection {
	if loc == nil {
		loc = time.UTC
	}

	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(points))}
	for _, p := range points {
		level := evaluator.Classify(p.PM25)

		props := map[string]interface{}{
			"device_id": p.DeviceID,
			"pm25":      round(p.PM25, 2),
			"time":      p.Time.In(loc).Format("2006-01-02 15:04:05"),
			"level":     level.String(),
			"color":     level.Band().Color,
		}
		if p.Speed != nil && *p.Speed != 0 {
			props["speed"] = round(*p.Speed, 1)
		}
		for k, v := range p.Extra {
			if _, reserved := reservedProperties[k]; reserved {
				continue
			}
			props[k] = v
		}

		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: [2]float64{round(p.Longitude, 6), round(p.Latitude, 6)},
			},
			Properties: props,
		})
	}
	return fc
}

// GeoJSONExporter 定时将最近数据导出为 GeoJSON 文件，供地图前端读取
type GeoJSONExporter struct {
	source PointSource
	path   string
	hours  int
	loc    *time.Location
	logger *zap.Logger
}

// NewGeoJSONExporter 创建导出器
func NewGeoJSONExporter(source PointSource, path string, hours int, loc *time.Location, logger *zap.Logger) *GeoJSONExporter {
	return &GeoJSONExporter{
		source: source,
		path:   path,
		hours:  hours,
		loc:    loc,
		logger: logger,
	}
}

// Generate 查询最近 hours 小时的数据并生成 FeatureCollection
func (e *GeoJSONExporter) Generate(ctx context.Context, hours int) (FeatureCollection, error) {
	if hours <= 0 {
		hours = e.hours
	}
	points, err := e.source.QueryRecent(ctx, hours)
	if err != nil {
		return FeatureCollection{}, fmt.Errorf("failed to query recent data: %w", err)
	}
	if len(points) == 0 {
		e.logger.Warn("No data points found", zap.Int("hours", hours))
	}
	return BuildFeatureCollection(points, e.loc), nil
}

// Export 生成并写入文件（先写临时文件再 rename，读端不会看到半个文件）
func (e *GeoJSONExporter) Export(ctx context.Context) error {
	fc, err := e.Generate(ctx, e.hours)
	if err != nil {
		return err
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal geojson: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write geojson: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("failed to replace geojson file: %w", err)
	}

	e.logger.Info("Saved GeoJSON file",
		zap.Int("features", len(fc.Features)),
		zap.String("path", e.path),
	)
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
