package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"go.uber.org/zap"
)

// ErrPersistence 时序库读写失败（包装驱动错误）
var ErrPersistence = errors.New("persistence failure")

// MeasurementStore 时序数据存储接口
type MeasurementStore interface {
	Write(ctx context.Context, m *models.Measurement) error
	QueryRecent(ctx context.Context, hours int) ([]models.StoredPoint, error)
	DeviceStats(ctx context.Context, deviceID string, hours int) (*models.DeviceStats, error)
	Cleanup(ctx context.Context, retentionHours int) (int64, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS air_quality (
		time      TIMESTAMPTZ      NOT NULL,
		device_id TEXT             NOT NULL,
		pm25      DOUBLE PRECISION NOT NULL,
		latitude  DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		speed     DOUBLE PRECISION,
		extra     JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_air_quality_device_time ON air_quality (device_id, time DESC);
	CREATE INDEX IF NOT EXISTS idx_air_quality_time ON air_quality (time DESC);
`

// MeasurementsRepository PostgreSQL 时序数据仓库（表 air_quality）
type MeasurementsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMeasurementsRepository 创建时序数据仓库
func NewMeasurementsRepository(db *sql.DB, logger *zap.Logger) *MeasurementsRepository {
	return &MeasurementsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *MeasurementsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", ErrPersistence, err)
	}
	return nil
}

// Ping 检查数据库连接
func (r *MeasurementsRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Write 写入一条读数
func (r *MeasurementsRepository) Write(ctx context.Context, m *models.Measurement) error {
	var extra []byte
	if len(m.Extra) > 0 {
		var err error
		if extra, err = json.Marshal(m.Extra); err != nil {
			return fmt.Errorf("%w: failed to marshal extra: %v", ErrPersistence, err)
		}
	}

	var speed sql.NullFloat64
	if m.Speed != nil {
		speed = sql.NullFloat64{Float64: *m.Speed, Valid: true}
	}

	query := `
		INSERT INTO air_quality (time, device_id, pm25, latitude, longitude, speed, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := r.db.ExecContext(ctx, query,
		m.Timestamp,
		m.DeviceID,
		m.PM25,
		m.Latitude,
		m.Longitude,
		speed,
		extra,
	); err != nil {
		return fmt.Errorf("%w: failed to write measurement: %v", ErrPersistence, err)
	}

	r.logger.Debug("Wrote measurement", zap.String("device_id", m.DeviceID), zap.Float64("pm25", m.PM25))
	return nil
}

// QueryRecent 查询最近 hours 小时内的读数（按时间倒序）
func (r *MeasurementsRepository) QueryRecent(ctx context.Context, hours int) ([]models.StoredPoint, error) {
	query := `
		SELECT device_id, time, pm25, latitude, longitude, speed, extra
		FROM air_quality
		WHERE time >= NOW() - ($1 * INTERVAL '1 hour')
		ORDER BY time DESC
	`

	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query recent data: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var points []models.StoredPoint
	for rows.Next() {
		var p models.StoredPoint
		var speed sql.NullFloat64
		var extra []byte

		if err := rows.Scan(&p.DeviceID, &p.Time, &p.PM25, &p.Latitude, &p.Longitude, &speed, &extra); err != nil {
			return nil, fmt.Errorf("%w: failed to scan measurement: %v", ErrPersistence, err)
		}
		if speed.Valid {
			v := speed.Float64
			p.Speed = &v
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &p.Extra); err != nil {
				r.logger.Warn("Ignoring malformed extra column", zap.String("device_id", p.DeviceID), zap.Error(err))
			}
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate measurements: %v", ErrPersistence, err)
	}

	return points, nil
}

// DeviceStats 单设备统计（无数据时 Count 为 0）
func (r *MeasurementsRepository) DeviceStats(ctx context.Context, deviceID string, hours int) (*models.DeviceStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(AVG(pm25), 0),
			COALESCE(MIN(pm25), 0),
			COALESCE(MAX(pm25), 0)
		FROM air_quality
		WHERE device_id = $1
		  AND time >= NOW() - ($2 * INTERVAL '1 hour')
	`

	stats := &models.DeviceStats{DeviceID: deviceID, Hours: hours}
	err := r.db.QueryRowContext(ctx, query, deviceID, hours).Scan(
		&stats.Count,
		&stats.AvgPM25,
		&stats.MinPM25,
		&stats.MaxPM25,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query device stats: %v", ErrPersistence, err)
	}

	return stats, nil
}

// Cleanup 删除超过保留时长的数据，返回删除行数
func (r *MeasurementsRepository) Cleanup(ctx context.Context, retentionHours int) (int64, error) {
	query := `DELETE FROM air_quality WHERE time < NOW() - ($1 * INTERVAL '1 hour')`

	result, err := r.db.ExecContext(ctx, query, retentionHours)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to clean up old data: %v", ErrPersistence, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read affected rows: %v", ErrPersistence, err)
	}

	r.logger.Info("Cleaned up old measurements", zap.Int64("deleted", n), zap.Int("retention_hours", retentionHours))
	return n, nil
}
