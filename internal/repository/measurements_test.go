package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockMeasurementsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *MeasurementsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewMeasurementsRepository(db, zap.NewNop())
}

func TestWrite_Success(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	speed := 12.5
	ts := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	m := &models.Measurement{
		DeviceID:  "D1",
		PM25:      42.3,
		Latitude:  13.75,
		Longitude: 100.5,
		Timestamp: ts,
		Speed:     &speed,
		Extra:     map[string]json.RawMessage{"battery": json.RawMessage(`87`)},
	}

	mock.ExpectExec(`INSERT INTO air_quality`).
		WithArgs(ts, "D1", 42.3, 13.75, 100.5, sql.NullFloat64{Float64: 12.5, Valid: true}, []byte(`{"battery":87}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Write(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_DriverError(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO air_quality`).WillReturnError(errors.New("connection reset"))

	err := repo.Write(context.Background(), &models.Measurement{DeviceID: "D1"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestQueryRecent_Success(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	t1 := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"device_id", "time", "pm25", "latitude", "longitude", "speed", "extra"}).
		AddRow("D1", t1, 55.6, 13.75, 100.5, 3.2, []byte(`{"fw":"1.2"}`)).
		AddRow("D2", t1.Add(-time.Minute), 8.0, 18.79, 98.98, nil, nil)

	mock.ExpectQuery(`SELECT device_id, time, pm25`).
		WithArgs(24).
		WillReturnRows(rows)

	points, err := repo.QueryRecent(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "D1", points[0].DeviceID)
	require.NotNil(t, points[0].Speed)
	assert.Equal(t, 3.2, *points[0].Speed)
	assert.JSONEq(t, `"1.2"`, string(points[0].Extra["fw"]))
	assert.Nil(t, points[1].Speed)
	assert.Nil(t, points[1].Extra)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRecent_Error(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(sql.ErrConnDone)

	_, err := repo.QueryRecent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestDeviceStats_Success(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("D1", 6).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg", "min", "max"}).AddRow(int64(12), 40.5, 10.0, 88.0))

	stats, err := repo.DeviceStats(context.Background(), "D1", 6)
	require.NoError(t, err)
	assert.Equal(t, &models.DeviceStats{DeviceID: "D1", Hours: 6, Count: 12, AvgPM25: 40.5, MinPM25: 10, MaxPM25: 88}, stats)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanup_Success(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM air_quality`).
		WithArgs(720).
		WillReturnResult(sqlmock.NewResult(0, 37))

	n, err := repo.Cleanup(context.Background(), 720)
	require.NoError(t, err)
	assert.Equal(t, int64(37), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockMeasurementsDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS air_quality`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
