package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	points []models.StoredPoint
	stats  *models.DeviceStats
}

func (s *stubStore) Write(context.Context, *models.Measurement) error { return nil }

func (s *stubStore) QueryRecent(context.Context, int) ([]models.StoredPoint, error) {
	return s.points, nil
}

func (s *stubStore) DeviceStats(_ context.Context, deviceID string, hours int) (*models.DeviceStats, error) {
	if s.stats == nil {
		return &models.DeviceStats{DeviceID: deviceID, Hours: hours}, nil
	}
	return s.stats, nil
}

func (s *stubStore) Cleanup(context.Context, int) (int64, error) { return 0, nil }

func TestRun_Devices(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := &stubStore{points: []models.StoredPoint{
		{DeviceID: "D2", Time: t0, PM25: 10},
		{DeviceID: "D1", Time: t0.Add(-time.Hour), PM25: 20},
		{DeviceID: "D1", Time: t0, PM25: 300},
	}}

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), &buf, store, options{hours: 24}))

	out := buf.String()
	assert.Contains(t, out, "Devices reporting in the last 24 hours")
	assert.Contains(t, out, "hazardous")
	assert.Contains(t, out, "2 devices, 3 points")
}

func TestRun_DeviceStats(t *testing.T) {
	store := &stubStore{stats: &models.DeviceStats{DeviceID: "D1", Hours: 6, Count: 4, AvgPM25: 40, MinPM25: 10, MaxPM25: 160}}

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), &buf, store, options{hours: 6, deviceID: "D1"}))

	assert.Contains(t, buf.String(), "very_unhealthy")

	buf.Reset()
	require.NoError(t, run(context.Background(), &buf, &stubStore{}, options{hours: 6, deviceID: "D9"}))
	assert.Contains(t, buf.String(), "No data")
}

func TestCheckPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, checkPayload(&buf, "D1", []byte(`{"pm25": 60, "lat": 13.7, "lon": 100.5, "battery": 80}`)))
	assert.Contains(t, buf.String(), "level: unhealthy")
	assert.Contains(t, buf.String(), "extra: battery")

	buf.Reset()
	err := checkPayload(&buf, "D1", []byte(`{"lat": 13.7}`))
	assert.ErrorIs(t, err, parser.ErrMissingField)
	assert.Contains(t, buf.String(), "INVALID")
}
