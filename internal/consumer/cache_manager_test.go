package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource []models.Alert

func (s staticSource) Snapshot() []models.Alert { return s }

func setupCacheManager(t *testing.T) (*miniredis.Miniredis, *CacheManager) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewCacheManager(client, "pm25:alerts:active", 30*time.Second, zap.NewNop())
}

func TestCacheManager_SyncAndRead(t *testing.T) {
	mr, cm := setupCacheManager(t)
	ctx := context.Background()

	ts := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	source := staticSource{
		{ID: "a1", DeviceID: "D1", Level: models.LevelUnhealthy, PM25Value: 80, OpenedAt: ts, TriggeredAt: ts},
		{ID: "a2", DeviceID: "D2", Level: models.LevelHazardous, PM25Value: 300, OpenedAt: ts, TriggeredAt: ts},
	}

	require.NoError(t, cm.Sync(ctx, source))
	assert.Equal(t, 30*time.Second, mr.TTL("pm25:alerts:active"))

	got, err := cm.GetActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "D2", got[1].DeviceID)
	assert.Equal(t, models.LevelHazardous, got[1].Level)
}

func TestCacheManager_EmptyAndMissing(t *testing.T) {
	mr, cm := setupCacheManager(t)
	ctx := context.Background()

	got, err := cm.GetActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, cm.UpdateActiveAlerts(ctx, nil))
	val, err := mr.Get("pm25:alerts:active")
	require.NoError(t, err)
	assert.Equal(t, "[]", val)
}
