package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	require.NoError(t, Ping(ctx, client))

	id, err := PublishJSONToStream(ctx, client, "pm25:test:stream", 0, map[string]interface{}{"device_id": "D1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "pm25:test:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"device_id":"D1"}`, msgs[0].Values["data"].(string))
	assert.NotEmpty(t, msgs[0].Values["timestamp"])

	require.NoError(t, Close(client))
}

func TestPublishJSONToStream_MarshalError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	_, err := PublishJSONToStream(context.Background(), client, "s", 10, make(chan int))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal")
}

func TestPing_NilClient(t *testing.T) {
	assert.Error(t, Ping(context.Background(), nil))
	assert.NoError(t, Close(nil))
}
