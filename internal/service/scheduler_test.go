package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	var runs atomic.Int32
	require.NoError(t, s.Every("tick", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("ignored")
	}))
	assert.Equal(t, 1, s.Len())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_InvalidInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	assert.Error(t, s.Every("bad", 0, func(context.Context) error { return nil }))
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, s.Every("long", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	s.Stop()

	assert.True(t, cancelled.Load())
}
