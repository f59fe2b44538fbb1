package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/evaluator"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/history"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu     sync.Mutex
	writes []*models.Measurement
	err    error
}

func (s *memStore) Write(_ context.Context, m *models.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, m)
	return s.err
}

func (s *memStore) QueryRecent(context.Context, int) ([]models.StoredPoint, error) {
	return nil, nil
}

func (s *memStore) DeviceStats(_ context.Context, deviceID string, hours int) (*models.DeviceStats, error) {
	return &models.DeviceStats{DeviceID: deviceID, Hours: hours}, nil
}

func (s *memStore) Cleanup(context.Context, int) (int64, error) { return 0, nil }

type eventRecorder struct {
	mu     sync.Mutex
	events []*models.TransitionEvent
}

func (r *eventRecorder) Notify(_ context.Context, event *models.TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byDevice(deviceID string) []*models.TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TransitionEvent
	for _, e := range r.events {
		if e.Alert.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	coord  *Coordinator
	store  *memStore
	table  *evaluator.AlertTable
	ledger *history.Ledger
	events *eventRecorder
}

var now0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func setupCoordinator(t *testing.T) *fixture {
	t.Helper()
	table := evaluator.NewAlertTable()
	ledger := history.NewLedger(history.DefaultCapacity, table, history.WithClock(func() time.Time { return now0 }))
	sm := evaluator.NewStateMachine(table, ledger, models.LevelUnhealthy, zap.NewNop())
	store := &memStore{}
	events := &eventRecorder{}

	coord := NewCoordinator(store, sm, events, zap.NewNop(),
		WithCoordinatorClock(func() time.Time { return now0 }),
		WithNotifyTimeout(time.Second),
	)
	return &fixture{coord: coord, store: store, table: table, ledger: ledger, events: events}
}

func payload(pm25 float64) []byte {
	return []byte(fmt.Sprintf(`{"pm25": %g, "lat": 13.7563, "lon": 100.5018}`, pm25))
}

func TestIngest_OpenEscalateClear(t *testing.T) {
	f := setupCoordinator(t)
	ctx := context.Background()

	f.coord.Ingest(ctx, "D1", payload(5))   // GOOD
	f.coord.Ingest(ctx, "D1", payload(80))  // UNHEALTHY
	f.coord.Ingest(ctx, "D1", payload(180)) // VERY_UNHEALTHY
	f.coord.Ingest(ctx, "D1", payload(20))  // MODERATE

	events := f.events.byDevice("D1")
	require.Len(t, events, 2)
	assert.Equal(t, models.LevelUnhealthy, events[0].Alert.Level)
	assert.False(t, events[0].Escalation())
	assert.Equal(t, models.LevelVeryUnhealthy, events[1].Alert.Level)
	require.True(t, events[1].Escalation())
	assert.Equal(t, models.LevelUnhealthy, *events[1].PreviousLevel)

	assert.Equal(t, 2, f.ledger.Len())
	assert.Equal(t, 0, f.table.Len())

	stats := f.coord.Stats()
	assert.Equal(t, int64(4), stats.MeasurementsProcessed)
	assert.Equal(t, int64(2), stats.AlertsTriggered)
	require.NotNil(t, stats.LastMeasurementAt)
	assert.Equal(t, now0, *stats.LastMeasurementAt)
	assert.Len(t, f.store.writes, 4)
}

func TestIngest_SameLevelTriggersOnce(t *testing.T) {
	f := setupCoordinator(t)

	f.coord.Ingest(context.Background(), "D1", payload(100))
	f.coord.Ingest(context.Background(), "D1", payload(120))

	assert.Len(t, f.events.byDevice("D1"), 1)
	assert.Equal(t, int64(1), f.coord.Stats().AlertsTriggered)
}

func TestIngest_MalformedPayloadLeavesStateUnchanged(t *testing.T) {
	f := setupCoordinator(t)

	f.coord.Ingest(context.Background(), "D1", []byte(`{"pm25": "not-a-number"}`))
	f.coord.Ingest(context.Background(), "D1", []byte(`not json`))

	stats := f.coord.Stats()
	assert.Equal(t, int64(0), stats.MeasurementsProcessed)
	assert.Equal(t, int64(0), stats.AlertsTriggered)
	assert.Nil(t, stats.LastMeasurementAt)
	assert.Empty(t, f.store.writes)
	assert.Equal(t, 0, f.table.Len())
}

func TestIngest_PersistenceFailureStillAlerts(t *testing.T) {
	f := setupCoordinator(t)
	f.store.err = errors.New("db down")

	f.coord.Ingest(context.Background(), "D1", payload(300))

	assert.Len(t, f.events.byDevice("D1"), 1)
	assert.Equal(t, 1, f.table.Len())
	assert.Equal(t, int64(1), f.coord.Stats().MeasurementsProcessed)
}

func TestIngest_ConcurrentDevices(t *testing.T) {
	f := setupCoordinator(t)
	sequence := []float64{80, 180, 300, 5}

	var wg sync.WaitGroup
	for _, device := range []string{"D1", "D2"} {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			for _, v := range sequence {
				f.coord.Ingest(context.Background(), device, payload(v))
			}
		}(device)
	}
	wg.Wait()

	for _, device := range []string{"D1", "D2"} {
		events := f.events.byDevice(device)
		require.Len(t, events, 3, device)
		assert.Equal(t, models.LevelUnhealthy, events[0].Alert.Level)
		assert.Equal(t, models.LevelVeryUnhealthy, events[1].Alert.Level)
		assert.Equal(t, models.LevelHazardous, events[2].Alert.Level)
		assert.Equal(t, events[0].Alert.ID, events[2].Alert.ID)
	}
	assert.Equal(t, 0, f.table.Len())
	assert.Equal(t, int64(8), f.coord.Stats().MeasurementsProcessed)
	assert.Equal(t, int64(6), f.coord.Stats().AlertsTriggered)
	assert.Equal(t, 6, f.ledger.Len())
}

func TestIngest_AfterClose(t *testing.T) {
	f := setupCoordinator(t)
	f.coord.Close()

	f.coord.Ingest(context.Background(), "D1", payload(300))

	assert.Equal(t, int64(0), f.coord.Stats().MeasurementsProcessed)
	assert.Empty(t, f.events.byDevice("D1"))
}

func TestCoordinator_Excerpt(t *testing.T) {
	table := evaluator.NewAlertTable()
	sm := evaluator.NewStateMachine(table, history.NewLedger(10, table), models.LevelUnhealthy, zap.NewNop())
	c := NewCoordinator(&memStore{}, sm, &eventRecorder{}, zap.NewNop(), WithPayloadExcerpt(4))

	assert.Equal(t, []byte("abcd"), c.excerpt([]byte("abcdefgh")))
	assert.Equal(t, []byte("ab"), c.excerpt([]byte("ab")))
}

type hangingStore struct {
	memStore
	deadlineSet bool
}

func (s *hangingStore) Write(ctx context.Context, m *models.Measurement) error {
	_, s.deadlineSet = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestIngest_WriteTimeout(t *testing.T) {
	f := setupCoordinator(t)
	store := &hangingStore{}
	coord := NewCoordinator(store, f.coord.machine, f.events, zap.NewNop(),
		WithWriteTimeout(50*time.Millisecond),
	)

	start := time.Now()
	coord.Ingest(context.Background(), "D1", payload(80))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, store.deadlineSet)
	// 持久化超时后告警照常评估
	assert.Len(t, f.events.byDevice("D1"), 1)
}
