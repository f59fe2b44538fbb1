package evaluator

import (
	"sync"
	"testing"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/history"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	t0  = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	loc = models.Location{Latitude: 13.7563, Longitude: 100.5018}
)

func setupStateMachine(t *testing.T) (*StateMachine, *AlertTable, *history.Ledger) {
	table := NewAlertTable()
	ledger := history.NewLedger(history.DefaultCapacity, table)
	sm := NewStateMachine(table, ledger, models.LevelUnhealthy, zap.NewNop())
	return sm, table, ledger
}

// apply 模拟协调器：先分级再推进状态机
func apply(sm *StateMachine, device string, pm25 float64, ts time.Time) *models.TransitionEvent {
	unlock := sm.Table().LockDevice(device)
	defer unlock()
	return sm.Apply(device, Classify(pm25), pm25, loc, ts)
}

func levelPtr(l models.SeverityLevel) *models.SeverityLevel { return &l }

func TestDecide(t *testing.T) {
	min := models.LevelUnhealthy
	cases := []struct {
		name    string
		current *models.SeverityLevel
		next    models.SeverityLevel
		want    Action
	}{
		{"below min, no alert", nil, models.LevelModerate, ActionNone},
		{"at min, no alert", nil, models.LevelUnhealthy, ActionOpen},
		{"above min, no alert", nil, models.LevelHazardous, ActionOpen},
		{"higher than active", levelPtr(models.LevelUnhealthy), models.LevelVeryUnhealthy, ActionEscalate},
		{"equal to active", levelPtr(models.LevelUnhealthy), models.LevelUnhealthy, ActionNone},
		{"lower than active, above min", levelPtr(models.LevelHazardous), models.LevelVeryUnhealthy, ActionClear},
		{"below min with active", levelPtr(models.LevelUnhealthy), models.LevelGood, ActionClear},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Decide(c.current, c.next, min), c.name)
	}
}

func TestStateMachine_BelowMinimumNeverOpens(t *testing.T) {
	sm, table, ledger := setupStateMachine(t)

	for _, v := range []float64{0, 5, 20, 40, 55.4} {
		assert.Nil(t, apply(sm, "D1", v, t0))
	}

	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0, ledger.Len())
}

func TestStateMachine_OpenThenEscalate(t *testing.T) {
	sm, table, ledger := setupStateMachine(t)

	var events []*models.TransitionEvent
	for i, v := range []float64{8, 80, 200} { // GOOD → UNHEALTHY → VERY_UNHEALTHY
		if ev := apply(sm, "D1", v, t0.Add(time.Duration(i)*time.Minute)); ev != nil {
			events = append(events, ev)
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, models.TransitionTriggered, events[0].Type)
	assert.Equal(t, models.LevelUnhealthy, events[0].Alert.Level)
	assert.False(t, events[0].Escalation())
	assert.Equal(t, models.TransitionTriggered, events[1].Type)
	assert.Equal(t, models.LevelVeryUnhealthy, events[1].Alert.Level)
	require.True(t, events[1].Escalation())
	assert.Equal(t, models.LevelUnhealthy, *events[1].PreviousLevel)

	snaps := ledger.All()
	require.Len(t, snaps, 2)
	assert.Equal(t, models.LevelUnhealthy, snaps[0].Level)
	assert.Equal(t, 80.0, snaps[0].PM25Value)
	assert.Equal(t, models.LevelVeryUnhealthy, snaps[1].Level)
	assert.Equal(t, 200.0, snaps[1].PM25Value)

	active, ok := table.Get("D1")
	require.True(t, ok)
	assert.Equal(t, models.LevelVeryUnhealthy, active.Level)
	// 升级保留打开时间
	assert.Equal(t, t0.Add(time.Minute), active.OpenedAt)
	assert.Equal(t, t0.Add(2*time.Minute), active.TriggeredAt)
	assert.Equal(t, snaps[0].ID, active.ID)
	assert.Equal(t, "Air quality is very unhealthy. PM2.5: 200 μg/m³", active.Message)
}

func TestStateMachine_ClearIsSilent(t *testing.T) {
	sm, table, ledger := setupStateMachine(t)

	require.NotNil(t, apply(sm, "D1", 200, t0)) // VERY_UNHEALTHY
	historyBefore := ledger.Len()

	ev := apply(sm, "D1", 20, t0.Add(time.Minute)) // MODERATE

	assert.Nil(t, ev)
	assert.Equal(t, historyBefore, ledger.Len())
	_, ok := table.Get("D1")
	assert.False(t, ok)
	for _, a := range sm.Active() {
		assert.NotEqual(t, "D1", a.DeviceID)
	}
}

func TestStateMachine_DeEscalationAboveMinimumClears(t *testing.T) {
	sm, table, _ := setupStateMachine(t)

	require.NotNil(t, apply(sm, "D1", 300, t0)) // HAZARDOUS
	assert.Nil(t, apply(sm, "D1", 100, t0))     // UNHEALTHY

	assert.Equal(t, 0, table.Len())

	// 清除后再次达到阈值重新打开
	ev := apply(sm, "D1", 100, t0.Add(time.Minute))
	require.NotNil(t, ev)
	assert.False(t, ev.Escalation())
}

func TestStateMachine_SameLevelIsIdempotent(t *testing.T) {
	sm, _, ledger := setupStateMachine(t)

	first := apply(sm, "D1", 60, t0)
	second := apply(sm, "D1", 140, t0.Add(time.Minute)) // 仍为 UNHEALTHY

	assert.NotNil(t, first)
	assert.Nil(t, second)
	assert.Equal(t, 1, ledger.Len())
}

func TestStateMachine_Acknowledge(t *testing.T) {
	sm, table, ledger := setupStateMachine(t)

	assert.False(t, sm.Acknowledge("D1"))

	apply(sm, "D1", 80, t0)
	assert.True(t, sm.Acknowledge("D1"))

	active, _ := table.Get("D1")
	assert.True(t, active.Acknowledged)
	// 历史快照不受影响
	assert.False(t, ledger.All()[0].Acknowledged)

	// 确认不影响告警逻辑，升级仍触发
	assert.NotNil(t, apply(sm, "D1", 220, t0.Add(time.Minute)))
}

func TestStateMachine_ConcurrentDevices(t *testing.T) {
	sm, table, _ := setupStateMachine(t)

	// 每个设备的序列以自己的最后一个读数决定最终状态
	sequences := map[string][]float64{
		"D1": {10, 80, 200, 300, 20, 90},     // 结束于 UNHEALTHY 活跃
		"D2": {300, 80, 10, 200, 220, 5},     // 结束于无告警
		"D3": {60, 60, 60, 60, 60, 160},      // 结束于 VERY_UNHEALTHY
		"D4": {400, 420, 399, 500, 260, 251}, // 始终 HAZARDOUS
	}

	var wg sync.WaitGroup
	for device, seq := range sequences {
		wg.Add(1)
		go func(device string, seq []float64) {
			defer wg.Done()
			for i, v := range seq {
				apply(sm, device, v, t0.Add(time.Duration(i)*time.Second))
				_ = sm.Active()
			}
		}(device, seq)
	}
	wg.Wait()

	d1, ok := table.Get("D1")
	require.True(t, ok)
	assert.Equal(t, models.LevelUnhealthy, d1.Level)

	_, ok = table.Get("D2")
	assert.False(t, ok)

	d3, ok := table.Get("D3")
	require.True(t, ok)
	assert.Equal(t, models.LevelVeryUnhealthy, d3.Level)

	d4, ok := table.Get("D4")
	require.True(t, ok)
	assert.Equal(t, models.LevelHazardous, d4.Level)
	assert.Equal(t, 400.0, d4.PM25Value)
}

func TestAlertTable_SameDeviceSerialized(t *testing.T) {
	table := NewAlertTable()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.LockDevice("D1")
			defer unlock()
			c := counter
			time.Sleep(time.Microsecond)
			counter = c + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestAlertTable_Snapshot(t *testing.T) {
	table := NewAlertTable()
	for _, d := range []string{"c", "a", "b"} {
		table.put(models.Alert{DeviceID: d, Level: models.LevelUnhealthy})
	}

	snap := table.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].DeviceID)

	// 副本修改不影响表内数据
	snap[0].Level = models.LevelGood
	a, _ := table.Get("a")
	assert.Equal(t, models.LevelUnhealthy, a.Level)

	assert.Equal(t, 3, table.Len())
}
