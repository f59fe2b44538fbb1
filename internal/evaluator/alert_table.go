package evaluator

import (
	"sort"
	"sync"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
)

// AlertTable 活跃告警表（每个设备最多一条）
// mu 只保护 map 本身，持有时间很短；同一设备的状态迁移由设备锁串行化
type AlertTable struct {
	mu      sync.RWMutex
	alerts  map[string]*models.Alert
	devices map[string]*deviceLock
}

// deviceLock 引用计数为持有者 + 等待者数量，归零时从表中删除
type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// NewAlertTable 创建活跃告警表
func NewAlertTable() *AlertTable {
	return &AlertTable{
		alerts:  make(map[string]*models.Alert),
		devices: make(map[string]*deviceLock),
	}
}

// LockDevice 获取设备锁，返回解锁函数
// 有等待者时锁一直保留，最后一个释放者删除它，设备表不会随设备ID无限增长
func (t *AlertTable) LockDevice(deviceID string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.devices[deviceID]
	if !ok {
		l = &deviceLock{}
		t.devices[deviceID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.devices, deviceID)
		}
		t.mu.Unlock()
	}
}

func (t *AlertTable) lockCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices)
}

// Get 返回设备当前活跃告警的副本
func (t *AlertTable) Get(deviceID string) (models.Alert, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a, ok := t.alerts[deviceID]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

// Snapshot 返回所有活跃告警的时点副本（按 device_id 排序）
func (t *AlertTable) Snapshot() []models.Alert {
	t.mu.RLock()
	out := make([]models.Alert, 0, len(t.alerts))
	for _, a := range t.alerts {
		out = append(out, *a)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len 活跃告警数量
func (t *AlertTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.alerts)
}

// Acknowledge 设置确认标记，仅当存在活跃告警时返回 true
func (t *AlertTable) Acknowledge(deviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.alerts[deviceID]
	if !ok {
		return false
	}
	a.Acknowledged = true
	return true
}

func (t *AlertTable) put(alert models.Alert) {
	t.mu.Lock()
	t.alerts[alert.DeviceID] = &alert
	t.mu.Unlock()
}

// update 原地修改活跃告警，返回修改后的副本
func (t *AlertTable) update(deviceID string, fn func(a *models.Alert)) (models.Alert, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.alerts[deviceID]
	if !ok {
		return models.Alert{}, false
	}
	fn(a)
	return *a, true
}

func (t *AlertTable) remove(deviceID string) {
	t.mu.Lock()
	delete(t.alerts, deviceID)
	t.mu.Unlock()
}
