package history

import (
	"sort"
	"sync"
	"time"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
)

// DefaultCapacity 历史默认容量
const DefaultCapacity = 1000

// ActiveSource 提供活跃告警的时点副本（汇总使用）
type ActiveSource interface {
	Snapshot() []models.Alert
}

// Option Ledger 可选参数
type Option func(*Ledger)

// WithClock 替换时间源（测试使用）
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger 告警历史（固定容量环形缓冲，满后淘汰最旧条目）
type Ledger struct {
	mu    sync.Mutex
	buf   []models.Alert
	start int // 最旧条目下标
	size  int

	active ActiveSource
	now    func() time.Time
}

// NewLedger 创建告警历史，capacity <= 0 时使用 DefaultCapacity
func NewLedger(capacity int, active ActiveSource, opts ...Option) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger{
		buf:    make([]models.Alert, capacity),
		active: active,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append 追加快照（值拷贝，不与活跃告警共享）
func (l *Ledger) Append(alert models.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = alert
		l.size++
		return
	}
	l.buf[l.start] = alert
	l.start = (l.start + 1) % len(l.buf)
}

// Len 当前条目数
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity 容量
func (l *Ledger) Capacity() int {
	return len(l.buf)
}

// All 全部条目（按插入顺序，最旧在前）
func (l *Ledger) All() []models.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Alert, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Recent 最近 hours 小时内触发的告警（含边界，最新在前）
func (l *Ledger) Recent(hours int) []models.Alert {
	cutoff := l.now().Add(-time.Duration(hours) * time.Hour)

	all := l.All()
	out := make([]models.Alert, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].TriggeredAt.Before(cutoff) {
			out = append(out, all[i])
		}
	}
	return out
}

// Between [start, end] 区间内触发的告警（含边界，最旧在前）
func (l *Ledger) Between(start, end time.Time) []models.Alert {
	all := l.All()
	out := make([]models.Alert, 0, len(all))
	for _, a := range all {
		if a.TriggeredAt.Before(start) || a.TriggeredAt.After(end) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Summary 告警汇总
func (l *Ledger) Summary() models.AlertSummary {
	var active []models.Alert
	if l.active != nil {
		active = l.active.Snapshot()
	}

	summary := models.AlertSummary{
		ActiveCount:             len(active),
		ActiveByLevel:           make(map[string]int),
		DevicesWithActiveAlerts: make([]string, 0, len(active)),
	}
	for _, a := range active {
		summary.ActiveByLevel[a.Level.String()]++
		summary.DevicesWithActiveAlerts = append(summary.DevicesWithActiveAlerts, a.DeviceID)
	}
	sort.Strings(summary.DevicesWithActiveAlerts)

	recent := l.Recent(24)
	summary.CountLast24h = len(recent)
	for _, a := range recent {
		if summary.MostRecentTriggerTime == nil || a.TriggeredAt.After(*summary.MostRecentTriggerTime) {
			t := a.TriggeredAt
			summary.MostRecentTriggerTime = &t
		}
	}

	return summary
}
