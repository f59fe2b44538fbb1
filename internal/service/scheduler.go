package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger 将 cron 内部日志转到 zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// Scheduler 后台定时任务（GeoJSON 导出、统计日志、缓存同步、数据清理）
// 同一任务上一次未结束时跳过本次，任务 panic 会被恢复
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewScheduler 创建调度器
func NewScheduler(logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Every 按固定间隔执行任务，任务收到的 ctx 在 Stop 时取消
func (s *Scheduler) Every(name string, interval time.Duration, job func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for job %s: %s", name, interval)
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := job(s.ctx); err != nil {
			s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.logger.Info("Scheduled job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Len 已注册任务数量
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
