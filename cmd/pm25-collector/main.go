package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	commonlogger "github.com/bejranonda/pm2.5-ghostbuster/common/logger"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/config"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := commonlogger.NewLogger(cfg.Log.Level, cfg.Log.Format, "pm25-collector")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	// 3. 创建服务
	collector, err := service.NewCollectorService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create collector service",
			zap.Error(err),
		)
	}

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := collector.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-serviceErrChan:
		logger.Error("Service error",
			zap.Error(err),
		)
		cancel()
	}

	// 7. 停止服务
	if err := collector.Stop(); err != nil {
		logger.Error("Failed to stop collector service", zap.Error(err))
	}

	logger.Info("PM2.5 collector service stopped")
}
