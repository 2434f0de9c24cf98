package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tick-gap-go/internal/container"
)

// 订阅数据通道，统计每个品种每分钟的大/小跳空并落库。
func main() {
	cfgPath := flag.String("config", "configs/receiver.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件；\"off\" 关闭")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *metricsAddr != "" {
		c.SetMetricsListen(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Build(ctx); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	select {
	case <-ctx.Done():
		c.Logger().Info("shutdown signal received")
	case <-c.Done():
		c.Logger().Warn("engine exited")
	}

	if err := c.Stop(); err != nil {
		c.Logger().Error("shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
}
