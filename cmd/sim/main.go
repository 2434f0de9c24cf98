package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tick-gap-go/config"
	"tick-gap-go/gateway"
	"tick-gap-go/infrastructure/logger"
	"tick-gap-go/metrics"
	"tick-gap-go/sim"
)

// 压测发布端：按固定速率轮询品种发布报价，可选发布 1 分钟 K 线并等待接收端确认。
// ws 模式下在 -listen 上提供 /ticks 与 /confirm；kafka 模式直接写入 feed.kafkaTopic。
func main() {
	cfgPath := flag.String("config", "configs/sim.yaml", "配置文件路径，不存在时使用默认值")
	rate := flag.Float64("rate", 0, "每秒消息数，覆盖配置")
	duration := flag.Duration("duration", 0, "运行时长，0 表示使用配置（配置为 0 则直到中断）")
	count := flag.Int64("count", 0, "发送条数上限，0 表示不限")
	symbols := flag.String("symbols", "", "逗号分隔的品种，覆盖配置")
	bars := flag.Bool("bars", false, "同时发布 1 分钟 K 线")
	listen := flag.String("listen", "", "ws 发布端监听地址，覆盖配置")
	waitSubs := flag.Duration("waitSubscribers", 30*time.Second, "ws 模式下等待首个订阅者的最长时间")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，留空则关闭")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	sc := cfg.Sim
	if *rate > 0 {
		sc.Rate = *rate
	}
	if *symbols != "" {
		sc.Symbols = strings.Split(*symbols, ",")
	}
	if *listen != "" {
		sc.Listen = *listen
	}
	runFor := time.Duration(sc.DurationSec) * time.Second
	if *duration > 0 {
		runFor = *duration
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Outputs: cfg.Log.Outputs,
		Format:  cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Sync()

	if *metricsAddr != "" {
		srv := metrics.StartMetricsServer(*metricsAddr)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pub        gateway.Publisher
		opts       = []sim.Option{sim.WithLogger(lg.Logger)}
		httpSrv    *http.Server
		confirmSrv *gateway.ConfirmServer
	)
	switch cfg.Feed.Transport {
	case "kafka":
		pub = gateway.NewKafkaPublisher(gateway.KafkaConfig{
			Brokers:      cfg.Feed.Brokers(),
			Topic:        cfg.Feed.KafkaTopic,
			BatchTimeout: 5 * time.Millisecond,
		})
	default:
		wsPub := gateway.NewWSPublisher(sc.QueueSize, lg.Logger)
		confirmSrv = gateway.NewConfirmServer(lg.Logger, nil)
		mux := http.NewServeMux()
		mux.Handle("/ticks", wsPub)
		mux.Handle("/confirm", confirmSrv)
		httpSrv = &http.Server{Addr: sc.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("publisher listen failed", zap.Error(err))
				stop()
			}
		}()
		lg.Info("publisher listening", zap.String("addr", sc.Listen))
		if err := waitForSubscriber(ctx, wsPub, *waitSubs); err != nil {
			lg.Warn("no subscriber connected, publishing anyway", zap.Error(err))
		}
		pub = wsPub
		opts = append(opts, sim.WithConfirmer(confirmSrv))
	}
	defer pub.Close()

	gen, err := sim.New(sim.Config{
		Symbols:       sc.Symbols,
		Rate:          sc.Rate,
		Duration:      runFor,
		Count:         *count,
		BasePrices:    sc.BasePrices,
		LargeMoveProb: sc.LargeMoveProb,
		EmitBars:      *bars || sc.EmitBars,
	}, pub, opts...)
	if err != nil {
		log.Fatalf("初始化发布器失败: %v", err)
	}

	rep, err := gen.Run(ctx)
	if err != nil {
		lg.Error("load generator failed", zap.Error(err))
	}
	if confirmSrv != nil {
		// Shutdown 不处理已升级的连接
		confirmSrv.Close()
	}
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}

	fmt.Printf("sent=%d bars=%d confirmed=%d errors=%d rate=%.1f/s elapsed=%s\n",
		rep.Sent, rep.Bars, rep.Confirmed, rep.Errors, rep.Rate, rep.Elapsed.Round(time.Millisecond))
	for _, sym := range sc.Symbols {
		fmt.Printf("  %-8s %d (expected gaps %d)\n", sym, rep.PerSymbol[sym], max(rep.PerSymbol[sym]-1, 0))
	}
}

func loadConfig(path string) (config.AppConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.LoadWithEnvOverrides(path)
}

func waitForSubscriber(ctx context.Context, pub *gateway.WSPublisher, limit time.Duration) error {
	if limit <= 0 {
		return nil
	}
	deadline := time.Now().Add(limit)
	for pub.Clients() == 0 {
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for subscriber")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}
