package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"tick-gap-go/config"
	"tick-gap-go/gateway"
	"tick-gap-go/infrastructure/alert"
	"tick-gap-go/infrastructure/logger"
	"tick-gap-go/internal/engine"
	"tick-gap-go/metrics"
	"tick-gap-go/storage"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger *logger.Logger
	alerts *alert.Manager

	// 存储：tick 与 bar 各自独立命名空间
	tickStore storage.GapStore
	barStore  storage.GapStore

	confirm *gateway.ConfirmLink
	engine  *engine.Engine
	watcher *config.Watcher

	lifecycle *LifecycleManager

	// notify 发送 systemd 状态，测试中替换
	notify func(state string) error
}

// New 加载配置并创建 Container。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 为空时不启用热更新。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
		notify:     sdNotify,
	}
}

func sdNotify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildStorage(ctx); err != nil {
		return fmt.Errorf("build storage failed: %w", err)
	}
	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully", zap.String("runId", c.engine.RunID()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(logger.Config{
		Level:      c.cfg.Log.Level,
		Outputs:    c.cfg.Log.Outputs,
		OutputFile: c.cfg.Log.OutputFile,
		ErrorFile:  c.cfg.Log.ErrorFile,
		Format:     c.cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	channels, err := alert.BuildChannels(c.cfg.Alert.Channels, c.logger.Logger)
	if err != nil {
		return fmt.Errorf("create alert channels failed: %w", err)
	}
	c.alerts = alert.NewManager(channels, time.Duration(c.cfg.Alert.ThrottleSec)*time.Second)

	c.logger.Info("infrastructure built", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildStorage(ctx context.Context) error {
	sc := c.cfg.Storage
	opts := storage.Options{
		Driver:        sc.Driver,
		RedisAddr:     sc.RedisAddr,
		RedisPassword: sc.RedisPassword,
		RedisDB:       sc.RedisDB,
		StreamMaxLen:  sc.StreamMaxLen,
		MongoURL:      sc.MongoURL,
		MongoDatabase: sc.MongoDatabase,
		DialTimeout:   ms(sc.DialTimeoutMs),
	}

	var err error
	opts.Namespace = sc.TickNamespace
	if c.tickStore, err = storage.Open(ctx, opts); err != nil {
		return fmt.Errorf("open tick store: %w", err)
	}
	opts.Namespace = sc.BarNamespace
	if c.barStore, err = storage.Open(ctx, opts); err != nil {
		_ = c.tickStore.Close()
		return fmt.Errorf("open bar store: %w", err)
	}
	c.logger.Info("storage opened",
		zap.String("driver", sc.Driver),
		zap.String("tick_namespace", sc.TickNamespace),
		zap.String("bar_namespace", sc.BarNamespace))
	return nil
}

func (c *Container) buildEngine() error {
	sc := c.cfg.Storage
	writerCfg := func(lane string) storage.WriterConfig {
		return storage.WriterConfig{Lane: lane, MaxRetries: sc.MaxRetries, RetryBackoff: ms(sc.RetryBackoffMs)}
	}

	comps := engine.Components{
		Dial:       c.dialer(),
		TickWriter: storage.NewWriter(c.tickStore, writerCfg("tick"), c.logger.Logger),
		BarWriter:  storage.NewWriter(c.barStore, writerCfg("bar"), c.logger.Logger),
		Alerts:     c.alerts,
		Logger:     c.logger,
		Heartbeat:  c.watchdog(),
	}

	if c.cfg.Confirm.Enabled {
		// 发布端可能晚于接收端启动，断线后也由 ConfirmLink 自行重拨
		c.confirm = gateway.NewConfirmLink(gateway.ConfirmLinkConfig{
			URL:          c.cfg.Confirm.Address,
			DialTimeout:  ms(c.cfg.Feed.DialTimeoutMs),
			ReconnectMin: ms(c.cfg.Feed.ReconnectMinMs),
			ReconnectMax: ms(c.cfg.Feed.ReconnectMaxMs),
		}, c.logger.Logger)
		comps.Confirm = c.confirm
	}

	eng, err := engine.New(EngineConfig(*c.cfg), comps)
	if err != nil {
		if c.confirm != nil {
			_ = c.confirm.Close()
		}
		return err
	}
	c.engine = eng
	return nil
}

func (c *Container) dialer() gateway.Dialer {
	fc := c.cfg.Feed
	if fc.Transport == "kafka" {
		return gateway.KafkaDialer(gateway.KafkaConfig{
			Brokers:   fc.Brokers(),
			Topic:     fc.KafkaTopic,
			GroupID:   fc.KafkaGroupID,
			QueueSize: fc.QueueSize,
		}, c.logger.Logger)
	}
	return gateway.WSDialer(gateway.WSSubscriberConfig{
		URL:              fc.Address,
		QueueSize:        fc.QueueSize,
		PongWait:         ms(fc.PongWaitMs),
		HandshakeTimeout: ms(fc.DialTimeoutMs),
	}, c.logger.Logger)
}

// watchdog systemd 打开看门狗时返回心跳函数，按间隔的一半发送 WATCHDOG=1。
func (c *Container) watchdog() func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	return newHeartbeat(c.notify, interval/2, time.Now, c.logger.Logger)
}

func newHeartbeat(notify func(string) error, every time.Duration, now func() time.Time, lg *zap.Logger) func() {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		t := now()
		if !last.IsZero() && t.Sub(last) < every {
			return
		}
		last = t
		if err := notify(daemon.SdNotifyWatchdog); err != nil {
			lg.Debug("watchdog notify failed", zap.Error(err))
		}
	}
}

func (c *Container) registerLifecycleComponents() error {
	c.lifecycle.Register(&engineComponent{eng: c.engine})

	if c.cfg.Metrics.Listen != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: metrics.Handler(),
			addr:    c.cfg.Metrics.Listen,
			logger:  c.logger.Logger,
		})
	}

	if c.configPath != "" {
		w, err := config.NewWatcher(c.configPath, config.DefaultCooldown, c.logger.Logger, c.applyConfig)
		if err != nil {
			return err
		}
		c.watcher = w
		c.lifecycle.Register(&watcherComponent{w: w})
	}
	return nil
}

// applyConfig 热更新：只有分类/聚合/确认参数在运行中生效，其余改动需要重启。
func (c *Container) applyConfig(cfg config.AppConfig) {
	if c.engine == nil {
		return
	}
	if !c.engine.Apply(UpdateFrom(cfg)) {
		c.logger.Warn("config update not applied")
	}
}

// Start 启动所有组件并通知 systemd。
func (c *Container) Start(ctx context.Context) error {
	if c.engine == nil {
		return errors.New("container not built")
	}
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	if err := c.notify(daemon.SdNotifyReady); err != nil {
		c.logger.Debug("sd_notify ready failed", zap.Error(err))
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件（引擎停止时落库所有打开的桶），再关闭外部连接。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	if err := c.notify(daemon.SdNotifyStopping); err != nil {
		c.logger.Debug("sd_notify stopping failed", zap.Error(err))
	}

	var errs []error
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		errs = append(errs, err)
	}
	if c.confirm != nil {
		_ = c.confirm.Close()
	}
	for _, s := range []storage.GapStore{c.tickStore, c.barStore} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("container stopped")
	_ = c.logger.Sync()
	return errors.Join(errs...)
}

// Done 引擎主循环退出后关闭（例如 ctx 取消）。
func (c *Container) Done() <-chan struct{} { return c.engine.Done() }

// Health 检查所有组件
func (c *Container) Health() error { return c.lifecycle.CheckHealth() }

func (c *Container) Engine() *engine.Engine { return c.engine }

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Config() config.AppConfig { return *c.cfg }

// SetMetricsListen 命令行覆盖 metrics 地址，"off" 表示关闭；需在 Build 之前调用。
func (c *Container) SetMetricsListen(addr string) {
	if addr == "off" {
		addr = ""
	}
	c.cfg.Metrics.Listen = addr
}

// EngineConfig 把配置文件映射为引擎参数。
func EngineConfig(cfg config.AppConfig) engine.Config {
	ec := cfg.Engine
	return engine.Config{
		TickInterval:      ms(ec.TickIntervalMs),
		IdleWait:          ms(ec.IdleWaitMs),
		StatsInterval:     ms(ec.StatsIntervalMs),
		DialTimeout:       ms(cfg.Feed.DialTimeoutMs),
		ReconnectMin:      ms(cfg.Feed.ReconnectMinMs),
		ReconnectMax:      ms(cfg.Feed.ReconnectMaxMs),
		ShutdownTimeout:   ms(ec.ShutdownTimeoutMs),
		ConfirmTimeout:    ms(cfg.Confirm.TimeoutMs),
		LateWindowMinutes: ec.LateWindowMinutes,
		FlushGrace:        ms(ec.FlushGraceMs),
		MaxClockSkew:      time.Duration(ec.MaxClockSkewSec) * time.Second,
		SymbolCapacity:    ec.SymbolCapacity,
		PipOverrides:      ec.PipOverrides,
		LargeGapPips:      ec.LargeGapPips,
		DropDuplicates:    ec.DropDuplicates,
		LossAlertMin:      ec.LossAlertMin,
		Topics:            cfg.Feed.Topics,
		Symbols:           cfg.Feed.Symbols,
	}
}

// UpdateFrom 提取可热更新的参数。
func UpdateFrom(cfg config.AppConfig) engine.Update {
	return engine.Update{
		PipOverrides:      cfg.Engine.PipOverrides,
		LargeGapPips:      cfg.Engine.LargeGapPips,
		LateWindowMinutes: cfg.Engine.LateWindowMinutes,
		ConfirmTimeout:    ms(cfg.Confirm.TimeoutMs),
		DropDuplicates:    cfg.Engine.DropDuplicates,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
