package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tick-gap-go/gateway"
	"tick-gap-go/infrastructure/alert"
	"tick-gap-go/infrastructure/logger"
	"tick-gap-go/market"
	"tick-gap-go/metrics"
	"tick-gap-go/storage"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	TickInterval      time.Duration // 周期任务间隔（过期落库、重试、确认超时）
	IdleWait          time.Duration // 无消息时最长等待
	StatsInterval     time.Duration // 统计日志间隔
	DialTimeout       time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	ShutdownTimeout   time.Duration
	ConfirmTimeout    time.Duration
	LateWindowMinutes int
	FlushGrace        time.Duration
	MaxClockSkew      time.Duration // 消息时间最多领先本机时钟多少，超出按格式错误丢弃
	SymbolCapacity    int
	PipOverrides      map[string]float64
	LargeGapPips      float64
	DropDuplicates    bool
	LossAlertMin      int64 // 单次丢失条数达到该值时告警
	Topics            []string
	Symbols           []string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TickInterval:      250 * time.Millisecond,
		IdleWait:          5 * time.Millisecond,
		StatsInterval:     10 * time.Second,
		DialTimeout:       5 * time.Second,
		ReconnectMin:      100 * time.Millisecond,
		ReconnectMax:      10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		ConfirmTimeout:    DefaultConfirmTimeout,
		LateWindowMinutes: market.DefaultLateWindowMinutes,
		FlushGrace:        market.DefaultFlushGrace,
		MaxClockSkew:      5 * time.Minute,
		SymbolCapacity:    market.DefaultSymbolCapacity,
		LargeGapPips:      1,
		LossAlertMin:      10,
		Topics:            []string{string(market.TopicTick), string(market.TopicBar)},
	}
}

// Components 引擎依赖组件
type Components struct {
	Dial       gateway.Dialer
	TickWriter *storage.Writer
	BarWriter  *storage.Writer
	Confirm    ConfirmChannel // nil 表示关闭确认协议
	Alerts     *alert.Manager
	Logger     *logger.Logger
	Heartbeat  func() // 每个周期调用一次（systemd watchdog）
	Clock      func() time.Time
}

// Update 热更新项，在消费协程内生效。
type Update struct {
	PipOverrides      map[string]float64
	LargeGapPips      float64
	LateWindowMinutes int
	ConfirmTimeout    time.Duration
	DropDuplicates    bool
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime       time.Time
	Received        int64
	Processed       int64
	Filtered        int64
	ParseErrors     int64
	Lost            int64
	Duplicates      int64
	Resets          int64
	LargeGaps       int64
	SmallGaps       int64
	LateMerged      int64
	LateDropped     int64
	Flushed         int64
	FlushErrors     int64
	Evictions       int64
	Reconnects      int64
	ConfirmAcks     int64
	ConfirmTimeouts int64
	LastMessageTime time.Time
}

// lane 一个主题（TICK 或 BAR）的独立处理链。
type lane struct {
	topic      market.Topic
	symbols    *market.SymbolTable
	classifier *market.Classifier
	agg        *market.MinuteAggregator
	writer     *storage.Writer
}

// Engine 单协程消费循环：接收、分类、聚合、落库与周期任务交错执行。
type Engine struct {
	config Config
	runID  string

	dial      gateway.Dialer
	filter    gateway.TopicFilter
	backoff   gateway.Backoff
	pips      *market.PipTable
	ticks     *lane
	bars      *lane
	confirmer *Confirmer
	alerts    *alert.Manager
	logger    *logger.Logger
	heartbeat func()
	now       func() time.Time

	// 仅消费协程使用
	loopCtx context.Context

	state EngineState
	mu    sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}
	updates  chan Update

	stats   Statistics
	statsMu sync.RWMutex
}

// New 创建引擎
func New(cfg Config, components Components) (*Engine, error) {
	if components.Dial == nil {
		return nil, errors.New("dialer required")
	}
	if components.TickWriter == nil || components.BarWriter == nil {
		return nil, errors.New("tick and bar writers required")
	}
	cfg = withDefaults(cfg)

	lg := components.Logger
	if lg == nil {
		lg = logger.Wrap(nil)
	}
	clock := components.Clock
	if clock == nil {
		clock = time.Now
	}

	runID := uuid.NewString()
	e := &Engine{
		config:    cfg,
		runID:     runID,
		dial:      components.Dial,
		filter:    gateway.NewTopicFilter(cfg.Topics, cfg.Symbols),
		backoff:   gateway.Backoff{Min: cfg.ReconnectMin, Max: cfg.ReconnectMax},
		pips:      market.NewPipTable(cfg.PipOverrides, cfg.LargeGapPips),
		alerts:    components.Alerts,
		logger:    lg.WithFields(map[string]interface{}{"runId": runID}),
		heartbeat: components.Heartbeat,
		now:       clock,
		loopCtx:   context.Background(),
		state:     StateIdle,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		updates:   make(chan Update, 8),
	}
	e.confirmer = NewConfirmer(components.Confirm, cfg.ConfirmTimeout, e.logger)

	var err error
	if e.ticks, err = e.newLane(market.TopicTick, components.TickWriter); err != nil {
		return nil, err
	}
	if e.bars, err = e.newLane(market.TopicBar, components.BarWriter); err != nil {
		return nil, err
	}
	return e, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = def.IdleWait
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.LateWindowMinutes < 0 {
		cfg.LateWindowMinutes = def.LateWindowMinutes
	}
	if cfg.FlushGrace < 0 {
		cfg.FlushGrace = def.FlushGrace
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = def.MaxClockSkew
	}
	if cfg.LossAlertMin <= 0 {
		cfg.LossAlertMin = def.LossAlertMin
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = def.Topics
	}
	return cfg
}

func (e *Engine) newLane(topic market.Topic, w *storage.Writer) (*lane, error) {
	l := &lane{
		topic:  topic,
		agg:    market.NewMinuteAggregator(e.config.LateWindowMinutes, e.config.FlushGrace),
		writer: w,
	}
	symbols, err := market.NewSymbolTable(e.config.SymbolCapacity, func(symbol string) {
		e.onEvict(l, symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("symbol table: %w", err)
	}
	l.symbols = symbols
	l.classifier = market.NewClassifier(e.pips, symbols)
	l.classifier.DropDuplicates = e.config.DropDuplicates
	w.OnFailure = func(d storage.Delta, err error) {
		e.recordFlushError()
		if e.alerts != nil {
			_ = e.alerts.SendError("gap bucket upsert failed", map[string]interface{}{
				"topic":  string(topic),
				"symbol": d.Symbol,
				"minute": d.Minute,
				"error":  err.Error(),
			})
		}
	}
	return l, nil
}

// RunID 本次运行的唯一标识，写入序号缺口记录。
func (e *Engine) RunID() string { return e.runID }

// State 当前状态
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Start 启动引擎
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.now()
	e.statsMu.Unlock()

	e.logger.Info("Gap engine starting",
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Strings("topics", e.config.Topics),
		zap.Strings("symbols", e.config.Symbols),
		zap.Bool("confirm", e.confirmer.Enabled()))

	go e.run(ctx)
	return nil
}

// Stop 停止引擎，等待最终落库完成。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.mu.Unlock()

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(e.config.ShutdownTimeout + time.Second):
		e.logger.Warn("Timeout waiting for engine to stop")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	return nil
}

// Done 主循环退出后关闭。
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doneChan
}

// Apply 提交热更新，队列满时丢弃并返回 false。
func (e *Engine) Apply(u Update) bool {
	select {
	case e.updates <- u:
		return true
	default:
		e.logger.Warn("config update dropped, queue full")
		return false
	}
}

// Stats 返回统计快照
func (e *Engine) Stats() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func (e *Engine) updateStats(fn func(s *Statistics)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

type dialResult struct {
	sess gateway.Session
	err  error
}

// run 主事件循环
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)
	e.loopCtx = ctx

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	var (
		sess     gateway.Session
		dialing  bool
		nextDial time.Time
		dialCh   = make(chan dialResult, 1)
		lastLog  = e.now()
	)
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
		metrics.SessionUp.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Context done, stopping engine")
			e.shutdown()
			return
		case <-e.stopChan:
			e.logger.Info("Stop signal received")
			e.shutdown()
			return
		case <-ticker.C:
			e.onTick(ctx, &lastLog)
		case u := <-e.updates:
			e.apply(u)
		case res := <-dialCh:
			dialing = false
			if res.err != nil {
				e.onDisconnect(res.err, &nextDial)
			} else {
				sess = res.sess
				e.backoff.Reset()
				metrics.SessionUp.Set(1)
				e.logger.Info("data channel connected")
			}
		default:
		}

		if sess == nil {
			if !dialing && !e.now().Before(nextDial) {
				dialing = true
				go e.dialAsync(ctx, dialCh)
			}
			e.idle(ctx, ticker, &lastLog)
			continue
		}

		line, ok, err := sess.TryReceive()
		if err != nil {
			_ = sess.Close()
			sess = nil
			metrics.SessionUp.Set(0)
			e.onDisconnect(err, &nextDial)
			continue
		}
		if !ok {
			e.confirmer.Poll(ctx, e.now())
			e.idle(ctx, ticker, &lastLog)
			continue
		}
		e.handle(ctx, line)
	}
}

func (e *Engine) dialAsync(ctx context.Context, out chan<- dialResult) {
	dctx, cancel := context.WithTimeout(ctx, e.config.DialTimeout)
	defer cancel()
	sess, err := e.dial(dctx)
	if err == nil && ctx.Err() != nil {
		_ = sess.Close()
		err = ctx.Err()
	}
	out <- dialResult{sess: sess, err: err}
}

func (e *Engine) onDisconnect(err error, nextDial *time.Time) {
	wait := e.backoff.Next()
	*nextDial = e.now().Add(wait)
	metrics.Reconnects.Inc()
	e.updateStats(func(s *Statistics) { s.Reconnects++ })
	e.logger.Warn("data channel unavailable, retrying",
		zap.Error(err), zap.Duration("backoff", wait))
}

// idle 无消息时最多等待 IdleWait，期间周期任务照常执行。
func (e *Engine) idle(ctx context.Context, ticker *time.Ticker, lastLog *time.Time) {
	timer := time.NewTimer(e.config.IdleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-e.stopChan:
	case <-ticker.C:
		e.onTick(ctx, lastLog)
	case u := <-e.updates:
		e.apply(u)
	case <-timer.C:
	}
}

// onTick 周期任务：关闭过期分钟桶、重试暂存数据、确认超时、心跳、统计日志。
func (e *Engine) onTick(ctx context.Context, lastLog *time.Time) {
	now := e.now()
	for _, l := range []*lane{e.ticks, e.bars} {
		for _, b := range l.agg.Expire(now.Unix()) {
			e.flush(ctx, l, b)
		}
		if l.writer.Pending() > 0 {
			if n, err := l.writer.Retry(ctx); n > 0 || err != nil {
				e.logger.Info("retried parked deltas", zap.String("topic", string(l.topic)),
					zap.Int("written", n), zap.Int("pending", l.writer.Pending()), zap.Error(err))
			}
		}
		metrics.OpenBuckets.WithLabelValues(string(l.topic)).Set(float64(l.agg.OpenBuckets()))
	}
	e.confirmer.Poll(ctx, now)
	if e.heartbeat != nil {
		e.heartbeat()
	}
	if now.Sub(*lastLog) >= e.config.StatsInterval {
		e.logStats(now.Sub(*lastLog))
		*lastLog = now
	}
}

func (e *Engine) apply(u Update) {
	e.pips.Update(u.PipOverrides, u.LargeGapPips)
	for _, l := range []*lane{e.ticks, e.bars} {
		l.agg.SetLateWindow(u.LateWindowMinutes)
		l.classifier.DropDuplicates = u.DropDuplicates
	}
	e.confirmer.SetTimeout(u.ConfirmTimeout)
	e.logger.Info("config update applied",
		zap.Float64("large_gap_pips", u.LargeGapPips),
		zap.Int("late_window_minutes", u.LateWindowMinutes),
		zap.Duration("confirm_timeout", u.ConfirmTimeout))
}

// handle 过滤 → 解析 → 分道 → 分类 → 聚合 → 落库 → 确认。
func (e *Engine) handle(ctx context.Context, line string) {
	e.updateStats(func(s *Statistics) {
		s.Received++
		s.LastMessageTime = e.now()
	})
	if !e.filter.Match(line) {
		e.updateStats(func(s *Statistics) { s.Filtered++ })
		return
	}

	msg, err := market.ParseMessage(line)
	if err != nil {
		e.parseError("", line, err)
		return
	}
	metrics.MessagesReceived.WithLabelValues(string(msg.Topic)).Inc()

	var (
		l      *lane
		seq    int64
		price  float64
		ts     int64
		symbol = msg.Symbol
	)
	switch msg.Topic {
	case market.TopicTick:
		tick, err := market.DecodeTick(msg)
		if err != nil {
			e.parseError(msg.Topic, line, err)
			return
		}
		l, seq, price, ts = e.ticks, tick.SeqNum, tick.Bid, tick.Time
	case market.TopicBar:
		bar, err := market.DecodeBar(msg)
		if err != nil {
			e.parseError(msg.Topic, line, err)
			return
		}
		l, seq, price, ts = e.bars, bar.SeqNum, bar.Close, bar.Time
	default:
		e.parseError(msg.Topic, line, fmt.Errorf("%w: unknown topic %q", market.ErrMalformed, msg.Topic))
		return
	}
	// 远超本机时钟的时间戳会打开一个永远不会过期的桶
	if limit := e.now().Add(e.config.MaxClockSkew).Unix(); ts > limit {
		e.parseError(msg.Topic, line, fmt.Errorf("%w: time %d ahead of clock limit %d", market.ErrMalformed, ts, limit))
		return
	}

	e.process(ctx, l, symbol, seq, price, ts)
	e.confirmer.Expect(e.now())
	e.confirmer.Poll(ctx, e.now())
}

func (e *Engine) process(ctx context.Context, l *lane, symbol string, seq int64, price float64, ts int64) {
	topic := string(l.topic)
	res := l.classifier.Observe(symbol, seq, price)

	switch res.Seq {
	case market.SeqLost:
		metrics.ObserveSequence(topic, res.Seq.String(), res.Lost)
		e.updateStats(func(s *Statistics) { s.Lost += res.Lost })
		e.logger.LogSequence(topic, symbol, res.Seq.String(), res.Expected, seq)
		l.writer.RecordSequenceGap(ctx, storage.SequenceGap{
			Timestamp:   ts,
			Symbol:      symbol,
			GapSize:     res.Lost,
			ExpectedSeq: res.Expected,
			ReceivedSeq: seq,
			RunID:       e.runID,
		})
		if res.Lost >= e.config.LossAlertMin && e.alerts != nil {
			_ = e.alerts.SendWarning("messages lost", map[string]interface{}{
				"topic":  topic,
				"symbol": symbol,
				"lost":   res.Lost,
			})
		}
	case market.SeqDuplicate:
		metrics.ObserveSequence(topic, res.Seq.String(), 0)
		e.updateStats(func(s *Statistics) { s.Duplicates++ })
		e.logger.LogSequence(topic, symbol, res.Seq.String(), res.Expected, seq)
	case market.SeqReset:
		metrics.ObserveSequence(topic, res.Seq.String(), 0)
		e.updateStats(func(s *Statistics) { s.Resets++ })
		e.logger.LogSequence(topic, symbol, res.Seq.String(), res.Expected, seq)
	}

	if res.Skipped {
		return
	}
	e.updateStats(func(s *Statistics) {
		s.Processed++
		switch res.Gap {
		case market.GapLarge:
			s.LargeGaps++
		case market.GapSmall:
			s.SmallGaps++
		}
	})
	if res.Gap == market.GapNone {
		metrics.MessagesProcessed.WithLabelValues(topic).Inc()
		return
	}
	metrics.ObserveGap(topic, res.Gap.String())

	out := l.agg.Add(symbol, ts, res.Gap)
	switch out.Kind {
	case market.OutcomeCounted:
		if out.Closed != nil {
			e.flush(ctx, l, *out.Closed)
		}
	case market.OutcomeLate:
		metrics.LateMerged.WithLabelValues(topic).Inc()
		e.updateStats(func(s *Statistics) { s.LateMerged++ })
		e.logger.LogLate(topic, symbol, out.Late.Minute, out.LateMinutes, true)
		e.flush(ctx, l, out.Late)
	case market.OutcomeDroppedLate:
		metrics.LateDropped.WithLabelValues(topic).Inc()
		e.updateStats(func(s *Statistics) { s.LateDropped++ })
		e.logger.LogLate(topic, symbol, market.MinuteStart(ts), out.LateMinutes, false)
	}

	for _, b := range l.agg.Expire(ts) {
		e.flush(ctx, l, b)
	}
}

func (e *Engine) flush(ctx context.Context, l *lane, b market.Bucket) {
	if b.Empty() {
		return
	}
	err := l.writer.Flush(ctx, storage.Delta{Symbol: b.Symbol, Minute: b.Minute, Large: b.Large, Small: b.Small})
	if err != nil {
		// 已暂存，下个周期重试
		return
	}
	e.updateStats(func(s *Statistics) { s.Flushed++ })
	e.logger.LogFlush(string(l.topic), b.Symbol, b.Minute, b.Large, b.Small)
}

// onEvict 品种被挤出符号表时先落库其未关闭的桶。
func (e *Engine) onEvict(l *lane, symbol string) {
	metrics.SymbolEvictions.WithLabelValues(string(l.topic)).Inc()
	e.updateStats(func(s *Statistics) { s.Evictions++ })
	if b, ok := l.agg.CloseSymbol(symbol); ok {
		e.flush(e.loopCtx, l, b)
	}
	e.logger.Debug("symbol evicted", zap.String("topic", string(l.topic)), zap.String("symbol", symbol))
}

func (e *Engine) recordFlushError() {
	e.updateStats(func(s *Statistics) { s.FlushErrors++ })
}

func (e *Engine) parseError(topic market.Topic, line string, err error) {
	label := string(topic)
	if label == "" {
		label = "unknown"
	}
	metrics.ParseErrors.WithLabelValues(label).Inc()
	e.updateStats(func(s *Statistics) { s.ParseErrors++ })
	if len(line) > 256 {
		line = line[:256]
	}
	e.logger.Debug("dropping malformed message", zap.String("line", line), zap.Error(err))
}

// shutdown 关闭所有分钟桶、落库并清空暂存队列。父 ctx 可能已取消，使用独立超时。
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.ShutdownTimeout)
	defer cancel()
	e.loopCtx = ctx

	for _, l := range []*lane{e.ticks, e.bars} {
		for _, b := range l.agg.CloseAll() {
			e.flush(ctx, l, b)
		}
		if err := l.writer.Drain(ctx); err != nil {
			e.logger.LogError(err, map[string]interface{}{"topic": string(l.topic), "phase": "shutdown"})
		}
	}
	e.confirmer.Poll(ctx, e.now())
	e.syncConfirmStats()

	st := e.Stats()
	elapsed := e.now().Sub(st.StartTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(st.Processed) / elapsed.Seconds()
	}
	e.logger.Info("Gap engine stopped",
		zap.Int64("received", st.Received),
		zap.Int64("processed", st.Processed),
		zap.Int64("large_gaps", st.LargeGaps),
		zap.Int64("small_gaps", st.SmallGaps),
		zap.Int64("lost", st.Lost),
		zap.Int64("late_dropped", st.LateDropped),
		zap.Int64("parse_errors", st.ParseErrors),
		zap.Float64("avg_rate_per_sec", rate),
		zap.Duration("uptime", elapsed))
}

func (e *Engine) syncConfirmStats() {
	acks, timeouts, _ := e.confirmer.Counters()
	e.updateStats(func(s *Statistics) {
		s.ConfirmAcks = acks
		s.ConfirmTimeouts = timeouts
	})
}

// TrackedSymbols 返回某条通道当前在符号表中的品种，按最近出现排序（旧在前）。
func (e *Engine) TrackedSymbols(topic market.Topic) []string {
	switch topic {
	case market.TopicTick:
		return e.ticks.symbols.Symbols()
	case market.TopicBar:
		return e.bars.symbols.Symbols()
	}
	return nil
}

func (e *Engine) logStats(window time.Duration) {
	e.syncConfirmStats()
	st := e.Stats()
	elapsed := e.now().Sub(st.StartTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(st.Processed) / elapsed
	}
	e.logger.LogEvent(zapcore.InfoLevel, "engine_stats", map[string]interface{}{
		"received":    st.Received,
		"processed":   st.Processed,
		"parseErrors": st.ParseErrors,
		"lost":        st.Lost,
		"ratePerSec":  rate,
		"windowMs":    window.Milliseconds(),
		"lateDropped": st.LateDropped,
		"trackedTick": e.ticks.symbols.Len(),
		"trackedBar":  e.bars.symbols.Len(),
		"pendingTick": e.ticks.writer.Pending(),
		"pendingBar":  e.bars.writer.Pending(),
	})
}
