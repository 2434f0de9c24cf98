package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"tick-gap-go/gateway"
	"tick-gap-go/market"
	"tick-gap-go/metrics"
)

// DefaultBasePrices 常见品种的初始价格，其余品种从 1.0 开始。
var DefaultBasePrices = map[string]float64{
	"EURUSD": 1.10000,
	"GBPUSD": 1.25000,
	"USDJPY": 150.000,
	"AUDUSD": 0.65000,
	"USDCAD": 1.35000,
}

const (
	largeMovePips = 50
	smallMovePips = 5
	barTimeframe  = "M1"
)

// Config 压测发布参数。
type Config struct {
	Symbols        []string
	Rate           float64       // 每秒消息数
	Duration       time.Duration // 0 表示直到取消
	Count          int64         // 0 表示不限条数
	BasePrices     map[string]float64
	LargeMoveProb  float64
	EmitBars       bool
	ReportInterval time.Duration
}

// Confirmer 发布端确认通道（gateway.ConfirmServer 实现）。
type Confirmer interface {
	Request(ctx context.Context) (int, error)
	Acks() int64
}

// Report 运行结果汇总
type Report struct {
	Sent      int64
	Bars      int64
	Requests  int64
	Confirmed int64
	Errors    int64
	Elapsed   time.Duration
	Rate      float64
	PerSymbol map[string]int64
}

type symbolState struct {
	bid float64
	seq int64
}

// Generator 轮询品种生成报价，每个品种 seq 从 1 连续递增。
type Generator struct {
	cfg     Config
	pub     gateway.Publisher
	confirm Confirmer
	limiter gateway.RateLimiter
	clock   func() time.Time
	rnd     *rand.Rand
	logger  *zap.Logger

	next   int
	state  map[string]*symbolState
	bars   *market.KlineAggregator
	barSeq map[string]int64
}

// Option 可选依赖
type Option func(*Generator)

func WithConfirmer(c Confirmer) Option { return func(g *Generator) { g.confirm = c } }

func WithLimiter(l gateway.RateLimiter) Option { return func(g *Generator) { g.limiter = l } }

func WithClock(fn func() time.Time) Option { return func(g *Generator) { g.clock = fn } }

func WithRand(r *rand.Rand) Option { return func(g *Generator) { g.rnd = r } }

func WithLogger(l *zap.Logger) Option { return func(g *Generator) { g.logger = l } }

// New 创建发布器。
func New(cfg Config, pub gateway.Publisher, opts ...Option) (*Generator, error) {
	if pub == nil {
		return nil, errors.New("publisher required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("at least one symbol required")
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("invalid rate %v", cfg.Rate)
	}
	if cfg.LargeMoveProb < 0 || cfg.LargeMoveProb > 1 {
		return nil, fmt.Errorf("invalid large move probability %v", cfg.LargeMoveProb)
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}
	g := &Generator{
		cfg:    cfg,
		pub:    pub,
		clock:  time.Now,
		logger: zap.NewNop(),
		state:  make(map[string]*symbolState, len(cfg.Symbols)),
		bars:   market.NewKlineAggregator(time.Minute),
		barSeq: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rnd == nil {
		g.rnd = rand.New(rand.NewSource(g.clock().UnixNano()))
	}
	if g.limiter == nil {
		burst := int(cfg.Rate / 100)
		g.limiter = gateway.NewTokenBucketLimiter(cfg.Rate, burst)
	}
	for _, sym := range cfg.Symbols {
		g.state[sym] = &symbolState{bid: basePrice(cfg.BasePrices, sym)}
	}
	return g, nil
}

func basePrice(overrides map[string]float64, symbol string) float64 {
	if p, ok := overrides[symbol]; ok && p > 0 {
		return p
	}
	if p, ok := DefaultBasePrices[symbol]; ok {
		return p
	}
	return 1.0
}

func pipSize(symbol string) float64 {
	if strings.HasSuffix(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}

func decimals(symbol string) float64 {
	if strings.HasSuffix(strings.ToUpper(symbol), "JPY") {
		return 1e3
	}
	return 1e5
}

func round(v, scale float64) float64 {
	return math.Round(v*scale) / scale
}

// Next 生成下一条报价（轮询品种）。
func (g *Generator) Next() market.Tick {
	sym := g.cfg.Symbols[g.next%len(g.cfg.Symbols)]
	g.next++
	st := g.state[sym]

	pip := pipSize(sym)
	scale := decimals(sym)
	maxMove := float64(smallMovePips)
	if g.rnd.Float64() < g.cfg.LargeMoveProb {
		maxMove = largeMovePips
	}
	change := (g.rnd.Float64()*2 - 1) * maxMove * pip
	bid := round(st.bid+change, scale)
	if bid <= 0 {
		bid = round(pip, scale)
	}
	st.bid = bid
	st.seq++

	ask := round(bid+(1+g.rnd.Float64()*2)*pip, scale)
	return market.Tick{
		Symbol: sym,
		Time:   g.clock().Unix(),
		Bid:    bid,
		Ask:    ask,
		Last:   round((bid+ask)/2, scale),
		Volume: 1 + g.rnd.Int63n(100),
		SeqNum: st.seq,
	}
}

// Run 按速率发布直到 Duration/Count 到达或 ctx 取消。
func (g *Generator) Run(ctx context.Context) (Report, error) {
	rep := Report{PerSymbol: make(map[string]int64, len(g.cfg.Symbols))}
	start := g.clock()
	lastReport := start
	var lastSent int64

	if g.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Duration)
		defer cancel()
	}

	g.logger.Info("load generator starting",
		zap.Strings("symbols", g.cfg.Symbols),
		zap.Float64("rate", g.cfg.Rate),
		zap.Duration("duration", g.cfg.Duration),
		zap.Bool("bars", g.cfg.EmitBars))

	var runErr error
	for g.cfg.Count == 0 || rep.Sent < g.cfg.Count {
		if err := g.limiter.Wait(ctx); err != nil {
			break
		}
		tick := g.Next()
		line, err := market.EncodeTick(tick)
		if err != nil {
			runErr = err
			break
		}
		if err := g.pub.Publish(ctx, tick.Symbol, line); err != nil {
			if ctx.Err() != nil {
				break
			}
			rep.Errors++
			g.logger.Warn("publish failed", zap.String("symbol", tick.Symbol), zap.Error(err))
			continue
		}
		rep.Sent++
		rep.PerSymbol[tick.Symbol]++
		metrics.SimPublished.WithLabelValues(string(market.TopicTick)).Inc()

		if g.cfg.EmitBars {
			if k := g.bars.OnPrice(tick.Symbol, tick.Bid, time.Unix(tick.Time, 0)); k != nil {
				g.publishBar(ctx, *k, &rep)
			}
		}
		if g.confirm != nil {
			if n, err := g.confirm.Request(ctx); err != nil {
				g.logger.Debug("confirm request failed", zap.Error(err))
			} else {
				rep.Requests += int64(n)
			}
		}

		if now := g.clock(); now.Sub(lastReport) >= g.cfg.ReportInterval {
			window := now.Sub(lastReport).Seconds()
			g.logger.Info("load generator progress",
				zap.Int64("sent", rep.Sent),
				zap.Float64("rate", float64(rep.Sent-lastSent)/window),
				zap.Int64("confirmed", g.confirmed()))
			lastReport, lastSent = now, rep.Sent
		}
	}

	if g.cfg.EmitBars {
		// 停止时补发未闭合的 K 线
		flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		for _, k := range g.bars.Flush() {
			g.publishBar(flushCtx, k, &rep)
		}
		cancel()
	}

	rep.Elapsed = g.clock().Sub(start)
	if rep.Elapsed > 0 {
		rep.Rate = float64(rep.Sent) / rep.Elapsed.Seconds()
	}
	rep.Confirmed = g.confirmed()
	g.logger.Info("load generator finished",
		zap.Int64("sent", rep.Sent),
		zap.Int64("bars", rep.Bars),
		zap.Int64("confirmed", rep.Confirmed),
		zap.Int64("errors", rep.Errors),
		zap.Float64("rate", rep.Rate),
		zap.Duration("elapsed", rep.Elapsed))
	return rep, runErr
}

func (g *Generator) publishBar(ctx context.Context, k market.Kline, rep *Report) {
	g.barSeq[k.Symbol]++
	line, err := market.EncodeBar(k.ToBar(barTimeframe, g.barSeq[k.Symbol]))
	if err != nil {
		rep.Errors++
		return
	}
	if err := g.pub.Publish(ctx, k.Symbol, line); err != nil {
		rep.Errors++
		g.logger.Warn("publish bar failed", zap.String("symbol", k.Symbol), zap.Error(err))
		return
	}
	rep.Bars++
	metrics.SimPublished.WithLabelValues(string(market.TopicBar)).Inc()
}

func (g *Generator) confirmed() int64 {
	if g.confirm == nil {
		return 0
	}
	return g.confirm.Acks()
}
