package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tick-gap-go/market"
)

type memPublisher struct {
	mu    sync.Mutex
	lines []string
	fail  bool
}

func (p *memPublisher) Publish(_ context.Context, _ string, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("publish failed")
	}
	p.lines = append(p.lines, line)
	return nil
}

func (p *memPublisher) Close() error { return nil }

type noLimit struct{}

func (noLimit) Wait(ctx context.Context) error { return ctx.Err() }

// fakeClock 每次调用前进 step。
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type countingConfirmer struct {
	requests int
}

func (c *countingConfirmer) Request(context.Context) (int, error) {
	c.requests++
	return 1, nil
}

func (c *countingConfirmer) Acks() int64 { return int64(c.requests) }

func TestGeneratorSequencesAndRoundRobin(t *testing.T) {
	pub := &memPublisher{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	g, err := New(Config{Symbols: []string{"EURUSD", "USDJPY", "GBPUSD"}, Rate: 1000, Count: 30, LargeMoveProb: 0.05},
		pub, WithLimiter(noLimit{}), WithClock(clock.Now), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), rep.Sent)
	assert.Equal(t, int64(10), rep.PerSymbol["EURUSD"])
	assert.Equal(t, int64(10), rep.PerSymbol["USDJPY"])

	lastSeq := map[string]int64{}
	for _, line := range pub.lines {
		msg, err := market.ParseMessage(line)
		require.NoError(t, err)
		tick, err := market.DecodeTick(msg)
		require.NoError(t, err)
		assert.Equal(t, lastSeq[tick.Symbol]+1, tick.SeqNum, "seq must be contiguous for %s", tick.Symbol)
		lastSeq[tick.Symbol] = tick.SeqNum
		assert.Greater(t, tick.Ask, tick.Bid)
	}
}

func TestGeneratorPriceModel(t *testing.T) {
	g, err := New(Config{Symbols: []string{"USDJPY"}, Rate: 1, LargeMoveProb: 0},
		&memPublisher{}, WithRand(rand.New(rand.NewSource(7))))
	require.NoError(t, err)

	prev := 150.0
	for i := 0; i < 200; i++ {
		tick := g.Next()
		assert.LessOrEqual(t, math.Abs(tick.Bid-prev), 5*0.01+1e-9, "small moves only")
		assert.Equal(t, tick.Bid, math.Round(tick.Bid*1e3)/1e3, "JPY rounded to 3 decimals")
		prev = tick.Bid
	}
}

func TestGeneratorEmitsBars(t *testing.T) {
	pub := &memPublisher{}
	// 每次取时间前进 10 秒，跨分钟时产生 K 线
	clock := &fakeClock{now: time.Unix(1700000040, 0), step: 10 * time.Second}
	g, err := New(Config{Symbols: []string{"EURUSD"}, Rate: 1000, Count: 20, EmitBars: true},
		pub, WithLimiter(noLimit{}), WithClock(clock.Now), WithRand(rand.New(rand.NewSource(3))))
	require.NoError(t, err)

	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Greater(t, rep.Bars, int64(1))

	var seq int64
	for _, line := range pub.lines {
		if !strings.HasPrefix(line, "BAR|") {
			continue
		}
		msg, err := market.ParseMessage(line)
		require.NoError(t, err)
		bar, err := market.DecodeBar(msg)
		require.NoError(t, err)
		seq++
		assert.Equal(t, seq, bar.SeqNum)
		assert.Equal(t, "M1", bar.Timeframe)
		assert.GreaterOrEqual(t, bar.High, bar.Low)
	}
	assert.Equal(t, rep.Bars, seq)
}

func TestGeneratorConfirmAndErrors(t *testing.T) {
	pub := &memPublisher{fail: true}
	conf := &countingConfirmer{}
	g, err := New(Config{Symbols: []string{"EURUSD"}, Rate: 1000, Duration: 30 * time.Millisecond},
		pub, WithLimiter(&gateLimiter{left: 5}), WithConfirmer(conf))
	require.NoError(t, err)

	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rep.Sent)
	assert.Equal(t, int64(5), rep.Errors)
	assert.Equal(t, 0, conf.requests, "no confirmation for unsent ticks")

	pub.fail = false
	g, err = New(Config{Symbols: []string{"EURUSD"}, Rate: 1000, Count: 4}, pub, WithLimiter(noLimit{}), WithConfirmer(conf))
	require.NoError(t, err)
	rep, err = g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), rep.Requests)
	assert.Equal(t, int64(4), rep.Confirmed)
}

// gateLimiter 放行 left 次后阻塞到 ctx 结束。
type gateLimiter struct{ left int }

func (g *gateLimiter) Wait(ctx context.Context) error {
	if g.left > 0 {
		g.left--
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Symbols: []string{"EURUSD"}, Rate: 1}, nil)
	assert.Error(t, err)
	_, err = New(Config{Rate: 1}, &memPublisher{})
	assert.Error(t, err)
	_, err = New(Config{Symbols: []string{"EURUSD"}}, &memPublisher{})
	assert.Error(t, err)
	_, err = New(Config{Symbols: []string{"EURUSD"}, Rate: 1, LargeMoveProb: 2}, &memPublisher{})
	assert.Error(t, err)
}
