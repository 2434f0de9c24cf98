package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tick-gap-go/infrastructure/logger"
	"tick-gap-go/metrics"
)

// DefaultConfirmTimeout 等待确认请求的默认超时。
const DefaultConfirmTimeout = 500 * time.Millisecond

// ConfirmChannel 确认通道（gateway.ConfirmClient 实现）。
type ConfirmChannel interface {
	TryRequest() bool
	Ack(ctx context.Context) error
}

// ConfirmState 确认协议状态
type ConfirmState int

const (
	ConfirmIdle ConfirmState = iota
	ConfirmAwaiting
)

func (s ConfirmState) String() string {
	if s == ConfirmAwaiting {
		return "AWAITING"
	}
	return "IDLE"
}

// Confirmer Idle/Awaiting 状态机，只在消费协程内调用，任何错误都只记录。
type Confirmer struct {
	ch      ConfirmChannel
	timeout time.Duration
	logger  *logger.Logger

	state ConfirmState
	since time.Time

	acks     int64
	timeouts int64
	errors   int64
}

// NewConfirmer ch 为 nil 时关闭确认协议，所有调用都是空操作。
func NewConfirmer(ch ConfirmChannel, timeout time.Duration, lg *logger.Logger) *Confirmer {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if lg == nil {
		lg = logger.Wrap(nil)
	}
	return &Confirmer{ch: ch, timeout: timeout, logger: lg}
}

func (c *Confirmer) Enabled() bool { return c.ch != nil }

func (c *Confirmer) State() ConfirmState { return c.state }

func (c *Confirmer) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Expect 成功处理一条消息后进入等待；已在等待时不重置起点。
func (c *Confirmer) Expect(now time.Time) {
	if c.ch == nil || c.state == ConfirmAwaiting {
		return
	}
	c.state = ConfirmAwaiting
	c.since = now
}

// Poll 有请求立即确认；等待超时则记录并回到空闲。
func (c *Confirmer) Poll(ctx context.Context, now time.Time) {
	if c.ch == nil {
		return
	}
	for c.ch.TryRequest() {
		if err := c.ch.Ack(ctx); err != nil {
			c.errors++
			metrics.ConfirmErrors.Inc()
			c.logger.Warn("confirm ack failed", zap.Error(err))
		} else {
			c.acks++
			metrics.ConfirmAcks.Inc()
		}
		c.state = ConfirmIdle
	}
	if c.state == ConfirmAwaiting && now.Sub(c.since) > c.timeout {
		c.timeouts++
		metrics.ConfirmTimeouts.Inc()
		c.logger.LogEvent(zapcore.DebugLevel, "confirm_timeout", map[string]interface{}{
			"waitedMs":  now.Sub(c.since).Milliseconds(),
			"timeoutMs": c.timeout.Milliseconds(),
		})
		c.state = ConfirmIdle
	}
}

// Counters 返回 acks、timeouts、errors。
func (c *Confirmer) Counters() (acks, timeouts, errors int64) {
	return c.acks, c.timeouts, c.errors
}
