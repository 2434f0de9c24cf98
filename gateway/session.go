package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrSessionClosed 底层连接已断开，调用方需要重新拨号。
var ErrSessionClosed = errors.New("session closed")

// DefaultQueueSize 接收队列的默认长度（高水位）。
const DefaultQueueSize = 100000

// Session 订阅会话。TryReceive 不阻塞：无消息时返回 ok=false。
type Session interface {
	TryReceive() (line string, ok bool, err error)
	Close() error
}

// Dialer 打开一个新的订阅会话。
type Dialer func(ctx context.Context) (Session, error)

// Publisher 数据通道发布端（压测程序使用）。
type Publisher interface {
	Publish(ctx context.Context, symbol, line string) error
	Close() error
}

// TopicFilter 按 `TOPIC|` 或 `TOPIC|SYMBOL|` 前缀过滤，空过滤器接受所有消息。
type TopicFilter struct {
	prefixes []string
}

// NewTopicFilter 对 topics × symbols 生成前缀；symbols 为空时只按主题过滤。
func NewTopicFilter(topics, symbols []string) TopicFilter {
	var f TopicFilter
	for _, t := range topics {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if len(symbols) == 0 {
			f.prefixes = append(f.prefixes, t+"|")
			continue
		}
		for _, s := range symbols {
			s = strings.TrimSpace(s)
			if s != "" {
				f.prefixes = append(f.prefixes, t+"|"+s+"|")
			}
		}
	}
	return f
}

func (f TopicFilter) Match(line string) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// Backoff 指数退避，上限 Max。
type Backoff struct {
	Min     time.Duration
	Max     time.Duration
	attempt int
}

func (b *Backoff) Next() time.Duration {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	if hi < lo {
		hi = 30 * time.Second
	}
	d := lo
	for i := 0; i < b.attempt && d < hi; i++ {
		d *= 2
	}
	if d > hi {
		d = hi
	}
	b.attempt++
	return d
}

func (b *Backoff) Reset() { b.attempt = 0 }

// queueSession 由后台读协程填充的有界队列。队列满时读协程阻塞（背压），不丢消息。
type queueSession struct {
	ch   chan string
	done chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeFn   func() error
}

func newQueueSession(size int, closeFn func() error) *queueSession {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queueSession{
		ch:      make(chan string, size),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

// push 读协程调用；会话关闭时返回 false。
func (s *queueSession) push(line string) bool {
	select {
	case s.ch <- line:
		return true
	case <-s.done:
		return false
	}
}

// fail 记录读协程的终止原因。
func (s *queueSession) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *queueSession) TryReceive() (string, bool, error) {
	select {
	case line := <-s.ch:
		return line, true, nil
	default:
	}
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		// 读协程退出前可能刚塞入消息
		select {
		case line := <-s.ch:
			return line, true, nil
		default:
		}
		return "", false, fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return "", false, nil
}

func (s *queueSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.fail(errors.New("closed by caller"))
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}
