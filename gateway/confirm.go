package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	ConfirmRequestToken = "CONFIRM"
	ConfirmAckToken     = "CONFIRMED"

	defaultAckWriteTimeout = 100 * time.Millisecond
)

// ConfirmClient 消费端的确认通道。读协程把请求累计为计数，
// TryRequest 非阻塞地取出一个请求，Ack 回复一个确认。
type ConfirmClient struct {
	conn         *websocket.Conn
	pending      atomic.Int64
	writeTimeout time.Duration
	cancel       context.CancelFunc

	mu  sync.Mutex
	err error
}

// DialConfirm 连接发布端的 /confirm。
func DialConfirm(ctx context.Context, url string, logger *zap.Logger) (*ConfirmClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial confirm %s: %w", url, err)
	}
	conn.SetReadLimit(4096)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &ConfirmClient{conn: conn, writeTimeout: defaultAckWriteTimeout, cancel: cancel}
	go func() {
		for {
			mt, data, err := conn.Read(readCtx)
			if err != nil {
				c.setErr(err)
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
					logger.Warn("confirm channel read stopped", zap.Error(err))
				}
				return
			}
			if mt != websocket.MessageText || len(strings.TrimSpace(string(data))) == 0 {
				continue
			}
			c.pending.Add(1)
		}
	}()
	return c, nil
}

// TryRequest 有待确认的请求时返回 true，并消耗一个。
func (c *ConfirmClient) TryRequest() bool {
	for {
		n := c.pending.Load()
		if n <= 0 {
			return false
		}
		if c.pending.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Ack 写出确认，写超时很短，不阻塞数据路径。
func (c *ConfirmClient) Ack(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, []byte(ConfirmAckToken))
}

// Err 读协程的终止原因。
func (c *ConfirmClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *ConfirmClient) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *ConfirmClient) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "shutdown")
}

// ErrConfirmUnavailable 确认通道当前未连接。
var ErrConfirmUnavailable = errors.New("confirm channel unavailable")

// ConfirmLinkConfig 确认通道重连参数。
type ConfirmLinkConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// ConfirmLink 断线后按退避自动重拨的确认通道。
// 拨号在后台协程进行，TryRequest/Ack 不会阻塞消费协程。
type ConfirmLink struct {
	cfg    ConfirmLinkConfig
	dial   func(ctx context.Context) (*ConfirmClient, error)
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	client   *ConfirmClient
	backoff  Backoff
	dialing  bool
	nextDial time.Time
	closed   bool
	dials    int64
}

// NewConfirmLink 立即开始第一次拨号；发布端尚未启动时按退避重试。
func NewConfirmLink(cfg ConfirmLinkConfig, logger *zap.Logger) *ConfirmLink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &ConfirmLink{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		backoff: Backoff{Min: cfg.ReconnectMin, Max: cfg.ReconnectMax},
	}
	l.dial = func(ctx context.Context) (*ConfirmClient, error) {
		return DialConfirm(ctx, cfg.URL, logger)
	}
	l.current()
	return l
}

// current 返回可用连接；连接已断开或尚未建立时按需发起后台拨号。
func (l *ConfirmLink) current() *ConfirmClient {
	var dead *ConfirmClient
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if l.client != nil && l.client.Err() != nil {
		dead = l.client
		l.client = nil
		wait := l.backoff.Next()
		l.nextDial = l.now().Add(wait)
		l.logger.Warn("confirm channel lost, redialing",
			zap.String("url", l.cfg.URL), zap.Error(dead.Err()), zap.Duration("backoff", wait))
	}
	if l.client == nil && !l.dialing && !l.now().Before(l.nextDial) {
		l.dialing = true
		l.dials++
		go l.redial()
	}
	c := l.client
	l.mu.Unlock()

	if dead != nil {
		_ = dead.Close()
	}
	return c
}

func (l *ConfirmLink) redial() {
	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.DialTimeout)
	defer cancel()
	c, err := l.dial(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.dialing = false
	if l.closed {
		if c != nil {
			_ = c.Close()
		}
		return
	}
	if err != nil {
		wait := l.backoff.Next()
		l.nextDial = l.now().Add(wait)
		l.logger.Debug("confirm dial failed",
			zap.String("url", l.cfg.URL), zap.Error(err), zap.Duration("backoff", wait))
		return
	}
	l.client = c
	l.backoff.Reset()
	l.logger.Info("confirm channel connected", zap.String("url", l.cfg.URL))
}

func (l *ConfirmLink) TryRequest() bool {
	c := l.current()
	return c != nil && c.TryRequest()
}

func (l *ConfirmLink) Ack(ctx context.Context) error {
	c := l.current()
	if c == nil {
		return ErrConfirmUnavailable
	}
	return c.Ack(ctx)
}

// Connected 当前是否持有可用连接（同时驱动重连）。
func (l *ConfirmLink) Connected() bool { return l.current() != nil }

// Dials 已发起的拨号次数。
func (l *ConfirmLink) Dials() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials
}

func (l *ConfirmLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.cancel()
	c := l.client
	l.client = nil
	l.mu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

// ConfirmServer 发布端：向订阅者发送确认请求并统计回执。
type ConfirmServer struct {
	logger *zap.Logger
	onAck  func()

	mu    sync.RWMutex
	peers map[*websocket.Conn]struct{}

	acks atomic.Int64
}

// NewConfirmServer onAck 每收到一个确认调用一次，可为 nil。
func NewConfirmServer(logger *zap.Logger, onAck func()) *ConfirmServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmServer{logger: logger, onAck: onAck, peers: make(map[*websocket.Conn]struct{})}
}

func (s *ConfirmServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("confirm accept failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.peers[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.peers, conn)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if strings.TrimSpace(string(data)) == ConfirmAckToken {
			s.acks.Add(1)
			if s.onAck != nil {
				s.onAck()
			}
		}
	}
}

// Request 向所有订阅者发送一次确认请求，返回发送成功的数量。
func (s *ConfirmServer) Request(ctx context.Context) (int, error) {
	s.mu.RLock()
	peers := make([]*websocket.Conn, 0, len(s.peers))
	for c := range s.peers {
		peers = append(peers, c)
	}
	s.mu.RUnlock()

	sent := 0
	var firstErr error
	for _, c := range peers {
		if err := c.Write(ctx, websocket.MessageText, []byte(ConfirmRequestToken)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// Peers 当前连接的订阅者数量。
func (s *ConfirmServer) Peers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *ConfirmServer) Acks() int64 { return s.acks.Load() }

// Close 断开所有订阅者，订阅端会自行重连。
func (s *ConfirmServer) Close() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
	for c := range peers {
		_ = c.Close(websocket.StatusGoingAway, "publisher shutdown")
	}
}
