package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tick-gap-go/metrics"
)

const defaultClientQueue = 4096

// WSPublisher 数据通道发布端：向所有连接的订阅者广播。
// 订阅者队列满时丢弃该条消息（PUB 语义），并计数。
type WSPublisher struct {
	upgrader   websocket.Upgrader
	queueSize  int
	pingPeriod time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	dropped atomic.Int64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewWSPublisher(queueSize int, logger *zap.Logger) *WSPublisher {
	if queueSize <= 0 {
		queueSize = defaultClientQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSPublisher{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		queueSize:  queueSize,
		pingPeriod: defaultPongWait * 9 / 10,
		logger:     logger,
		clients:    make(map[*wsClient]struct{}),
	}
}

// ServeHTTP 升级连接并注册订阅者。
func (p *WSPublisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, p.queueSize)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.clients[c] = struct{}{}
	p.mu.Unlock()
	p.logger.Info("subscriber connected", zap.String("remote", r.RemoteAddr))

	go p.writePump(c)
	go p.readPump(c)
}

// Publish 非阻塞广播，symbol 仅用于接口兼容（kafka 分区键）。
func (p *WSPublisher) Publish(_ context.Context, _ string, line string) error {
	data := []byte(line)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for c := range p.clients {
		select {
		case c.send <- data:
		default:
			p.dropped.Add(1)
			metrics.SimDropped.Inc()
		}
	}
	return nil
}

// Clients 当前订阅者数量。
func (p *WSPublisher) Clients() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func (p *WSPublisher) Dropped() int64 { return p.dropped.Load() }

// Close 断开所有订阅者。
func (p *WSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for c := range p.clients {
		delete(p.clients, c)
		c.close()
	}
	return nil
}

func (p *WSPublisher) remove(c *wsClient) {
	p.mu.Lock()
	if _, ok := p.clients[c]; ok {
		delete(p.clients, c)
		c.close()
	}
	p.mu.Unlock()
}

func (p *WSPublisher) writePump(c *wsClient) {
	ticker := time.NewTicker(p.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait)); err != nil {
				p.remove(c)
				return
			}
		}
	}
}

// readPump 丢弃订阅端数据，只用于发现断线。
func (p *WSPublisher) readPump(c *wsClient) {
	defer p.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
