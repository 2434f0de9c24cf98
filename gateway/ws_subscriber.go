package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPongWait  = 60 * time.Second
	defaultWriteWait = 5 * time.Second
)

// WSSubscriberConfig 数据通道 websocket 订阅参数。
type WSSubscriberConfig struct {
	URL              string        // ws://host:port/ticks
	QueueSize        int           // 接收队列长度
	PongWait         time.Duration // 超过该时间无任何帧视为断线
	HandshakeTimeout time.Duration
}

// WSDialer 返回一个 gorilla websocket 订阅拨号器。
func WSDialer(cfg WSSubscriberConfig, logger *zap.Logger) Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) (Session, error) {
		return DialWS(ctx, cfg, logger)
	}
}

// DialWS 连接发布端并启动读协程。
func DialWS(ctx context.Context, cfg WSSubscriberConfig, logger *zap.Logger) (Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ws url required")
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	s := newQueueSession(cfg.QueueSize, conn.Close)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(defaultWriteWait))
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				s.fail(err)
				logger.Warn("ws subscriber read stopped", zap.String("url", cfg.URL), zap.Error(err))
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if mt != websocket.TextMessage {
				continue
			}
			if !s.push(string(data)) {
				return
			}
		}
	}()
	logger.Info("ws subscriber connected", zap.String("url", cfg.URL))
	return s, nil
}
