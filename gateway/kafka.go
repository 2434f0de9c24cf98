package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig kafka 数据通道参数。消息 value 为完整线路消息，key 为 symbol。
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	QueueSize    int
	BatchTimeout time.Duration
}

// KafkaDialer 返回 kafka 订阅拨号器。
func KafkaDialer(cfg KafkaConfig, logger *zap.Logger) Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) (Session, error) {
		return DialKafka(ctx, cfg, logger)
	}
}

// DialKafka 先确认 broker 可达，再启动 reader 协程。
func DialKafka(ctx context.Context, cfg KafkaConfig, logger *zap.Logger) (Session, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic required")
	}
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial %s: %w", cfg.Brokers[0], err)
	}
	_ = conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  100 * time.Millisecond,
	})

	readCtx, cancel := context.WithCancel(context.Background())
	s := newQueueSession(cfg.QueueSize, func() error {
		cancel()
		return reader.Close()
	})
	go func() {
		for {
			msg, err := reader.ReadMessage(readCtx)
			if err != nil {
				s.fail(err)
				if !errors.Is(err, context.Canceled) {
					logger.Warn("kafka reader stopped", zap.String("topic", cfg.Topic), zap.Error(err))
				}
				return
			}
			if !s.push(string(msg.Value)) {
				return
			}
		}
	}()
	logger.Info("kafka subscriber started", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return s, nil
}

// KafkaPublisher 按 symbol 分区，保证同一品种有序。
type KafkaPublisher struct {
	w *kafka.Writer
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batch,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, symbol, line string) error {
	return p.w.WriteMessages(ctx, kafkaMessage(symbol, line))
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// kafkaMessage key 为 symbol，value 为线路消息。
func kafkaMessage(symbol, line string) kafka.Message {
	return kafka.Message{Key: []byte(symbol), Value: []byte(line)}
}
