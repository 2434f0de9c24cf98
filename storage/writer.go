package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tick-gap-go/metrics"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Delta 待累加到 (Symbol, Minute) 行的增量。
type Delta struct {
	Symbol string
	Minute int64
	Large  int64
	Small  int64
}

func (d Delta) Empty() bool { return d.Large == 0 && d.Small == 0 }

type deltaKey struct {
	symbol string
	minute int64
}

// WriterConfig 写入重试参数，Lane 用于日志和指标标签。
type WriterConfig struct {
	Lane         string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Writer 有界重试写入；失败的增量按 (symbol, minute) 暂存合并，
// 后续同键增量并入暂存项，保证同一行的写入顺序。
type Writer struct {
	store  GapStore
	cfg    WriterConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending map[deltaKey]*Delta

	// OnFailure 重试耗尽时回调（告警），可为 nil。
	OnFailure func(d Delta, err error)
}

func NewWriter(store GapStore, cfg WriterConfig, logger *zap.Logger) *Writer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:   store,
		cfg:     cfg,
		logger:  logger.With(zap.String("lane", cfg.Lane)),
		pending: make(map[deltaKey]*Delta),
	}
}

// Flush 写入一个增量。返回错误时增量已暂存，不会丢失。
func (w *Writer) Flush(ctx context.Context, d Delta) error {
	if d.Empty() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	k := deltaKey{d.Symbol, d.Minute}
	if p, ok := w.pending[k]; ok {
		p.Large += d.Large
		p.Small += d.Small
		return nil
	}
	if err := w.write(ctx, d, w.cfg.MaxRetries); err != nil {
		w.park(k, d, err)
		return err
	}
	return nil
}

// Retry 每个暂存项尝试一次，遇到失败即停止。返回写入成功的条数。
func (w *Writer) Retry(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retryLocked(ctx, 1)
}

// Drain 停机时完整重试所有暂存项。
func (w *Writer) Drain(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.retryLocked(ctx, w.cfg.MaxRetries); err != nil {
		return fmt.Errorf("drain: %d deltas not persisted: %w", len(w.pending), err)
	}
	return nil
}

// Pending 暂存中的增量数。
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// RecordSequenceGap 尽力写入，失败只记录。
func (w *Writer) RecordSequenceGap(ctx context.Context, gap SequenceGap) {
	if err := w.store.RecordSequenceGap(ctx, gap); err != nil {
		metrics.StorageErrors.WithLabelValues(w.cfg.Lane, "sequence_gap").Inc()
		w.logger.Warn("record sequence gap failed", zap.String("symbol", gap.Symbol), zap.Error(err))
	}
}

func (w *Writer) retryLocked(ctx context.Context, attempts int) (int, error) {
	if len(w.pending) == 0 {
		return 0, nil
	}
	keys := make([]deltaKey, 0, len(w.pending))
	for k := range w.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].minute != keys[j].minute {
			return keys[i].minute < keys[j].minute
		}
		return keys[i].symbol < keys[j].symbol
	})

	written := 0
	for _, k := range keys {
		d := *w.pending[k]
		if err := w.write(ctx, d, attempts); err != nil {
			metrics.StoragePending.WithLabelValues(w.cfg.Lane).Set(float64(len(w.pending)))
			return written, err
		}
		delete(w.pending, k)
		written++
		w.logger.Info("pending delta persisted", zap.String("symbol", d.Symbol), zap.Int64("minute", d.Minute))
	}
	metrics.StoragePending.WithLabelValues(w.cfg.Lane).Set(float64(len(w.pending)))
	return written, nil
}

func (w *Writer) write(ctx context.Context, d Delta, attempts int) error {
	start := time.Now()
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && w.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				metrics.ObserveFlush(w.cfg.Lane, start, ctx.Err())
				return ctx.Err()
			case <-time.After(w.cfg.RetryBackoff):
			}
		}
		err = w.store.Upsert(ctx, d.Minute, d.Symbol, d.Large, d.Small)
		if err == nil {
			metrics.ObserveFlush(w.cfg.Lane, start, nil)
			return nil
		}
		w.logger.Warn("upsert failed", zap.String("symbol", d.Symbol), zap.Int64("minute", d.Minute),
			zap.Int("attempt", i+1), zap.Error(err))
	}
	metrics.ObserveFlush(w.cfg.Lane, start, err)
	return err
}

func (w *Writer) park(k deltaKey, d Delta, err error) {
	cp := d
	w.pending[k] = &cp
	metrics.StoragePending.WithLabelValues(w.cfg.Lane).Set(float64(len(w.pending)))
	w.logger.Error("delta parked for retry", zap.String("symbol", d.Symbol), zap.Int64("minute", d.Minute),
		zap.Int64("large", d.Large), zap.Int64("small", d.Small), zap.Error(err))
	if w.OnFailure != nil {
		w.OnFailure(d, err)
	}
}
