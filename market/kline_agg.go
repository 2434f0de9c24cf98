package market

import (
	"sync"
	"time"
)

// KlineAggregator 从报价流生成固定周期的 Kline，周期按 Interval 对齐。
type KlineAggregator struct {
	Interval time.Duration
	mu       sync.Mutex
	current  map[string]*Kline
}

func NewKlineAggregator(interval time.Duration) *KlineAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &KlineAggregator{Interval: interval, current: make(map[string]*Kline)}
}

// OnPrice 更新 symbol 当前 Kline；跨周期时返回上一根（已闭合）或 nil。
func (a *KlineAggregator) OnPrice(symbol string, price float64, ts time.Time) *Kline {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := ts.Truncate(a.Interval)
	cur := a.current[symbol]
	if cur == nil || start.After(cur.Ts) {
		var closed *Kline
		if cur != nil {
			closed = cur
		}
		a.current[symbol] = &Kline{
			Symbol: symbol,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Count:  1,
			Ts:     start,
		}
		return closed
	}
	// 乱序的旧周期价格直接忽略
	if start.Before(cur.Ts) {
		return nil
	}
	if price > cur.High {
		cur.High = price
	}
	if price < cur.Low {
		cur.Low = price
	}
	cur.Close = price
	cur.Count++
	return nil
}

// Flush 取出所有未闭合的 Kline（停止时使用）。
func (a *KlineAggregator) Flush() []Kline {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Kline, 0, len(a.current))
	for sym, k := range a.current {
		out = append(out, *k)
		delete(a.current, sym)
	}
	return out
}
