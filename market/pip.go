package market

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	defaultPip = decimal.New(1, -4) // 0.0001
	jpyPip     = decimal.New(1, -2) // 0.01
)

// PipTable 每个品种的 pip 大小与大跳空阈值。
// 运行时可热更新，读写都加锁。
type PipTable struct {
	mu         sync.RWMutex
	overrides  map[string]decimal.Decimal
	multiplier decimal.Decimal
}

// NewPipTable largeGapPips <= 0 时取 1。
func NewPipTable(overrides map[string]float64, largeGapPips float64) *PipTable {
	p := &PipTable{}
	p.Update(overrides, largeGapPips)
	return p
}

// Update 整体替换覆盖表和倍数（热更新）。
func (p *PipTable) Update(overrides map[string]float64, largeGapPips float64) {
	m := make(map[string]decimal.Decimal, len(overrides))
	for sym, size := range overrides {
		if size > 0 {
			m[strings.ToUpper(sym)] = decimal.NewFromFloat(size)
		}
	}
	mult := decimal.NewFromInt(1)
	if largeGapPips > 0 {
		mult = decimal.NewFromFloat(largeGapPips)
	}
	p.mu.Lock()
	p.overrides = m
	p.multiplier = mult
	p.mu.Unlock()
}

// PipSize 覆盖值优先，其次 JPY 结尾，最后默认 0.0001。
func (p *PipTable) PipSize(symbol string) decimal.Decimal {
	sym := strings.ToUpper(symbol)
	p.mu.RLock()
	size, ok := p.overrides[sym]
	p.mu.RUnlock()
	if ok {
		return size
	}
	if strings.HasSuffix(sym, "JPY") {
		return jpyPip
	}
	return defaultPip
}

// Threshold 判定大跳空的最小价差。
func (p *PipTable) Threshold(symbol string) decimal.Decimal {
	size := p.PipSize(symbol)
	p.mu.RLock()
	mult := p.multiplier
	p.mu.RUnlock()
	return size.Mul(mult)
}
