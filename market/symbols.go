package market

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// DefaultSymbolCapacity 符号表默认容量。
const DefaultSymbolCapacity = 256

// SymbolState 单个品种的序号与价格状态。
type SymbolState struct {
	LastSeq int64
	LastBid decimal.Decimal
	Seen    bool

	strayNext int64 // 上一条低序号消息的后继，再次命中即判定为重启
}

// SymbolTable 固定容量 LRU，超出容量时淘汰最久未见的品种。
type SymbolTable struct {
	cache   *lru.Cache[string, *SymbolState]
	onEvict func(symbol string)
}

// NewSymbolTable onEvict 在品种被挤出时调用，可为 nil。
func NewSymbolTable(capacity int, onEvict func(symbol string)) (*SymbolTable, error) {
	if capacity <= 0 {
		capacity = DefaultSymbolCapacity
	}
	t := &SymbolTable{onEvict: onEvict}
	cache, err := lru.NewWithEvict[string, *SymbolState](capacity, func(symbol string, _ *SymbolState) {
		if t.onEvict != nil {
			t.onEvict(symbol)
		}
	})
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

// Get 返回品种状态，不存在时创建（可能触发淘汰）。
func (t *SymbolTable) Get(symbol string) *SymbolState {
	if st, ok := t.cache.Get(symbol); ok {
		return st
	}
	st := &SymbolState{}
	t.cache.Add(symbol, st)
	return st
}

func (t *SymbolTable) Len() int { return t.cache.Len() }

// Symbols 按从旧到新的顺序返回当前跟踪的品种，可在其他协程调用。
func (t *SymbolTable) Symbols() []string { return t.cache.Keys() }
