package market

import (
	"github.com/shopspring/decimal"
)

// GapKind 价差分类结果。
type GapKind int

const (
	GapNone GapKind = iota
	GapLarge
	GapSmall
)

func (g GapKind) String() string {
	switch g {
	case GapLarge:
		return "large"
	case GapSmall:
		return "small"
	default:
		return "none"
	}
}

// SeqVerdict 传输序号检查结果。
type SeqVerdict int

const (
	SeqFirst SeqVerdict = iota
	SeqInOrder
	SeqLost
	SeqDuplicate
	SeqReset
)

func (v SeqVerdict) String() string {
	switch v {
	case SeqFirst:
		return "first"
	case SeqInOrder:
		return "in_order"
	case SeqLost:
		return "lost"
	case SeqDuplicate:
		return "duplicate"
	case SeqReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Result 单条消息的分类结果。
type Result struct {
	Gap      GapKind
	Delta    decimal.Decimal
	Seq      SeqVerdict
	Lost     int64 // Seq == SeqLost 时丢失的条数
	Expected int64
	Stale    bool // 重复/乱序消息，不更新 LastBid
	Skipped  bool // DropDuplicates 打开时重复消息不参与分类
}

// ReorderWindow 比 LastSeq 小但不超过该距离的序号按乱序重复处理，
// 更小的序号视为发布端重启（重启后的 1 号消息可能已丢失）。
const ReorderWindow = 16

// Classifier 按品种跟踪序号和上一个价格，对价差分类。
// 非并发安全，由单个消费协程使用。
type Classifier struct {
	pips           *PipTable
	symbols        *SymbolTable
	DropDuplicates bool
}

func NewClassifier(pips *PipTable, symbols *SymbolTable) *Classifier {
	return &Classifier{pips: pips, symbols: symbols}
}

// Observe 处理一条消息。seq 为 0 表示发布端没有序号，跳过序号检查。
func (c *Classifier) Observe(symbol string, seq int64, price float64) Result {
	st := c.symbols.Get(symbol)
	p := decimal.NewFromFloat(price)

	if !st.Seen {
		st.Seen = true
		st.LastSeq = seq
		st.LastBid = p
		return Result{Gap: GapNone, Seq: SeqFirst, Expected: seq}
	}

	res := Result{Seq: SeqInOrder}
	switch {
	case seq == 0:
		// 旧发布端
	case st.LastSeq == 0:
		st.LastSeq = seq
	case seq == st.LastSeq+1:
		res.Expected = seq
		st.LastSeq = seq
		st.strayNext = 0
	case seq > st.LastSeq+1:
		res.Seq = SeqLost
		res.Expected = st.LastSeq + 1
		res.Lost = seq - st.LastSeq - 1
		st.LastSeq = seq
		st.strayNext = 0
	case seq < st.LastSeq && isRestart(st, seq):
		// 序号和价格都按新一轮重新同步
		res.Seq = SeqReset
		res.Expected = st.LastSeq + 1
		st.LastSeq = seq
		st.strayNext = 0
	default:
		res.Seq = SeqDuplicate
		res.Expected = st.LastSeq + 1
		res.Stale = true
		if seq < st.LastSeq {
			st.strayNext = seq + 1
		}
	}

	if res.Stale && c.DropDuplicates {
		res.Skipped = true
		return res
	}

	res.Delta = p.Sub(st.LastBid).Abs()
	if res.Delta.GreaterThanOrEqual(c.pips.Threshold(symbol)) {
		res.Gap = GapLarge
	} else {
		res.Gap = GapSmall
	}
	if !res.Stale {
		st.LastBid = p
	}
	return res
}

// isRestart 1 号、远低于窗口，或紧接上一条低序号的后继，都说明发布端已重启。
func isRestart(st *SymbolState, seq int64) bool {
	if seq == 1 || st.LastSeq-seq > ReorderWindow {
		return true
	}
	return st.strayNext != 0 && seq == st.strayNext
}
