package market

import (
	"sort"
	"time"
)

const (
	DefaultLateWindowMinutes = 1
	DefaultFlushGrace        = time.Second
)

// Bucket 一个品种一分钟内的大/小跳空计数，Minute 为分钟起始秒。
type Bucket struct {
	Symbol string
	Minute int64
	Large  int64
	Small  int64
}

func (b Bucket) Empty() bool { return b.Large == 0 && b.Small == 0 }

func (b *Bucket) add(gap GapKind) {
	switch gap {
	case GapLarge:
		b.Large++
	case GapSmall:
		b.Small++
	}
}

// OutcomeKind Add 的处理结果。
type OutcomeKind int

const (
	OutcomeCounted OutcomeKind = iota
	OutcomeLate
	OutcomeDroppedLate
	OutcomeIgnored
)

// Outcome 包含需要立即落库的数据：
// Closed 为跨分钟关闭的旧桶；Late 为迟到消息的单条增量，需合并到已落库的行。
type Outcome struct {
	Kind        OutcomeKind
	Closed      *Bucket
	Late        Bucket
	LateMinutes int64
}

type symbolBucket struct {
	open      *Bucket
	watermark int64 // 已关闭的最新分钟
	closedAny bool
}

// MinuteAggregator 每个品种最多一个打开的分钟桶。关闭的桶只返回一次。
// 非并发安全。
type MinuteAggregator struct {
	lateWindow int64
	graceSec   int64
	state      map[string]*symbolBucket
}

func NewMinuteAggregator(lateWindowMinutes int, flushGrace time.Duration) *MinuteAggregator {
	a := &MinuteAggregator{state: make(map[string]*symbolBucket)}
	a.SetLateWindow(lateWindowMinutes)
	if flushGrace < 0 {
		flushGrace = DefaultFlushGrace
	}
	a.graceSec = int64((flushGrace + time.Second - 1) / time.Second)
	return a
}

// SetLateWindow 热更新迟到窗口，负数取默认值；0 表示不接受迟到数据。
func (a *MinuteAggregator) SetLateWindow(minutes int) {
	if minutes < 0 {
		minutes = DefaultLateWindowMinutes
	}
	a.lateWindow = int64(minutes)
}

func (a *MinuteAggregator) LateWindow() int { return int(a.lateWindow) }

// Add 把一次分类结果计入 ts 所在分钟。
func (a *MinuteAggregator) Add(symbol string, ts int64, gap GapKind) Outcome {
	if gap == GapNone {
		return Outcome{Kind: OutcomeIgnored}
	}
	minute := MinuteStart(ts)
	st := a.state[symbol]
	if st == nil {
		st = &symbolBucket{}
		a.state[symbol] = st
	}

	var current int64
	if st.open != nil {
		switch {
		case minute == st.open.Minute:
			st.open.add(gap)
			return Outcome{Kind: OutcomeCounted}
		case minute > st.open.Minute:
			closed := *st.open
			st.watermark = closed.Minute
			st.closedAny = true
			st.open = &Bucket{Symbol: symbol, Minute: minute}
			st.open.add(gap)
			return Outcome{Kind: OutcomeCounted, Closed: &closed}
		}
		current = st.open.Minute
	} else {
		if !st.closedAny || minute > st.watermark {
			st.open = &Bucket{Symbol: symbol, Minute: minute}
			st.open.add(gap)
			return Outcome{Kind: OutcomeCounted}
		}
		current = st.watermark + 60
	}

	late := (current - minute) / 60
	if late > a.lateWindow {
		return Outcome{Kind: OutcomeDroppedLate, LateMinutes: late}
	}
	delta := Bucket{Symbol: symbol, Minute: minute}
	delta.add(gap)
	return Outcome{Kind: OutcomeLate, Late: delta, LateMinutes: late}
}

// Expire 关闭所有 minute+60+grace <= now 的桶，now 为 Unix 秒。
func (a *MinuteAggregator) Expire(now int64) []Bucket {
	var out []Bucket
	for _, st := range a.state {
		if st.open == nil || st.open.Minute+60+a.graceSec > now {
			continue
		}
		out = append(out, a.closeOpen(st))
	}
	sortBuckets(out)
	return out
}

// CloseSymbol 关闭并遗忘该品种（LRU 淘汰时使用）。
func (a *MinuteAggregator) CloseSymbol(symbol string) (Bucket, bool) {
	st, ok := a.state[symbol]
	if !ok {
		return Bucket{}, false
	}
	delete(a.state, symbol)
	if st.open == nil {
		return Bucket{}, false
	}
	return *st.open, true
}

// CloseAll 关闭所有打开的桶（停机）。
func (a *MinuteAggregator) CloseAll() []Bucket {
	var out []Bucket
	for _, st := range a.state {
		if st.open != nil {
			out = append(out, a.closeOpen(st))
		}
	}
	sortBuckets(out)
	return out
}

// OpenBuckets 当前打开的桶数量。
func (a *MinuteAggregator) OpenBuckets() int {
	n := 0
	for _, st := range a.state {
		if st.open != nil {
			n++
		}
	}
	return n
}

func (a *MinuteAggregator) closeOpen(st *symbolBucket) Bucket {
	b := *st.open
	st.open = nil
	st.watermark = b.Minute
	st.closedAny = true
	return b
}

func sortBuckets(bs []Bucket) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Minute != bs[j].Minute {
			return bs[i].Minute < bs[j].Minute
		}
		return bs[i].Symbol < bs[j].Symbol
	})
}
