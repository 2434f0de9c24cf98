package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, capacity int, onEvict func(string)) *Classifier {
	t.Helper()
	symbols, err := NewSymbolTable(capacity, onEvict)
	require.NoError(t, err)
	return NewClassifier(NewPipTable(nil, 1), symbols)
}

func TestClassifierGaps(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	prices := []float64{1.10000, 1.10015, 1.10016}
	var large, small int
	for i, p := range prices {
		res := c.Observe("EURUSD", int64(i+1), p)
		switch res.Gap {
		case GapLarge:
			large++
		case GapSmall:
			small++
		}
	}
	assert.Equal(t, 1, large)
	assert.Equal(t, 1, small)
}

func TestClassifierExactPip(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	c.Observe("EURUSD", 1, 1.1000)
	res := c.Observe("EURUSD", 2, 1.1001)
	assert.Equal(t, GapLarge, res.Gap)
	assert.Equal(t, "0.0001", res.Delta.String())

	c.Observe("USDJPY", 1, 150.00)
	res = c.Observe("USDJPY", 2, 150.009)
	assert.Equal(t, GapSmall, res.Gap)
}

func TestClassifierSequence(t *testing.T) {
	tests := []struct {
		name    string
		seqs    []int64
		verdict SeqVerdict
		lost    int64
		stale   bool
	}{
		{name: "首条", seqs: []int64{5}, verdict: SeqFirst},
		{name: "连续", seqs: []int64{1, 2}, verdict: SeqInOrder},
		{name: "丢失", seqs: []int64{1, 2, 6}, verdict: SeqLost, lost: 3},
		{name: "重复", seqs: []int64{1, 2, 3, 2}, verdict: SeqDuplicate, stale: true},
		{name: "同号重复", seqs: []int64{1, 1}, verdict: SeqDuplicate, stale: true},
		{name: "发布端重启", seqs: []int64{1, 2, 3, 1}, verdict: SeqReset},
		{name: "无序号", seqs: []int64{0, 0}, verdict: SeqInOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(t, 0, nil)
			var res Result
			for _, s := range tt.seqs {
				res = c.Observe("EURUSD", s, 1.1)
			}
			assert.Equal(t, tt.verdict, res.Seq)
			assert.Equal(t, tt.lost, res.Lost)
			assert.Equal(t, tt.stale, res.Stale)
		})
	}
}

func TestClassifierStaleKeepsLastBid(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	c.Observe("EURUSD", 1, 1.1000)
	c.Observe("EURUSD", 2, 1.1005)
	c.Observe("EURUSD", 3, 1.1010)
	res := c.Observe("EURUSD", 2, 1.0000)
	require.Equal(t, SeqDuplicate, res.Seq)
	assert.Equal(t, GapLarge, res.Gap)

	// 仍与 1.1010 比较
	res = c.Observe("EURUSD", 4, 1.10105)
	assert.Equal(t, GapSmall, res.Gap)
}

func TestClassifierDropDuplicates(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	c.DropDuplicates = true
	c.Observe("EURUSD", 1, 1.1)
	c.Observe("EURUSD", 2, 1.2)
	res := c.Observe("EURUSD", 2, 1.3)
	assert.True(t, res.Skipped)
	assert.Equal(t, GapNone, res.Gap)
}

func TestClassifierResetContinues(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	for i := int64(1); i <= 4; i++ {
		c.Observe("EURUSD", i, 1.1)
	}
	res := c.Observe("EURUSD", 1, 1.1)
	require.Equal(t, SeqReset, res.Seq)
	assert.Equal(t, GapSmall, res.Gap)
	res = c.Observe("EURUSD", 2, 1.1)
	assert.Equal(t, SeqInOrder, res.Seq)
}

func TestSymbolTableEviction(t *testing.T) {
	var evicted []string
	c := newTestClassifier(t, 2, func(s string) { evicted = append(evicted, s) })
	c.Observe("EURUSD", 1, 1.1)
	c.Observe("GBPUSD", 1, 1.2)
	c.Observe("EURUSD", 2, 1.1)
	c.Observe("USDJPY", 1, 150)
	assert.Equal(t, []string{"GBPUSD"}, evicted)

	// 被淘汰的品种重新出现时重新播种
	res := c.Observe("GBPUSD", 2, 1.3)
	assert.Equal(t, SeqFirst, res.Seq)
	assert.Equal(t, GapNone, res.Gap)
}

func TestClassifierRestartWithoutFirstMessage(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	for i := int64(1); i <= 100; i++ {
		c.Observe("EURUSD", i, 1.1000)
	}
	// 新一轮的 1 号丢失，从 2 号开始
	var verdicts []SeqVerdict
	var gaps []GapKind
	for i, p := range []float64{1.20000, 1.20001, 1.20002, 1.20003} {
		res := c.Observe("EURUSD", int64(i+2), p)
		verdicts = append(verdicts, res.Seq)
		gaps = append(gaps, res.Gap)
	}
	assert.Equal(t, []SeqVerdict{SeqReset, SeqInOrder, SeqInOrder, SeqInOrder}, verdicts)
	assert.Equal(t, []GapKind{GapLarge, GapSmall, GapSmall, GapSmall}, gaps)
}

func TestClassifierRestartInsideWindow(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	c.DropDuplicates = true
	for i := int64(1); i <= 5; i++ {
		c.Observe("EURUSD", i, 1.1000)
	}
	res := c.Observe("EURUSD", 2, 1.2000)
	require.Equal(t, SeqDuplicate, res.Seq)
	assert.True(t, res.Skipped)

	// 紧接的后继确认重启
	res = c.Observe("EURUSD", 3, 1.20001)
	assert.Equal(t, SeqReset, res.Seq)
	assert.Equal(t, GapLarge, res.Gap)
	res = c.Observe("EURUSD", 4, 1.20002)
	assert.Equal(t, SeqInOrder, res.Seq)
	assert.Equal(t, GapSmall, res.Gap)
}

func TestClassifierStrayDoesNotReset(t *testing.T) {
	c := newTestClassifier(t, 0, nil)
	for i := int64(1); i <= 10; i++ {
		c.Observe("EURUSD", i, 1.1)
	}
	res := c.Observe("EURUSD", 7, 1.1)
	require.Equal(t, SeqDuplicate, res.Seq)
	res = c.Observe("EURUSD", 11, 1.1)
	assert.Equal(t, SeqInOrder, res.Seq)
	// 后继已被正常消息清除
	res = c.Observe("EURUSD", 8, 1.1)
	assert.Equal(t, SeqDuplicate, res.Seq)
}
