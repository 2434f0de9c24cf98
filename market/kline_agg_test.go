package market

import (
	"testing"
	"time"
)

func TestKlineAggregator(t *testing.T) {
	agg := NewKlineAggregator(time.Minute)
	ts := time.Unix(0, 0)
	if closed := agg.OnPrice("EURUSD", 100, ts); closed != nil {
		t.Fatalf("should not close on first price")
	}
	agg.OnPrice("EURUSD", 102, ts.Add(10*time.Second))
	agg.OnPrice("EURUSD", 99, ts.Add(20*time.Second))
	agg.OnPrice("EURUSD", 101, ts.Add(50*time.Second))
	closed := agg.OnPrice("EURUSD", 103, ts.Add(70*time.Second))
	if closed == nil {
		t.Fatalf("expected kline close")
	}
	if closed.Open != 100 || closed.High != 102 || closed.Low != 99 || closed.Close != 101 || closed.Count != 4 {
		t.Fatalf("unexpected kline %+v", closed)
	}
	if !closed.Ts.Equal(ts) {
		t.Fatalf("unexpected kline start %v", closed.Ts)
	}
}

func TestKlineAggregatorPerSymbol(t *testing.T) {
	agg := NewKlineAggregator(time.Minute)
	ts := time.Unix(120, 0)
	agg.OnPrice("EURUSD", 1.1, ts)
	if closed := agg.OnPrice("USDJPY", 150, ts.Add(61*time.Second)); closed != nil {
		t.Fatalf("other symbol must not close EURUSD: %+v", closed)
	}
	rest := agg.Flush()
	if len(rest) != 2 {
		t.Fatalf("expected 2 open klines, got %d", len(rest))
	}
}

func TestKlineToBar(t *testing.T) {
	k := Kline{Symbol: "EURUSD", Open: 1, High: 2, Low: 0.5, Close: 1.5, Count: 7, Ts: time.Unix(600, 0)}
	b := k.ToBar("M1", 3)
	if b.Time != 600 || b.Close != 1.5 || b.TickVolume != 7 || b.SeqNum != 3 || b.Timeframe != "M1" {
		t.Fatalf("unexpected bar %+v", b)
	}
}
