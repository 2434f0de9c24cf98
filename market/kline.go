package market

import "time"

// Kline represents OHLC data.
type Kline struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Count  int64
	Ts     time.Time // 周期起点
}

// ToBar 转成线路上的 Bar，seq 由发布方分配。
func (k Kline) ToBar(timeframe string, seq int64) Bar {
	return Bar{
		Symbol:     k.Symbol,
		Time:       k.Ts.Unix(),
		Timeframe:  timeframe,
		Open:       k.Open,
		High:       k.High,
		Low:        k.Low,
		Close:      k.Close,
		TickVolume: k.Count,
		SeqNum:     seq,
	}
}
