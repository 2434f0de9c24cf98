package market

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Bar 已收盘的周期 K 线，与 Tick 共用序号/分类骨架（按收盘价分类）。
type Bar struct {
	Symbol     string  `json:"symbol"`
	Time       int64   `json:"time"`
	Timeframe  string  `json:"timeframe"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
	SeqNum     int64   `json:"seq_num"`
}

type barPayload struct {
	Time       *float64 `json:"time"`
	Timeframe  string   `json:"timeframe"`
	Open       float64  `json:"open"`
	High       float64  `json:"high"`
	Low        float64  `json:"low"`
	Close      *float64 `json:"close"`
	TickVolume int64    `json:"tick_volume"`
	SeqNum     int64    `json:"seq_num"`
}

// DecodeBar 解析 BAR 负载。
func DecodeBar(msg Message) (Bar, error) {
	var p barPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return Bar{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Close == nil {
		return Bar{}, fmt.Errorf("%w: missing close", ErrMalformed)
	}
	ts, err := payloadTime(p.Time)
	if err != nil {
		return Bar{}, err
	}
	if p.SeqNum < 0 {
		return Bar{}, fmt.Errorf("%w: negative seq_num", ErrMalformed)
	}
	return Bar{
		Symbol:     msg.Symbol,
		Time:       ts,
		Timeframe:  p.Timeframe,
		Open:       p.Open,
		High:       p.High,
		Low:        p.Low,
		Close:      *p.Close,
		TickVolume: p.TickVolume,
		SeqNum:     p.SeqNum,
	}, nil
}

// EncodeBar 序列化为 BAR 线路消息。
func EncodeBar(b Bar) (string, error) {
	if b.Symbol == "" {
		return "", errors.New("bar symbol required")
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal bar: %w", err)
	}
	return string(TopicBar) + wireSep + b.Symbol + wireSep + string(payload), nil
}
