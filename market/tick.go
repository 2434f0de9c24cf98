package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Topic 数据通道上的消息类别，是线路消息的第一个 token。
type Topic string

const (
	TopicTick Topic = "TICK"
	TopicBar  Topic = "BAR"
)

// ErrMalformed 消息格式错误（ParseError），调用方丢弃该消息并计数。
var ErrMalformed = errors.New("malformed message")

const wireSep = "|"

// Tick 单个报价更新。SeqNum 必须保持为最后一个字段，编码后位于 JSON 末尾。
type Tick struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume int64   `json:"volume"`
	Flags  int64   `json:"flags"`
	SeqNum int64   `json:"seq_num"`
}

// Message 线路消息 `<TOPIC>|<SYMBOL>|<JSON_PAYLOAD>` 的拆分结果。
type Message struct {
	Topic   Topic
	Symbol  string
	Payload []byte
}

// ParseMessage 按前两个分隔符拆分，payload 内部可以包含 '|'。
func ParseMessage(raw string) (Message, error) {
	parts := strings.SplitN(raw, wireSep, 3)
	if len(parts) != 3 {
		return Message{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformed, len(parts))
	}
	topic := strings.TrimSpace(parts[0])
	symbol := strings.TrimSpace(parts[1])
	payload := strings.TrimSpace(parts[2])
	if topic == "" || symbol == "" || payload == "" {
		return Message{}, fmt.Errorf("%w: empty topic/symbol/payload", ErrMalformed)
	}
	return Message{Topic: Topic(topic), Symbol: symbol, Payload: []byte(payload)}, nil
}

// tickPayload 区分缺失字段和零值。
type tickPayload struct {
	Symbol string   `json:"symbol"`
	Time   *float64 `json:"time"`
	Bid    *float64 `json:"bid"`
	Ask    float64  `json:"ask"`
	Last   float64  `json:"last"`
	Volume int64    `json:"volume"`
	Flags  int64    `json:"flags"`
	SeqNum int64    `json:"seq_num"`
}

// DecodeTick 解析 TICK 负载；symbol 以主题中的 symbol 为准。
func DecodeTick(msg Message) (Tick, error) {
	var p tickPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Bid == nil {
		return Tick{}, fmt.Errorf("%w: missing bid", ErrMalformed)
	}
	ts, err := payloadTime(p.Time)
	if err != nil {
		return Tick{}, err
	}
	if p.SeqNum < 0 {
		return Tick{}, fmt.Errorf("%w: negative seq_num", ErrMalformed)
	}
	return Tick{
		Symbol: msg.Symbol,
		Time:   ts,
		Bid:    *p.Bid,
		Ask:    p.Ask,
		Last:   p.Last,
		Volume: p.Volume,
		Flags:  p.Flags,
		SeqNum: p.SeqNum,
	}, nil
}

// payloadTime 校验 time 字段；发布端可能带小数秒，向下取整。
func payloadTime(v *float64) (int64, error) {
	if v == nil || !(*v > 0) || *v >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: missing or invalid time", ErrMalformed)
	}
	return int64(*v), nil
}

// EncodeTick 一次性构造完整记录（含 seq_num）后序列化。
func EncodeTick(t Tick) (string, error) {
	if t.Symbol == "" {
		return "", errors.New("tick symbol required")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal tick: %w", err)
	}
	return string(TopicTick) + wireSep + t.Symbol + wireSep + string(payload), nil
}

// MinuteStart 返回 ts 所在分钟的起始秒（负数同样向下取整）。
func MinuteStart(ts int64) int64 {
	m := ts / 60
	if ts%60 < 0 {
		m--
	}
	return m * 60
}
