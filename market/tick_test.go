package market

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		topic   Topic
		symbol  string
	}{
		{name: "正常TICK", raw: `TICK|EURUSD|{"bid":1.1}`, topic: TopicTick, symbol: "EURUSD"},
		{name: "payload含分隔符", raw: `BAR|USDJPY|{"x":"a|b"}`, topic: TopicBar, symbol: "USDJPY"},
		{name: "缺少payload", raw: `TICK|EURUSD`, wantErr: true},
		{name: "空symbol", raw: `TICK||{}`, wantErr: true},
		{name: "空payload", raw: `TICK|EURUSD|  `, wantErr: true},
		{name: "空字符串", raw: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topic, msg.Topic)
			assert.Equal(t, tt.symbol, msg.Symbol)
		})
	}
}

func TestDecodeTick(t *testing.T) {
	msg := Message{Topic: TopicTick, Symbol: "EURUSD", Payload: []byte(`{"symbol":"GBPUSD","time":1700000000.7,"bid":1.1,"ask":1.1002,"seq_num":5}`)}
	tick, err := DecodeTick(msg)
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", tick.Symbol, "topic symbol wins")
	assert.Equal(t, int64(1700000000), tick.Time)
	assert.Equal(t, 1.1, tick.Bid)
	assert.Equal(t, int64(5), tick.SeqNum)

	bad := []string{
		`not json`,
		`{"time":1700000000}`,
		`{"bid":1.1}`,
		`{"bid":1.1,"time":0}`,
		`{"bid":1.1,"time":1,"seq_num":-1}`,
		`{"bid":1.1,"time":-5}`,
		`{"bid":1.1,"time":1e300}`,
		`{"bid":1.1,"time":9223372036854775807}`,
	}
	for _, p := range bad {
		_, err := DecodeTick(Message{Topic: TopicTick, Symbol: "EURUSD", Payload: []byte(p)})
		assert.ErrorIs(t, err, ErrMalformed, p)
	}
}

func TestEncodeTickSeqLast(t *testing.T) {
	line, err := EncodeTick(Tick{Symbol: "EURUSD", Time: 1700000000, Bid: 1.1, Ask: 1.1001, SeqNum: 42})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "TICK|EURUSD|{"))
	assert.True(t, strings.HasSuffix(line, `"seq_num":42}`))

	msg, err := ParseMessage(line)
	require.NoError(t, err)
	tick, err := DecodeTick(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(42), tick.SeqNum)

	_, err = EncodeTick(Tick{})
	assert.Error(t, err)
}

func TestBarCodec(t *testing.T) {
	line, err := EncodeBar(Bar{Symbol: "USDJPY", Time: 1700000040, Timeframe: "M1", Open: 150, High: 150.2, Low: 149.9, Close: 150.1, TickVolume: 12, SeqNum: 3})
	require.NoError(t, err)
	msg, err := ParseMessage(line)
	require.NoError(t, err)
	assert.Equal(t, TopicBar, msg.Topic)
	bar, err := DecodeBar(msg)
	require.NoError(t, err)
	assert.Equal(t, 150.1, bar.Close)
	assert.Equal(t, int64(3), bar.SeqNum)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &raw))
	delete(raw, "close")
	payload, _ := json.Marshal(raw)
	_, err = DecodeBar(Message{Topic: TopicBar, Symbol: "USDJPY", Payload: payload})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMinuteStart(t *testing.T) {
	assert.Equal(t, int64(1699999980), MinuteStart(1700000000))
	assert.Equal(t, int64(1699999980), MinuteStart(1699999980))
	assert.Equal(t, int64(-60), MinuteStart(-1))
	assert.Equal(t, int64(0), MinuteStart(59))
}
