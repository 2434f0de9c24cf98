package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	fieldMinute = "minute"
	fieldLarge  = "large_gap_count"
	fieldSmall  = "small_gap_count"

	defaultNamespace    = "tick_gaps"
	defaultStreamMaxLen = 100000
)

// Compile-time check to ensure RedisStore implements GapStore
var _ GapStore = (*RedisStore)(nil)

// RedisStore 每行一个 hash：<ns>:<symbol>:<ts>，
// 索引 zset <ns>:idx:<symbol>，品种集合 <ns>:symbols，缺口流 <ns>:sequence_gaps。
type RedisStore struct {
	client       *redis.Client
	ns           string
	streamMaxLen int64
	ownsClient   bool
}

func NewRedisStore(client *redis.Client, namespace string, streamMaxLen int64) *RedisStore {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if streamMaxLen <= 0 {
		streamMaxLen = defaultStreamMaxLen
	}
	return &RedisStore{client: client, ns: namespace, streamMaxLen: streamMaxLen}
}

// OpenRedis 建立连接并 PING。
func OpenRedis(ctx context.Context, opts Options) (*RedisStore, error) {
	ropts := &redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	}
	if opts.DialTimeout > 0 {
		ropts.DialTimeout = opts.DialTimeout
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
	}
	s := NewRedisStore(client, opts.Namespace, opts.StreamMaxLen)
	s.ownsClient = true
	return s, nil
}

func (r *RedisStore) rowKey(symbol string, ts int64) string {
	return r.ns + ":" + symbol + ":" + strconv.FormatInt(ts, 10)
}

func (r *RedisStore) indexKey(symbol string) string { return r.ns + ":idx:" + symbol }
func (r *RedisStore) symbolsKey() string             { return r.ns + ":symbols" }
func (r *RedisStore) streamKey() string              { return r.ns + ":sequence_gaps" }

// Upsert 在 MULTI/EXEC 中累加计数，不做读后写。
func (r *RedisStore) Upsert(ctx context.Context, ts int64, symbol string, large, small int64) error {
	key := r.rowKey(symbol, ts)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldLarge, large)
		pipe.HIncrBy(ctx, key, fieldSmall, small)
		pipe.HSet(ctx, key, fieldMinute, MinuteLabel(ts))
		pipe.ZAdd(ctx, r.indexKey(symbol), redis.Z{Score: float64(ts), Member: strconv.FormatInt(ts, 10)})
		pipe.SAdd(ctx, r.symbolsKey(), symbol)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert %s@%d: %w", symbol, ts, err)
	}
	return nil
}

func (r *RedisStore) RecordSequenceGap(ctx context.Context, gap SequenceGap) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey(),
		MaxLen: r.streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"timestamp":    gap.Timestamp,
			"symbol":       gap.Symbol,
			"gap_size":     gap.GapSize,
			"expected_seq": gap.ExpectedSeq,
			"received_seq": gap.ReceivedSeq,
			"run_id":       gap.RunID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

// SequenceGaps 读取最近 limit 条缺口记录（旧到新）。
func (r *RedisStore) SequenceGaps(ctx context.Context, limit int64) ([]SequenceGap, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.streamKey(), "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SequenceGap, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		v := msgs[i].Values
		out = append(out, SequenceGap{
			Timestamp:   toInt(v["timestamp"]),
			Symbol:      toString(v["symbol"]),
			GapSize:     toInt(v["gap_size"]),
			ExpectedSeq: toInt(v["expected_seq"]),
			ReceivedSeq: toInt(v["received_seq"]),
			RunID:       toString(v["run_id"]),
		})
	}
	return out, nil
}

func (r *RedisStore) Rows(ctx context.Context, q Query) ([]GapRow, error) {
	var symbols []string
	if q.Symbol != "" {
		symbols = []string{q.Symbol}
	} else {
		all, err := r.client.SMembers(ctx, r.symbolsKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis smembers: %w", err)
		}
		sort.Strings(all)
		symbols = all
	}

	upper := "+inf"
	if q.To != 0 {
		upper = strconv.FormatInt(q.To, 10)
	}
	var rows []GapRow
	for _, sym := range symbols {
		members, err := r.client.ZRangeByScore(ctx, r.indexKey(sym), &redis.ZRangeBy{
			Min: strconv.FormatInt(q.From, 10),
			Max: upper,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis zrange %s: %w", sym, err)
		}
		if len(members) == 0 {
			continue
		}
		pipe := r.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(members))
		for i, m := range members {
			ts, _ := strconv.ParseInt(m, 10, 64)
			cmds[i] = pipe.HGetAll(ctx, r.rowKey(sym, ts))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis hgetall %s: %w", sym, err)
		}
		for i, cmd := range cmds {
			ts, _ := strconv.ParseInt(members[i], 10, 64)
			h := cmd.Val()
			rows = append(rows, GapRow{
				Timestamp:     ts,
				Symbol:        sym,
				Minute:        h[fieldMinute],
				LargeGapCount: toInt(h[fieldLarge]),
				SmallGapCount: toInt(h[fieldSmall]),
			})
		}
	}
	sortRows(rows)
	return rows, nil
}

func (r *RedisStore) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}

func toInt(v interface{}) int64 {
	switch x := v.(type) {
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	case int64:
		return x
	case int:
		return int64(x)
	}
	return 0
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
