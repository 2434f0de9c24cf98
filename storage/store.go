// Package storage 持久化每分钟跳空计数与序号缺口。
package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotConfigured 未知或缺少配置的存储驱动。
var ErrNotConfigured = errors.New("storage not configured")

// MinuteLayout 行上的可读分钟标签格式（UTC）。
const MinuteLayout = "2006-01-02 15:04:00"

// GapStore 以 (timestamp, symbol) 为唯一键的累加式存储。
type GapStore interface {
	// Upsert 行不存在则以增量创建，存在则累加；单次调用原子。
	Upsert(ctx context.Context, ts int64, symbol string, large, small int64) error
	RecordSequenceGap(ctx context.Context, gap SequenceGap) error
	Rows(ctx context.Context, q Query) ([]GapRow, error)
	Close() error
}

// GapRow 持久化的一行。
type GapRow struct {
	Timestamp     int64  `json:"timestamp" bson:"timestamp"`
	Symbol        string `json:"symbol" bson:"symbol"`
	Minute        string `json:"minute" bson:"minute"`
	LargeGapCount int64  `json:"large_gap_count" bson:"large_gap_count"`
	SmallGapCount int64  `json:"small_gap_count" bson:"small_gap_count"`
}

// Query 闭区间查询，To 为 0 表示不设上限，Symbol 为空表示全部。
type Query struct {
	Symbol string
	From   int64
	To     int64
}

// SequenceGap 一次传输层丢包记录。
type SequenceGap struct {
	Timestamp   int64  `json:"timestamp" bson:"timestamp"`
	Symbol      string `json:"symbol" bson:"symbol"`
	GapSize     int64  `json:"gap_size" bson:"gap_size"`
	ExpectedSeq int64  `json:"expected_seq" bson:"expected_seq"`
	ReceivedSeq int64  `json:"received_seq" bson:"received_seq"`
	RunID       string `json:"run_id" bson:"run_id"`
}

// MinuteLabel 分钟起始秒对应的标签。
func MinuteLabel(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(MinuteLayout)
}

func sortRows(rows []GapRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Timestamp != rows[j].Timestamp {
			return rows[i].Timestamp < rows[j].Timestamp
		}
		return rows[i].Symbol < rows[j].Symbol
	})
}

// Options 驱动选择与连接参数。
type Options struct {
	Driver string // redis | mongo

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string // redis key 前缀 / mongo 集合名
	StreamMaxLen  int64
	MongoURL      string
	MongoDatabase string
	DialTimeout   time.Duration
}

// Open 按驱动创建存储并验证连通性，失败对调用方是致命错误。
func Open(ctx context.Context, opts Options) (GapStore, error) {
	switch opts.Driver {
	case "", "redis":
		return OpenRedis(ctx, opts)
	case "mongo":
		return OpenMongo(opts)
	default:
		return nil, ErrNotConfigured
	}
}
