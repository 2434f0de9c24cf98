package storage

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

var _ GapStore = (*MongoStore)(nil)

// MongoStore 每行一个文档，(timestamp, symbol) 唯一索引，
// 序号缺口写入 <collection>_sequence_gaps。
type MongoStore struct {
	session    *mgo.Session
	database   string
	collection string
}

// OpenMongo 连接并建立唯一索引。
func OpenMongo(opts Options) (*MongoStore, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	session, err := mgo.DialWithTimeout(opts.MongoURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("mongo dial: %w", err)
	}
	session.SetMode(mgo.Strong, true)

	coll := opts.Namespace
	if coll == "" {
		coll = defaultNamespace
	}
	db := opts.MongoDatabase
	if db == "" {
		db = "tickgap"
	}
	m := &MongoStore{session: session, database: db, collection: coll}

	index := mgo.Index{
		Key:        []string{"timestamp", "symbol"},
		Unique:     true,
		Background: true,
	}
	if err := session.DB(db).C(coll).EnsureIndex(index); err != nil {
		session.Close()
		return nil, fmt.Errorf("mongo ensure index: %w", err)
	}
	return m, nil
}

func (m *MongoStore) Upsert(ctx context.Context, ts int64, symbol string, large, small int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.session.Copy()
	defer s.Close()

	_, err := s.DB(m.database).C(m.collection).Upsert(
		bson.M{"timestamp": ts, "symbol": symbol},
		upsertDoc(ts, large, small),
	)
	if err != nil {
		return fmt.Errorf("mongo upsert %s@%d: %w", symbol, ts, err)
	}
	return nil
}

func (m *MongoStore) RecordSequenceGap(ctx context.Context, gap SequenceGap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := m.session.Copy()
	defer s.Close()
	if err := s.DB(m.database).C(m.collection + "_sequence_gaps").Insert(gap); err != nil {
		return fmt.Errorf("mongo insert sequence gap: %w", err)
	}
	return nil
}

func (m *MongoStore) Rows(ctx context.Context, q Query) ([]GapRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.session.Copy()
	defer s.Close()

	var rows []GapRow
	err := s.DB(m.database).C(m.collection).Find(rowsSelector(q)).
		Select(bson.M{"_id": 0}).
		Sort("timestamp", "symbol").
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	return rows, nil
}

func (m *MongoStore) Close() error {
	m.session.Close()
	return nil
}

// upsertDoc $inc 保证并发写入时计数累加。
func upsertDoc(ts, large, small int64) bson.M {
	return bson.M{
		"$inc": bson.M{fieldLarge: large, fieldSmall: small},
		"$set": bson.M{fieldMinute: MinuteLabel(ts)},
	}
}

func rowsSelector(q Query) bson.M {
	sel := bson.M{}
	if q.Symbol != "" {
		sel["symbol"] = q.Symbol
	}
	rng := bson.M{"$gte": q.From}
	if q.To != 0 {
		rng["$lte"] = q.To
	}
	sel["timestamp"] = rng
	return sel
}
