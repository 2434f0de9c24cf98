package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/mgo.v2/bson"
)

func TestUpsertDoc(t *testing.T) {
	doc := upsertDoc(1700000040, 2, 3)
	assert.Equal(t, bson.M{fieldLarge: int64(2), fieldSmall: int64(3)}, doc["$inc"])
	assert.Equal(t, bson.M{fieldMinute: "2023-11-14 22:14:00"}, doc["$set"])
}

func TestRowsSelector(t *testing.T) {
	sel := rowsSelector(Query{Symbol: "EURUSD", From: 60, To: 120})
	assert.Equal(t, "EURUSD", sel["symbol"])
	assert.Equal(t, bson.M{"$gte": int64(60), "$lte": int64(120)}, sel["timestamp"])

	sel = rowsSelector(Query{})
	_, hasSymbol := sel["symbol"]
	assert.False(t, hasSymbol)
	assert.Equal(t, bson.M{"$gte": int64(0)}, sel["timestamp"])
}
