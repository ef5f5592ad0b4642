package docstore

import (
	"errors"
	"math"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestIndexCodec_KeyAsPairs(t *testing.T) {
	ix := Index{
		Key:     []KeyPart{{"x", int32(1)}, {"y", int32(-1)}},
		Options: bson.D{{Key: "name", Value: "x_1_y_-1"}, {Key: "unique", Value: true}},
	}
	data := must(IndexCodec{}.Encode(ix))

	var raw bson.D
	ensure(bson.Unmarshal(data, &raw))
	deepEqual(t, raw[0], bson.E{Key: "key", Value: bson.A{bson.A{"x", int32(1)}, bson.A{"y", int32(-1)}}})

	deepEqual(t, must(IndexCodec{}.Decode(data)), ix)
}

func TestIndexCodec_KeyAsDocument(t *testing.T) {
	data := must(bson.Marshal(bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: "text"}}},
	}))
	deepEqual(t, must(IndexCodec{}.Decode(data)), Index{
		Key:     []KeyPart{{"a", int32(1)}, {"b", "text"}},
		Options: bson.D{{Key: "v", Value: int32(2)}},
	})
}

func TestIndexCodec_InvalidKey(t *testing.T) {
	for name, key := range map[string]any{
		"short pair":     bson.A{bson.A{"a"}},
		"long pair":      bson.A{bson.A{"a", int32(1), int32(2)}},
		"non-pair":       bson.A{"a"},
		"non-string":     bson.A{bson.A{int32(1), int32(1)}},
		"scalar":         "a",
		"missing is bad": nil,
	} {
		t.Run(name, func(t *testing.T) {
			d := bson.D{{Key: "name", Value: "ix"}}
			if key != nil {
				d = append(d, bson.E{Key: "key", Value: key})
			}
			_, err := IndexCodec{}.Decode(must(bson.Marshal(d)))
			isErr(t, err, ErrEncoding)
			var de *DataError
			if !errors.As(err, &de) {
				t.Errorf("** got %T, wanted *DataError", err)
			}
		})
	}
}

func TestIndex_ExpireAfterSeconds(t *testing.T) {
	tests := []struct {
		value any
		secs  int64
		ok    bool
		ttl   bool
	}{
		{int32(60), 60, true, true},
		{int64(3600), 3600, true, true},
		{float64(1.5), 1, true, true},
		{math.NaN(), 0, false, true},
		{1e30, math.MaxInt64, true, true},
		{math.Inf(-1), math.MinInt64, true, true},
		{"60", 60, true, true},
		{" 3600 ", 3600, true, true},
		{"99999999999999999999", math.MaxInt64, true, true},
		{"1.5", 0, false, true},
		{"soon", 0, false, true},
		{true, 0, false, true},
		{nil, 0, false, false},
	}
	for _, tt := range tests {
		ix := Index{Options: bson.D{{Key: "expireAfterSeconds", Value: tt.value}}}
		secs, ok := ix.ExpireAfterSeconds()
		if secs != tt.secs || ok != tt.ok || ix.IsTTL() != tt.ttl {
			t.Errorf("** %v: got (%d, %v, ttl=%v), wanted (%d, %v, ttl=%v)", tt.value, secs, ok, ix.IsTTL(), tt.secs, tt.ok, tt.ttl)
		}
	}
	if (Index{}).IsTTL() {
		t.Errorf("** IsTTL() of an index without options = true")
	}
}

func TestDocumentCodec(t *testing.T) {
	d := Document{{Key: "_id", Value: "x"}, {Key: "b", Value: int32(2)}, {Key: "a", Value: int32(1)}}
	deepEqual(t, must(DocumentCodec{}.Decode(must(DocumentCodec{}.Encode(d)))), d)
	deepEqual(t, must(DocumentCodec{}.Decode(must(DocumentCodec{}.Encode(nil)))), Document{})

	_, err := DocumentCodec{}.Decode([]byte{1, 2, 3})
	isErr(t, err, ErrEncoding)
}
