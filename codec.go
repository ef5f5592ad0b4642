package docstore

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Document is an ordered BSON document. The _id field identifies it.
type Document = bson.D

// KeyPart is one (field, direction) pair of an index key pattern.
// Direction is usually int32 1 or -1, but may be a string such as "text".
type KeyPart struct {
	Field     string
	Direction any
}

// Index describes an index: its ordered key pattern plus every other
// descriptor field (name, unique, expireAfterSeconds, ...) in Options.
type Index struct {
	Key     []KeyPart
	Options bson.D
}

const (
	indexKeyField    = "key"
	expireAfterField = "expireAfterSeconds"
)

// Option returns the named descriptor field.
func (ix Index) Option(name string) (any, bool) {
	for _, e := range ix.Options {
		if e.Key == name {
			return e.Value, true
		}
	}
	return nil, false
}

// IsTTL reports whether the descriptor carries a non-null expireAfterSeconds.
func (ix Index) IsTTL() bool {
	v, ok := ix.Option(expireAfterField)
	return ok && v != nil
}

// ExpireAfterSeconds returns expireAfterSeconds as an integer. Fractions are
// truncated, numeric strings are parsed, and values beyond int64 saturate.
// ok is false if the option is missing or not a number.
func (ix Index) ExpireAfterSeconds() (secs int64, ok bool) {
	v, _ := ix.Option(expireAfterField)
	switch v := v.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return floatSeconds(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			return n, true
		}
		return n, err == nil
	default:
		return 0, false
	}
}

func floatSeconds(v float64) (int64, bool) {
	switch {
	case math.IsNaN(v):
		return 0, false
	case v >= math.MaxInt64:
		return math.MaxInt64, true
	case v <= math.MinInt64:
		return math.MinInt64, true
	default:
		return int64(v), true
	}
}

// Codec converts values to and from a backend's binary representation.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// DocumentCodec stores documents as BSON.
type DocumentCodec struct{}

func (DocumentCodec) Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding document: %w", ErrEncoding, err)
	}
	return data, nil
}

func (DocumentCodec) Decode(data []byte) (Document, error) {
	var doc Document
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode BSON document")
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// IndexCodec stores index descriptors as BSON documents whose key field is
// an array of [field, direction] arrays.
type IndexCodec struct{}

func (IndexCodec) Encode(ix Index) ([]byte, error) {
	key := make(bson.A, 0, len(ix.Key))
	for _, kp := range ix.Key {
		key = append(key, bson.A{kp.Field, kp.Direction})
	}
	doc := make(bson.D, 0, len(ix.Options)+1)
	doc = append(doc, bson.E{Key: indexKeyField, Value: key})
	for _, e := range ix.Options {
		if e.Key != indexKeyField {
			doc = append(doc, e)
		}
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding index: %w", ErrEncoding, err)
	}
	return data, nil
}

// Decode restores the key pattern as ordered pairs regardless of
// whether it was stored as an array of arrays or as an embedded document.
func (IndexCodec) Decode(data []byte) (Index, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return Index{}, dataErrf(data, 0, err, "failed to decode BSON index")
	}
	var ix Index
	var found bool
	for _, e := range doc {
		if e.Key != indexKeyField {
			ix.Options = append(ix.Options, e)
			continue
		}
		key, err := normalizeIndexKey(e.Value)
		if err != nil {
			return Index{}, dataErrf(data, 0, err, "invalid index key")
		}
		ix.Key, found = key, true
	}
	if !found {
		return Index{}, dataErrf(data, 0, nil, "index has no key")
	}
	return ix, nil
}

func normalizeIndexKey(v any) ([]KeyPart, error) {
	switch v := v.(type) {
	case bson.A:
		parts := make([]KeyPart, 0, len(v))
		for i, item := range v {
			pair, ok := item.(bson.A)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("key[%d] is %T of wrong arity, wanted a [field, direction] pair", i, item)
			}
			field, ok := pair[0].(string)
			if !ok {
				return nil, fmt.Errorf("key[%d] field is %T, wanted string", i, pair[0])
			}
			parts = append(parts, KeyPart{Field: field, Direction: pair[1]})
		}
		return parts, nil
	case bson.D:
		parts := make([]KeyPart, 0, len(v))
		for _, e := range v {
			parts = append(parts, KeyPart{Field: e.Key, Direction: e.Value})
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("key is %T, wanted array or document", v)
	}
}
