package docstore

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeMsgpack(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode %T using MsgPack: %w", ErrEncoding, v, err)
	}
	return bb.Buf, nil
}

func decodeMsgpack(buf []byte, v any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}
