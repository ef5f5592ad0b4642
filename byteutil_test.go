package docstore

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	_, _ = bb.Write([]byte{1, 2})
	_ = bb.WriteByte(3)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3}) {
		t.Fatalf("bb.Buf = %x, wanted 010203", bb.Buf)
	}
}

func TestByteUtil_AppendHelpers(t *testing.T) {
	src := []byte{0xAA, 0xBB, 0xCC}
	buf := appendRaw(nil, src)
	if !reflect.DeepEqual(buf, src) {
		t.Fatalf("appendRaw = %x, wanted %x", buf, src)
	}

	got := appendVarbytes(nil, []byte("hi"))
	var d = makeByteDecoder(got)
	n, err := d.Uvarinti()
	if err != nil || n != 2 {
		t.Fatalf("Uvarinti = (%d, %v), wanted (2, nil)", n, err)
	}
	v, err := d.Raw(n)
	if err != nil || string(v) != "hi" || len(d.Buf) != 0 {
		t.Fatalf("Raw = (%q, %v), remaining=%d, wanted (\"hi\", nil), remaining=0", v, err, len(d.Buf))
	}

	buf = appendFixedUint32([]byte{'c'}, 0x01020304)
	if !reflect.DeepEqual(buf, []byte{'c', 1, 2, 3, 4}) {
		t.Fatalf("appendFixedUint32 = %x, wanted 6301020304", buf)
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	t.Run("invalid uvarint", func(t *testing.T) {
		d := makeByteDecoder([]byte{0x80}) // continuation bit with no terminator
		_, err := d.Uvarint()
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("Uvarint err = %T %v, wanted *DataError", err, err)
		}
		if de.Off != 0 {
			t.Fatalf("DataError.Off = %d, wanted 0", de.Off)
		}
		if !errors.Is(err, ErrEncoding) {
			t.Fatalf("errors.Is(err, ErrEncoding) = false, wanted true")
		}
	})

	t.Run("uvarint overflows int", func(t *testing.T) {
		var b [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(b[:], uint64(math.MaxInt)+1)
		d := makeByteDecoder(b[:n])
		_, err := d.Uvarinti()
		if err == nil {
			t.Fatalf("Uvarinti err = nil, wanted error")
		}
	})

	t.Run("Raw not enough data", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2})
		_, err := d.Raw(3)
		if err == nil {
			t.Fatalf("Raw err = nil, wanted error")
		}
	})
}

func TestRecord_RoundTrip(t *testing.T) {
	raw := appendRecord(nil, []byte("payload"))
	data, err := decodeRecord(raw)
	if err != nil || string(data) != "payload" {
		t.Fatalf("decodeRecord = (%q, %v), wanted (\"payload\", nil)", data, err)
	}

	_, err = decodeRecord(raw[:len(raw)-1])
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("decodeRecord(truncated) err = %v, wanted ErrEncoding", err)
	}

	bad := appendRecord(nil, []byte("x"))
	bad[0] = 0x7f
	if _, err := decodeRecord(bad); err == nil {
		t.Fatalf("decodeRecord(bad flags) err = nil, wanted error")
	}
}
