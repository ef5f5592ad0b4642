package docstore

import (
	"encoding/binary"
)

// A group record is one document stored as a single Bolt value:
//
//  1. Flags (uvarint): format version bits.
//  2. Data size (uvarint).
//  3. Data: the codec's bytes.
//
// It plays the role of a variable-length uint8 dataset: the header makes the
// payload length explicit so a truncated value is detected on read.

type recordFlags uint64

const (
	rfVerBit0 = recordFlags(1 << iota)
	rfVerBit1
	rfVerBit2
	rfVerBit3

	rfVerMask       = (rfVerBit0 | rfVerBit1 | rfVerBit2 | rfVerBit3)
	rfVer1          = rfVerBit0
	rfSupportedMask = rfVer1
	rfDefault       = rfVer1

	minRecordSize       = 2
	maxRecordHeaderSize = binary.MaxVarintLen64 * 2
)

func (rf recordFlags) ver() recordFlags {
	return rf & rfVerMask
}

func appendRecord(buf []byte, data []byte) []byte {
	buf = appendUvarint(buf, uint64(rfDefault))
	return appendVarbytes(buf, data)
}

func decodeRecord(raw []byte) ([]byte, error) {
	if len(raw) < minRecordSize {
		return nil, dataErrf(raw, 0, nil, "invalid record: at least %d bytes required", minRecordSize)
	}
	d := makeByteDecoder(raw)
	v, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	flags := recordFlags(v)
	if (flags&^rfSupportedMask) != 0 || flags.ver() != rfVer1 {
		return nil, dataErrf(raw, 0, nil, "invalid record: unsupported flags %x", v)
	}
	size, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	if size != len(d.Buf) {
		return nil, dataErrf(raw, d.Off(), nil, "invalid record: got %d bytes of data, expected %d bytes", len(d.Buf), size)
	}
	return d.Raw(size)
}
