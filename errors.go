package docstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get and Delete on an absent key, and by
	// DropIndex on an absent index name.
	ErrNotFound = errors.New("not found")

	// ErrKeyConflict is returned when the medium rejects a write because of a
	// uniqueness constraint.
	ErrKeyConflict = errors.New("key conflict")

	// ErrPathConflict is returned when a location that must be a container
	// (directory or group) already exists as something else.
	ErrPathConflict = errors.New("path conflict")

	// ErrBackendIO wraps open/read/write/close failures of the physical medium.
	ErrBackendIO = errors.New("backend I/O failure")

	// ErrEncoding is returned when a value cannot be round-tripped through a Codec.
	ErrEncoding = errors.New("encoding error")

	// ErrInvalidName is returned for database and collection names that no
	// backend can represent, and for the reserved key "\xff\xfe".
	ErrInvalidName = errors.New("invalid name")

	// ErrClosed is returned when a store is used after Close.
	ErrClosed = errors.New("store closed")
)

// DataError describes a value that failed to decode.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEncoding}
	}
	return []error{ErrEncoding, e.Err}
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// StoreError records the operation, location and key that failed.
type StoreError struct {
	Op   string
	Path string
	Key  string
	Err  error
}

func storeErr(op, path, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Path: path, Key: key, Err: err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	if e.Path != "" {
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
	}
	if e.Key != "" {
		buf.WriteByte('/')
		buf.WriteString(fmt.Sprintf("%q", e.Key))
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// ioErr marks err as a physical-medium failure unless it already carries
// one of the distinguishable kinds.
func ioErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrKeyConflict),
		errors.Is(err, ErrPathConflict), errors.Is(err, ErrEncoding),
		errors.Is(err, ErrInvalidName), errors.Is(err, ErrClosed),
		errors.Is(err, ErrBackendIO):
		return err
	case errors.Is(err, errIncompatibleValue):
		return fmt.Errorf("%w: %w", ErrPathConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrBackendIO, err)
	}
}
