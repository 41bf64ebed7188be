// Package wire implements the canonical binary layout used for ledger
// payloads and state-channel signature digests: little-endian u64 scalars
// and u64 length-prefixed byte strings. The layout is byte-stable, which
// the signing protocol and the external ledger both depend on.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTruncated is returned when a decode runs past the end of the input.
var ErrTruncated = errors.New("wire: truncated input")

// AppendUint64 appends v as 8 little-endian bytes.
func AppendUint64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

// AppendFloat64 appends the IEEE-754 bits of v, little-endian.
func AppendFloat64(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

// AppendBytes appends a u64 length prefix followed by the raw bytes.
func AppendBytes(b, v []byte) []byte {
	b = AppendUint64(b, uint64(len(v)))
	return append(b, v...)
}

// AppendString appends s with a u64 length prefix.
func AppendString(b []byte, s string) []byte {
	return AppendBytes(b, []byte(s))
}

// Reader decodes values sequentially from a byte slice.
type Reader struct {
	buf []byte
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf)
}

// Rest consumes and returns all unread bytes.
func (r *Reader) Rest() []byte {
	out := r.buf
	r.buf = nil
	return out
}

// Uint64 reads an 8-byte little-endian scalar.
func (r *Reader) Uint64() (uint64, error) {
	if len(r.buf) < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v, nil
}

// Float64 reads an IEEE-754 little-endian float.
func (r *Reader) Float64() (float64, error) {
	v, err := r.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// Bytes reads a u64 length prefix and the bytes it announces. The
// returned slice aliases the input.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, ErrTruncated
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v, nil
}

// String reads a u64 length-prefixed string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
