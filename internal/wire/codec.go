package wire

import (
	"bytes"

	"github.com/juju/errors"
)

// NullColumn is the single-byte sentinel encoding a NULL value inside a
// length-encoded row column.
const NullColumn = 0xFB

// WriteU8 appends a 1-byte integer.
func WriteU8(buf []byte, v byte) []byte { return append(buf, v) }

// WriteU16 appends a 2-byte little-endian integer.
func WriteU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// WriteU24 appends a 3-byte little-endian integer.
func WriteU24(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16))
}

// WriteU32 appends a 4-byte little-endian integer.
func WriteU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// WriteU64 appends an 8-byte little-endian integer.
func WriteU64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

// ReadU8 reads a 1-byte integer starting at pos and returns the new
// position.
func ReadU8(buf []byte, pos int) (int, byte) { return pos + 1, buf[pos] }

// ReadU16 reads a 2-byte little-endian integer.
func ReadU16(buf []byte, pos int) (int, uint16) {
	return pos + 2, uint16(buf[pos]) | uint16(buf[pos+1])<<8
}

// ReadU24 reads a 3-byte little-endian integer.
func ReadU24(buf []byte, pos int) (int, uint32) {
	return pos + 3, uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16
}

// ReadU32 reads a 4-byte little-endian integer.
func ReadU32(buf []byte, pos int) (int, uint32) {
	return pos + 4, uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16 | uint32(buf[pos+3])<<24
}

// ReadU64 reads an 8-byte little-endian integer.
func ReadU64(buf []byte, pos int) (int, uint64) {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[pos+i]) << (8 * uint(i))
	}
	return pos + 8, v
}

// WriteLenEncInt appends v as a MySQL length-encoded integer: values below
// 0xFB are stored directly, 0xFC/0xFD/0xFE select a 2/3/8-byte follow-on.
func WriteLenEncInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xFB:
		return append(buf, byte(v))
	case v <= 0xFFFF:
		buf = append(buf, 0xFC)
		return WriteU16(buf, uint16(v))
	case v <= 0xFFFFFF:
		buf = append(buf, 0xFD)
		return WriteU24(buf, uint32(v))
	default:
		buf = append(buf, 0xFE)
		return WriteU64(buf, v)
	}
}

// ReadLenEncInt reads a length-encoded integer at pos, returning the value,
// whether it denoted NULL (the bare 0xFB sentinel), and the new position.
func ReadLenEncInt(buf []byte, pos int) (newPos int, value uint64, isNull bool) {
	if pos >= len(buf) {
		return pos, 0, false
	}
	first := buf[pos]
	switch {
	case first < 0xFB:
		return pos + 1, uint64(first), false
	case first == NullColumn:
		return pos + 1, 0, true
	case first == 0xFC:
		p, v := ReadU16(buf, pos+1)
		return p, uint64(v), false
	case first == 0xFD:
		p, v := ReadU24(buf, pos+1)
		return p, uint64(v), false
	default: // 0xFE
		p, v := ReadU64(buf, pos+1)
		return p, v, false
	}
}

// WriteLenEncString appends s as a length-encoded integer length prefix
// followed by its bytes.
func WriteLenEncString(buf []byte, s string) []byte {
	buf = WriteLenEncInt(buf, uint64(len(s)))
	return append(buf, s...)
}

// ReadLenEncString reads a length-encoded string at pos. If the length
// prefix is the NULL sentinel, ok is false and s is empty.
func ReadLenEncString(buf []byte, pos int) (newPos int, s string, ok bool) {
	p, n, isNull := ReadLenEncInt(buf, pos)
	if isNull {
		return p, "", false
	}
	end := p + int(n)
	if end > len(buf) {
		return len(buf), "", false
	}
	return end, string(buf[p:end]), true
}

// ReadFixedBytesChecked reads exactly n bytes starting at pos, failing with
// ErrMalformedPacket if that would run past the end of buf.
func ReadFixedBytesChecked(buf []byte, pos, n int) (newPos int, b []byte, err error) {
	end := pos + n
	if end > len(buf) {
		return pos, nil, errors.Trace(ErrMalformedPacket)
	}
	return end, buf[pos:end], nil
}

// WriteNulString appends s followed by a trailing NUL byte.
func WriteNulString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// ReadNulString reads bytes starting at pos up to (not including) the next
// NUL byte, returning the position just past the NUL.
func ReadNulString(buf []byte, pos int) (newPos int, s string) {
	idx := bytes.IndexByte(buf[pos:], 0)
	if idx < 0 {
		return len(buf), string(buf[pos:])
	}
	return pos + idx + 1, string(buf[pos : pos+idx])
}

// WriteFixedString appends s padded or truncated to exactly n bytes.
func WriteFixedString(buf []byte, s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return append(buf, b...)
}

// ReadFixedString reads exactly n bytes starting at pos.
func ReadFixedString(buf []byte, pos, n int) (newPos int, s string) {
	end := pos + n
	if end > len(buf) {
		end = len(buf)
	}
	return end, string(buf[pos:end])
}

// WriteFiller appends n zero bytes.
func WriteFiller(buf []byte, n int) []byte {
	return append(buf, make([]byte, n)...)
}
