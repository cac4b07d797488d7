// Package wire implements the MySQL client/server packet framing and the
// wire-level primitive codec (length-encoded integers/strings, fixed-width
// integers, null-terminated strings) described by the MySQL protocol.
package wire

import (
	"io"
	"net"

	"github.com/juju/errors"
)

// maxPayload is the largest payload a single physical packet can carry
// before the framer must split it into a continuation packet.
const maxPayload = 0xFFFFFF

// Framer reads and writes the 4-byte MySQL packet header (3-byte
// little-endian length, 1-byte sequence number) and tracks the sequence
// counter for one connection. It is not safe for concurrent use; each
// connection owns exactly one Framer (spec: connections are shared-nothing).
type Framer struct {
	conn    net.Conn
	nextSeq byte
}

// NewFramer wraps conn for packet-level reads and writes.
func NewFramer(conn net.Conn) *Framer {
	return &Framer{conn: conn}
}

// ResetSequence sets the expected next sequence number back to zero. Called
// at the start of every client-initiated command cycle.
func (f *Framer) ResetSequence() {
	f.nextSeq = 0
}

// ReadPacket reads one logical packet, transparently reassembling any
// 0xFFFFFF-sized continuation packets into a single payload. It validates
// that the sequence number on each physical packet matches the expected
// next value and advances that expectation.
func (f *Framer) ReadPacket() ([]byte, error) {
	var payload []byte
	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(f.conn, header); err != nil {
			return nil, errors.Trace(wrapShortRead(err))
		}
		length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
		seq := header[3]
		if seq != f.nextSeq {
			return nil, errors.Trace(ErrProtocol)
		}
		f.nextSeq++

		chunk := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(f.conn, chunk); err != nil {
				return nil, errors.Trace(wrapShortRead(err))
			}
		}
		payload = append(payload, chunk...)

		if length < maxPayload {
			break
		}
	}
	return payload, nil
}

// WritePacket writes payload as one or more physical packets (splitting if
// payload is at least maxPayload bytes, mirroring the read-side contract),
// stamping each with the current outbound sequence number and advancing it
// modulo 256.
func (f *Framer) WritePacket(payload []byte) error {
	for {
		chunkLen := len(payload)
		if chunkLen > maxPayload {
			chunkLen = maxPayload
		}
		chunk := payload[:chunkLen]
		payload = payload[chunkLen:]

		header := make([]byte, 4, 4+chunkLen)
		header[0] = byte(chunkLen)
		header[1] = byte(chunkLen >> 8)
		header[2] = byte(chunkLen >> 16)
		header[3] = f.nextSeq
		f.nextSeq++

		if _, err := f.conn.Write(append(header, chunk...)); err != nil {
			return errors.Trace(err)
		}

		if chunkLen < maxPayload {
			return nil
		}
	}
}

func wrapShortRead(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrShortRead
	}
	return err
}
