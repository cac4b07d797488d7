package protocol

import (
	"crypto/rand"

	"github.com/juju/errors"

	"github.com/ruleserver/mysqlrules/internal/wire"
)

// ScrambleLength is the fixed size of the handshake challenge.
const ScrambleLength = 20

// NewScramble generates a fresh 20-byte challenge. It avoids embedded NUL
// bytes since the first 8 bytes travel inline in a fixed-size field
// immediately followed by further fixed fields, not a NUL-terminated
// string, but staying NUL-free keeps any client library that treats it as
// a C string from truncating it early.
func NewScramble() ([ScrambleLength]byte, error) {
	var s [ScrambleLength]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, errors.Annotate(err, "protocol: generating scramble")
	}
	for i, b := range s {
		if b == 0 {
			s[i] = 1
		}
	}
	return s, nil
}

// Greeting is the server's handshake v10 packet content (spec §4.3 step 1).
type Greeting struct {
	ConnectionID uint32
	ServerVersion string
	Scramble     [ScrambleLength]byte
}

// Encode renders the greeting payload (without the packet header).
func (g Greeting) Encode() []byte {
	buf := make([]byte, 0, 64+len(g.ServerVersion))

	buf = wire.WriteU8(buf, 10) // protocol version
	buf = wire.WriteNulString(buf, g.ServerVersion)
	buf = wire.WriteU32(buf, g.ConnectionID)
	buf = append(buf, g.Scramble[:8]...)
	buf = wire.WriteU8(buf, 0x00) // filler

	caps := uint32(wire.ServerCapabilities)
	buf = wire.WriteU16(buf, uint16(caps))     // capability_flags_1
	buf = wire.WriteU8(buf, wire.DefaultCharset)
	buf = wire.WriteU16(buf, wire.ServerStatusAutocommit)
	buf = wire.WriteU16(buf, uint16(caps>>16)) // capability_flags_2

	buf = wire.WriteU8(buf, 0x15)  // scramble length
	buf = wire.WriteFiller(buf, 10)
	buf = append(buf, g.Scramble[8:]...)
	buf = wire.WriteU8(buf, 0x00) // trailing filler terminating auth-data

	return buf
}

// ClientHandshakeResponse is what the client sends back after the greeting
// (spec §4.3 step 2).
type ClientHandshakeResponse struct {
	Capabilities uint32
	Charset      byte
	Username     string
	AuthResponse []byte
	Database     string
}

// ParseClientHandshakeResponse decodes the Protocol::HandshakeResponse41
// payload. This server only advertises PROTOCOL_41, so it only needs to
// understand the 4.1+ shape.
func ParseClientHandshakeResponse(payload []byte) (ClientHandshakeResponse, error) {
	var resp ClientHandshakeResponse
	pos := 0

	var ok bool
	var buf []byte
	pos, buf, ok = checked(payload, pos, 4)
	if !ok {
		return resp, errors.Trace(wire.ErrMalformedPacket)
	}
	_, resp.Capabilities = wire.ReadU32(buf, 0)

	pos, _, ok = checked(payload, pos, 4) // max packet size, unused
	if !ok {
		return resp, errors.Trace(wire.ErrMalformedPacket)
	}

	pos, buf, ok = checked(payload, pos, 1)
	if !ok {
		return resp, errors.Trace(wire.ErrMalformedPacket)
	}
	resp.Charset = buf[0]

	pos, _, ok = checked(payload, pos, 23) // filler
	if !ok {
		return resp, errors.Trace(wire.ErrMalformedPacket)
	}

	pos, resp.Username = wire.ReadNulString(payload, pos)

	pos, buf, ok = checked(payload, pos, 1)
	if !ok {
		return resp, errors.Trace(wire.ErrMalformedPacket)
	}
	authLen := int(buf[0])
	pos, buf, ok = checked(payload, pos, authLen)
	if !ok {
		return resp, errors.Trace(wire.ErrMalformedPacket)
	}
	resp.AuthResponse = append([]byte(nil), buf...)

	if wire.Supports(resp.Capabilities, wire.ClientConnectWithDB) && pos < len(payload) {
		_, resp.Database = wire.ReadNulString(payload, pos)
	}

	return resp, nil
}

func checked(buf []byte, pos, n int) (int, []byte, bool) {
	p, b, err := wire.ReadFixedBytesChecked(buf, pos, n)
	if err != nil {
		return pos, nil, false
	}
	return p, b, true
}
