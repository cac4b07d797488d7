package wire

import "github.com/juju/errors"

// ErrShortRead is returned when EOF occurs before a full header or payload
// has been read off the wire.
var ErrShortRead = errors.New("short read: connection closed mid-packet")

// ErrProtocol is returned when an unexpected sequence number is observed.
var ErrProtocol = errors.New("protocol error: unexpected packet sequence number")

// ErrMalformedPacket is returned when a declared length exceeds the
// containing payload.
var ErrMalformedPacket = errors.New("malformed packet: declared length exceeds payload")
