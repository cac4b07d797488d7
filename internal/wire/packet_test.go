package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/juju/errors"
)

func TestFramerRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramer := NewFramer(server)
	clientFramer := NewFramer(client)

	payload := []byte("select 1")
	go func() {
		_ = clientFramer.WritePacket(payload)
	}()

	got, err := serverFramer.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadPacket = %q want %q", got, payload)
	}
}

func TestFramerSequenceIncrements(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramer := NewFramer(server)

	go func() {
		_ = serverFramer.WritePacket([]byte("a"))
		_ = serverFramer.WritePacket([]byte("b"))
		_ = serverFramer.WritePacket([]byte("c"))
	}()

	for i, want := range []byte{0, 1, 2} {
		header := make([]byte, 4)
		if _, err := readFull(client, header); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if header[3] != want {
			t.Fatalf("packet %d: sequence = %d want %d", i, header[3], want)
		}
		payload := make([]byte, int(header[0])|int(header[1])<<8|int(header[2])<<16)
		if _, err := readFull(client, payload); err != nil {
			t.Fatalf("packet %d payload: %v", i, err)
		}
	}
}

func TestFramerRejectsUnexpectedSequence(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramer := NewFramer(server)

	go func() {
		// write a packet claiming sequence 5 when 0 is expected
		_, _ = client.Write([]byte{0, 0, 0, 5})
	}()

	_, err := serverFramer.ReadPacket()
	if errors.Cause(err) != ErrProtocol {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestFramerSplitsLargePayloads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramer := NewFramer(server)
	clientFramer := NewFramer(client)

	payload := bytes.Repeat([]byte{'x'}, maxPayload+10)
	go func() {
		_ = clientFramer.WritePacket(payload)
	}()

	got, err := serverFramer.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("split payload did not recombine correctly, got %d bytes want %d", len(got), len(payload))
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := c.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
