package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ruleserver/mysqlrules/internal/protocol"
	"github.com/ruleserver/mysqlrules/internal/wire"
	"github.com/ruleserver/mysqlrules/rule"
)

func startTestServer(t *testing.T, opts Options) (addr string, stop func()) {
	t.Helper()
	ready := make(chan net.Addr, 1)
	opts.Addr = "127.0.0.1:0"
	opts.OnReady = func(a net.Addr) { ready <- a }

	srv := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	select {
	case a := <-ready:
		addr = a.String()
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	return addr, func() {
		cancel()
		srv.Stop()
		<-errc
	}
}

// handshakeAsUser dials addr and sends the handshake response for username,
// answering the scramble with password. The default stub policy accepts it
// only when password equals username.
func handshakeAsUser(t *testing.T, addr, username, password string) (net.Conn, *wire.Framer) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	framer := wire.NewFramer(conn)

	greetingPayload, err := framer.ReadPacket()
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	pos := 1
	pos, _ = wire.ReadNulString(greetingPayload, pos)
	pos, _ = wire.ReadU32(greetingPayload, pos)
	var scramble [protocol.ScrambleLength]byte
	copy(scramble[:8], greetingPayload[pos:pos+8])
	pos += 8 + 1 + 2 + 1 + 2 + 2 + 1 + 10
	copy(scramble[8:], greetingPayload[pos:pos+12])

	token := protocol.NativePasswordToken(password, scramble)

	var resp []byte
	resp = wire.WriteU32(resp, wire.ServerCapabilities)
	resp = wire.WriteU32(resp, 1<<24)
	resp = wire.WriteU8(resp, 33)
	resp = wire.WriteFiller(resp, 23)
	resp = wire.WriteNulString(resp, username)
	resp = wire.WriteU8(resp, byte(len(token)))
	resp = append(resp, token...)

	if err := framer.WritePacket(resp); err != nil {
		t.Fatalf("write handshake response: %v", err)
	}
	return conn, framer
}

func TestServerHandshakeAndPing(t *testing.T) {
	addr, stop := startTestServer(t, Options{})
	defer stop()

	conn, framer := handshakeAsUser(t, addr, "alice", "alice")
	defer conn.Close()

	ack, err := framer.ReadPacket()
	if err != nil {
		t.Fatalf("read auth ack: %v", err)
	}
	if ack[0] != 0x00 {
		t.Fatalf("auth ack marker = %#x, want OK", ack[0])
	}

	framer.ResetSequence()
	if err := framer.WritePacket([]byte{wire.ComPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pong, err := framer.ReadPacket()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong[0] != 0x00 {
		t.Fatalf("pong marker = %#x, want OK", pong[0])
	}
}

func TestServerAuthFailure(t *testing.T) {
	addr, stop := startTestServer(t, Options{})
	defer stop()

	conn, framer := handshakeAsUser(t, addr, "alice", "wrong-password")
	defer conn.Close()

	ack, err := framer.ReadPacket()
	if err != nil {
		t.Fatalf("read auth ack: %v", err)
	}
	if ack[0] != 0xFF {
		t.Fatalf("auth ack marker = %#x, want ERR", ack[0])
	}
	_, code := wire.ReadU16(ack, 1)
	if code != 1044 {
		t.Fatalf("code = %d, want 1044", code)
	}
}

func TestServerQueryRuleMatch(t *testing.T) {
	addr, stop := startTestServer(t, Options{
		Rules: []rule.Rule{{
			Match: "hello",
			Data:  rule.Lit([]interface{}{"world"}),
		}},
	})
	defer stop()

	conn, framer := handshakeAsUser(t, addr, "bob", "bob")
	defer conn.Close()
	if _, err := framer.ReadPacket(); err != nil {
		t.Fatalf("read auth ack: %v", err)
	}

	framer.ResetSequence()
	queryPacket := append([]byte{wire.ComQuery}, "hello"...)
	if err := framer.WritePacket(queryPacket); err != nil {
		t.Fatalf("write query: %v", err)
	}

	colCount, err := framer.ReadPacket()
	if err != nil {
		t.Fatalf("read column count: %v", err)
	}
	_, n, _ := wire.ReadLenEncInt(colCount, 0)
	if n != 1 {
		t.Fatalf("column count = %d, want 1", n)
	}
	for i := 0; i < 3; i++ { // column def, EOF, row (final EOF read separately)
		if _, err := framer.ReadPacket(); err != nil {
			t.Fatalf("read packet %d: %v", i, err)
		}
	}
	final, err := framer.ReadPacket()
	if err != nil {
		t.Fatalf("read final EOF: %v", err)
	}
	if final[0] != 0xFE {
		t.Fatalf("final marker = %#x, want EOF", final[0])
	}
}
