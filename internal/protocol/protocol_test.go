package protocol

import (
	"net"
	"testing"

	"github.com/ruleserver/mysqlrules/internal/wire"
)

func TestGreetingEncodeDecodeRoundTrip(t *testing.T) {
	scramble, err := NewScramble()
	if err != nil {
		t.Fatal(err)
	}
	g := Greeting{ConnectionID: 7, ServerVersion: "8.0.31-rules", Scramble: scramble}
	payload := g.Encode()

	if payload[0] != 10 {
		t.Fatalf("protocol version = %d, want 10", payload[0])
	}
	pos, version := wire.ReadNulString(payload, 1)
	if version != g.ServerVersion {
		t.Fatalf("version = %q", version)
	}
	pos, connID := wire.ReadU32(payload, pos)
	if connID != g.ConnectionID {
		t.Fatalf("connID = %d", connID)
	}
	if string(payload[pos:pos+8]) != string(scramble[:8]) {
		t.Fatalf("scramble part 1 mismatch")
	}
}

func TestParseClientHandshakeResponse(t *testing.T) {
	var resp []byte
	resp = wire.WriteU32(resp, wire.ServerCapabilities)
	resp = wire.WriteU32(resp, 1<<24)
	resp = wire.WriteU8(resp, 33)
	resp = wire.WriteFiller(resp, 23)
	resp = wire.WriteNulString(resp, "ruleuser")
	auth := []byte{1, 2, 3, 4}
	resp = wire.WriteU8(resp, byte(len(auth)))
	resp = append(resp, auth...)
	resp = wire.WriteNulString(resp, "appdb")

	parsed, err := ParseClientHandshakeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Username != "ruleuser" || parsed.Database != "appdb" {
		t.Fatalf("got %+v", parsed)
	}
	if len(parsed.AuthResponse) != 4 {
		t.Fatalf("auth response length = %d", len(parsed.AuthResponse))
	}
}

func TestParseClientHandshakeResponseTruncated(t *testing.T) {
	if _, err := ParseClientHandshakeResponse([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestNativePasswordTokenMatchesDefaultAuthPolicy(t *testing.T) {
	scramble, err := NewScramble()
	if err != nil {
		t.Fatal(err)
	}
	token := NativePasswordToken("alice", scramble)

	policy := DefaultAuthPolicy{}
	if !policy.Authenticate("alice", scramble, token) {
		t.Fatal("expected authentication to succeed with correct token")
	}
	if policy.Authenticate("alice", scramble, append([]byte(nil), token[:len(token)-1]...)) {
		t.Fatal("expected authentication to fail with truncated token")
	}
	wrong := NativePasswordToken("bob", scramble)
	if policy.Authenticate("alice", scramble, wrong) {
		t.Fatal("expected authentication to fail with wrong password's token")
	}
}

func TestCommandName(t *testing.T) {
	cases := map[byte]string{
		wire.ComQuit:      "QUIT",
		wire.ComInitDB:    "INIT_DB",
		wire.ComQuery:     "QUERY",
		wire.ComFieldList: "FIELD_LIST",
		wire.ComPing:      "PING",
		0x99:              "UNKNOWN",
	}
	for tag, want := range cases {
		if got := (Command{Tag: tag}).Name(); got != want {
			t.Fatalf("Name(%#x) = %q, want %q", tag, got, want)
		}
	}
}

func TestDecodeCommand(t *testing.T) {
	c := DecodeCommand([]byte{wire.ComQuery, 's', 'e', 'l'})
	if c.Tag != wire.ComQuery || c.Text() != "sel" {
		t.Fatalf("got %+v", c)
	}
}

func newPipeFramers(t *testing.T) (*wire.Framer, *wire.Framer) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return wire.NewFramer(a), wire.NewFramer(b)
}

func readAll(t *testing.T, framer *wire.Framer, n int) [][]byte {
	t.Helper()
	packets := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		p, err := framer.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket %d: %v", i, err)
		}
		packets = append(packets, p)
	}
	return packets
}

func TestResponseWriterWriteOK(t *testing.T) {
	server, client := newPipeFramers(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w := NewResponseWriter(server)
		if err := w.WriteOK(3, 42, 0, "done"); err != nil {
			t.Error(err)
		}
	}()

	pkt := readAll(t, client, 1)[0]
	if pkt[0] != 0x00 {
		t.Fatalf("OK marker = %#x", pkt[0])
	}
	<-done
}

func TestResponseWriterWriteErr(t *testing.T) {
	server, client := newPipeFramers(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w := NewResponseWriter(server)
		if err := w.WriteErr(1044, "28000", "access denied"); err != nil {
			t.Error(err)
		}
	}()

	pkt := readAll(t, client, 1)[0]
	if pkt[0] != 0xFF {
		t.Fatalf("ERR marker = %#x", pkt[0])
	}
	_, code := wire.ReadU16(pkt, 1)
	if code != 1044 {
		t.Fatalf("code = %d", code)
	}
	if string(pkt[3]) != "#" || string(pkt[4:9]) != "28000" {
		t.Fatalf("sqlstate framing wrong: %q", pkt[3:9])
	}
}

func TestResponseWriterWriteResultSetPacketCount(t *testing.T) {
	server, client := newPipeFramers(t)
	columns := []ColumnDef{DefaultColumnDef("id"), DefaultColumnDef("name")}
	v1, v2 := "1", "alice"
	v3 := "2"
	rows := [][]*string{{&v1, &v2}, {&v3, nil}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w := NewResponseWriter(server)
		if err := w.WriteResultSet(columns, rows); err != nil {
			t.Error(err)
		}
	}()

	// column count + N columns + EOF + N rows + EOF
	want := 1 + len(columns) + 1 + len(rows) + 1
	packets := readAll(t, client, want)

	_, count, _ := wire.ReadLenEncInt(packets[0], 0)
	if count != uint64(len(columns)) {
		t.Fatalf("column count = %d", count)
	}
	lastRow := packets[len(packets)-2]
	// last row is {"2", NULL}: 0x01 '2' then the bare NULL sentinel
	if lastRow[2] != wire.NullColumn {
		t.Fatalf("expected NULL sentinel in last row's second column")
	}
	eof := packets[len(packets)-1]
	if eof[0] != 0xFE {
		t.Fatalf("final packet marker = %#x, want EOF", eof[0])
	}
	<-done
}
