package protocol

import (
	"github.com/juju/errors"

	"github.com/ruleserver/mysqlrules/internal/wire"
)

// ColumnDef is one column-definition packet's content (spec §3). Default
// value is always absent in result-set definitions (spec §3), so it is
// intentionally not a field here.
type ColumnDef struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	Charset      uint16
	Length       uint32
	Type         byte
	Flags        uint16
	Decimals     byte
}

// DefaultColumnDef builds the column definition the dispatcher uses for
// `columns`/`data`-synthesized result sets: MYSQL_TYPE_STRING, no table of
// origin, utf8_general_ci.
func DefaultColumnDef(name string) ColumnDef {
	return ColumnDef{
		Catalog: "def",
		Name:    name,
		OrgName: name,
		Charset: uint16(wire.DefaultCharset),
		Type:    wire.TypeString,
	}
}

func (c ColumnDef) encode() []byte {
	buf := make([]byte, 0, 64+len(c.Name))
	buf = wire.WriteLenEncString(buf, c.Catalog)
	buf = wire.WriteLenEncString(buf, c.Schema)
	buf = wire.WriteLenEncString(buf, c.Table)
	buf = wire.WriteLenEncString(buf, c.OrgTable)
	buf = wire.WriteLenEncString(buf, c.Name)
	buf = wire.WriteLenEncString(buf, c.OrgName)

	buf = wire.WriteLenEncInt(buf, 0x0c) // length of the fixed-length fields below
	buf = wire.WriteU16(buf, c.Charset)
	buf = wire.WriteU32(buf, c.Length)
	buf = wire.WriteU8(buf, c.Type)
	buf = wire.WriteU16(buf, c.Flags)
	buf = wire.WriteU8(buf, c.Decimals)
	buf = wire.WriteFiller(buf, 2)
	return buf
}

// encodeRow renders one text-protocol row: a concatenation of
// length-encoded strings, NULL rendered as the bare 0xFB sentinel.
func encodeRow(values []*string) []byte {
	buf := make([]byte, 0, 32*len(values))
	for _, v := range values {
		if v == nil {
			buf = append(buf, wire.NullColumn)
			continue
		}
		buf = wire.WriteLenEncString(buf, *v)
	}
	return buf
}

func encodeOK(affectedRows, lastInsertID uint64, status, warnings uint16, message string) []byte {
	buf := make([]byte, 0, 16+len(message))
	buf = wire.WriteU8(buf, 0x00)
	buf = wire.WriteLenEncInt(buf, affectedRows)
	buf = wire.WriteLenEncInt(buf, lastInsertID)
	buf = wire.WriteU16(buf, status)
	buf = wire.WriteU16(buf, warnings)
	buf = append(buf, message...)
	return buf
}

func encodeEOF(warnings, status uint16) []byte {
	buf := make([]byte, 0, 5)
	buf = wire.WriteU8(buf, 0xFE)
	buf = wire.WriteU16(buf, warnings)
	buf = wire.WriteU16(buf, status)
	return buf
}

func encodeErr(code uint16, sqlState, message string) []byte {
	buf := make([]byte, 0, 16+len(message))
	buf = wire.WriteU8(buf, 0xFF)
	buf = wire.WriteU16(buf, code)
	buf = wire.WriteU8(buf, '#')
	buf = append(buf, sqlState...)
	buf = append(buf, message...)
	return buf
}

// ResponseWriter emits OK/ERR/EOF and result-set packets onto a Framer,
// owning nothing else; the Framer's sequence counter is the single source
// of truth for packet ordering.
type ResponseWriter struct {
	framer *wire.Framer
}

// NewResponseWriter wraps framer for building spec §4.4 response packets.
func NewResponseWriter(framer *wire.Framer) *ResponseWriter {
	return &ResponseWriter{framer: framer}
}

// WriteOK sends an OK packet.
func (w *ResponseWriter) WriteOK(affectedRows, lastInsertID uint64, warnings uint16, message string) error {
	return errors.Trace(w.framer.WritePacket(encodeOK(affectedRows, lastInsertID, wire.ServerStatusAutocommit, warnings, message)))
}

// WriteErr sends an ERR packet.
func (w *ResponseWriter) WriteErr(code uint16, sqlState, message string) error {
	return errors.Trace(w.framer.WritePacket(encodeErr(code, sqlState, message)))
}

// WriteEOF sends an EOF packet.
func (w *ResponseWriter) WriteEOF() error {
	return errors.Trace(w.framer.WritePacket(encodeEOF(0, wire.ServerStatusAutocommit)))
}

// WriteResultSet sends a complete text-protocol result set: column count,
// one definition per column, EOF, one packet per row, EOF (spec §4.4).
func (w *ResponseWriter) WriteResultSet(columns []ColumnDef, rows [][]*string) error {
	if err := w.framer.WritePacket(wire.WriteLenEncInt(nil, uint64(len(columns)))); err != nil {
		return errors.Trace(err)
	}
	for _, col := range columns {
		if err := w.framer.WritePacket(col.encode()); err != nil {
			return errors.Trace(err)
		}
	}
	if err := w.WriteEOF(); err != nil {
		return errors.Trace(err)
	}
	for _, row := range rows {
		if err := w.framer.WritePacket(encodeRow(row)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(w.WriteEOF())
}

// WriteFieldList sends the FIELD_LIST response: one column definition per
// field followed by EOF (no leading column-count packet, per COM_FIELD_LIST
// semantics).
func (w *ResponseWriter) WriteFieldList(columns []ColumnDef) error {
	for _, col := range columns {
		if err := w.framer.WritePacket(col.encode()); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(w.WriteEOF())
}
