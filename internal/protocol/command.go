package protocol

import "github.com/ruleserver/mysqlrules/internal/wire"

// Command is one decoded client command packet: a tag from the MySQL
// command enum plus its payload (query text or database name, etc).
type Command struct {
	Tag     byte
	Payload []byte
}

// DecodeCommand splits a raw command packet into its tag and payload.
func DecodeCommand(raw []byte) Command {
	if len(raw) == 0 {
		return Command{}
	}
	return Command{Tag: raw[0], Payload: raw[1:]}
}

// Text returns the command payload interpreted as a UTF-8 query/argument
// string (used for QUERY and INIT_DB).
func (c Command) Text() string { return string(c.Payload) }

// Name renders a human-readable name for logging/debugging.
func (c Command) Name() string {
	switch c.Tag {
	case wire.ComQuit:
		return "QUIT"
	case wire.ComInitDB:
		return "INIT_DB"
	case wire.ComQuery:
		return "QUERY"
	case wire.ComFieldList:
		return "FIELD_LIST"
	case wire.ComPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}
