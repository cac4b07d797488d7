package wire

// Capability flags (subset relevant to this server), see MySQL protocol
// docs §Capabilities.
const (
	ClientLongPassword     uint32 = 0x00000001
	ClientConnectWithDB    uint32 = 0x00000008
	ClientProtocol41       uint32 = 0x00000200
	ClientSecureConnection uint32 = 0x00008000
)

// ServerCapabilities is the set this server always advertises: enough to
// negotiate a protocol-41 handshake, accept a default schema, and return
// text-protocol result sets.
const ServerCapabilities = ClientLongPassword | ClientConnectWithDB | ClientProtocol41 | ClientSecureConnection

// Supports reports whether flag is set within flags.
func Supports(flags, flag uint32) bool { return flags&flag == flag }

// Command tags, see MySQL protocol docs §COM_QUERY et al.
const (
	ComQuit      byte = 0x01
	ComInitDB    byte = 0x02
	ComQuery     byte = 0x03
	ComFieldList byte = 0x04
	ComPing      byte = 0x0E
)

// Column type codes (subset), see MySQL protocol docs §ColumnType.
const (
	TypeDecimal byte = 0x00
	TypeLong    byte = 0x03
	TypeFloat   byte = 0x04
	TypeDouble  byte = 0x05
	TypeLonglong byte = 0x08
	TypeInt24   byte = 0x09
	TypeNewDecimal byte = 0xF6
	TypeVarString  byte = 0xFD
	TypeString     byte = 0xFE
)

// ServerStatusAutocommit is the single status flag this server reports.
const ServerStatusAutocommit uint16 = 0x0002

// DefaultCharset is the character set id advertised at handshake time and
// used for every column definition (utf8_general_ci).
const DefaultCharset byte = 33
