package nlmsg

import "strconv"

// Control message types shared by all netlink families.
const (
	TypeNoop    MsgType = 0x1
	TypeError   MsgType = 0x2
	TypeDone    MsgType = 0x3
	TypeOverrun MsgType = 0x4

	// TypeMin is the first message type available to netlink families.
	TypeMin MsgType = 0x10
)

// Standard flag bits.
const (
	FlagRequest    Flags = 0x1
	FlagMulti      Flags = 0x2
	FlagAck        Flags = 0x4
	FlagEcho       Flags = 0x8
	FlagDumpIntr   Flags = 0x10
	FlagDumpFilter Flags = 0x20

	// Modifiers to GET requests.
	FlagRoot   Flags = 0x100
	FlagMatch  Flags = 0x200
	FlagAtomic Flags = 0x400
	FlagDump   Flags = FlagRoot | FlagMatch

	// Modifiers to NEW requests.
	FlagReplace Flags = 0x100
	FlagExcl    Flags = 0x200
	FlagCreate  Flags = 0x400
	FlagAppend  Flags = 0x800

	// Flags for ACK messages.
	FlagCapped  Flags = 0x100
	FlagAckTLVs Flags = 0x200
)

// MsgType is the type of a netlink message.
type MsgType uint16

func (t MsgType) String() string {
	switch t {
	case TypeNoop:
		return "NLMSG_NOOP"
	case TypeError:
		return "NLMSG_ERROR"
	case TypeDone:
		return "NLMSG_DONE"
	case TypeOverrun:
		return "NLMSG_OVERRUN"
	default:
		return strconv.Itoa(int(t))
	}
}

// IsTerminal returns whether a message of this type ends a request's reply.
func (t MsgType) IsTerminal() bool {
	return t == TypeError || t == TypeDone
}

// Flags is the flags field of a netlink message header.
//
// The meaning of bits 8 and above depends on the request kind.
// Only the generic low bits are named when formatting.
type Flags uint16

var flagNames = [...]struct {
	mask Flags
	name string
}{
	{FlagRequest, "REQUEST"},
	{FlagMulti, "MULTI"},
	{FlagAck, "ACK"},
	{FlagEcho, "ECHO"},
	{FlagDumpIntr, "DUMP_INTR"},
	{FlagDumpFilter, "DUMP_FILTERED"},
}

func (f Flags) AppendText(b []byte) ([]byte, error) {
	bLen := len(b)
	rest := f
	for _, flag := range flagNames {
		if f&flag.mask != 0 {
			b = append(b, flag.name...)
			b = append(b, '|')
			rest &^= flag.mask
		}
	}
	if rest != 0 {
		b = append(b, "0x"...)
		b = strconv.AppendUint(b, uint64(rest), 16)
		b = append(b, '|')
	}
	if len(b) > bLen {
		b = b[:len(b)-1]
	}
	return b, nil
}

func (f Flags) MarshalText() ([]byte, error) {
	return f.AppendText(nil)
}

func (f Flags) String() string {
	b, _ := f.AppendText(nil)
	return string(b)
}
