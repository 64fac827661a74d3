package protocol

const (
	// MaxFrameSize bounds a single encoded message. Invitations are tiny,
	// anything larger than this is noise on the wire.
	MaxFrameSize = 4 * 1024
)

// ContentTypeBand tags an invitation carrying a band join code.
const ContentTypeBand = "band"

type MessageType uint16

const (
	MsgInvite MessageType = 0x0010
	MsgAck    MessageType = 0x0011
)

func (t MessageType) String() string {
	switch t {
	case MsgInvite:
		return "INVITE"
	case MsgAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}
