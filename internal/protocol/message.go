package protocol

type Message interface {
	Type() MessageType
}

// Invite references a shareable resource held by the sender. All three
// fields are required; Validate enforces that before anything touches
// the wire.
type Invite struct {
	ContentID   string
	ContentType string
	SenderID    string
}

func (Invite) Type() MessageType { return MsgInvite }

func (i *Invite) Validate() error {
	if i.ContentID == "" || i.SenderID == "" || i.ContentType == "" {
		return ErrMalformed
	}
	return nil
}

// Ack is the receiver's delivery confirmation. Informational only: the
// sender treats a successful send as completion.
type Ack struct{}

func (Ack) Type() MessageType { return MsgAck }
