package protocol

import (
	"bytes"
	"encoding/gob"
	"errors"
	"io"
)

var (
	// ErrMalformed means a decoded message is missing a required field.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrTruncated means the byte stream ended before a full message.
	ErrTruncated = errors.New("protocol: truncated message")
)

func init() {
	gob.Register(&Invite{})
	gob.Register(&Ack{})
}

type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	return gob.NewEncoder(w).Encode(&msg)
}

// Decode reads one message. Decoding is all-or-nothing: a short read
// yields ErrTruncated, a structurally valid frame with missing required
// fields yields ErrMalformed, and no partial result is ever returned.
func (c *Codec) Decode(r io.Reader) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(r).Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, ErrMalformed
	}
	if inv, ok := msg.(*Invite); ok {
		if err := inv.Validate(); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrTruncated
	}
	return c.Decode(bytes.NewReader(data))
}
