// Package rendezvous is a small relay that routes opaque signal
// envelopes between registered devices. The webrtc transport adapter
// uses it to exchange session descriptions when peers cannot see each
// other over multicast.
package rendezvous

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

const maxEnvelopeSize = 64 * 1024

var errEnvelopeTooLarge = errors.New("rendezvous: envelope exceeds size limit")

type Kind uint8

const (
	// KindHello registers the sender. Always the first envelope.
	KindHello Kind = iota
	// KindPresence announces a device becoming discoverable or not.
	// The relay broadcasts these and replays the current roster to
	// newly registered devices.
	KindPresence
	// KindSignal is an opaque payload routed From -> To.
	KindSignal
)

// Envelope is one relay message.
type Envelope struct {
	Kind    Kind
	From    string
	To      string
	Name    string
	Visible bool
	Payload []byte
}

func WriteEnvelope(w io.Writer, env Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if buf.Len() > maxEnvelopeSize {
		return errEnvelopeTooLarge
	}
	if err := binary.Write(w, binary.BigEndian, uint32(buf.Len())); err != nil {
		return fmt.Errorf("writing envelope length: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing envelope body: %w", err)
	}
	return nil
}

func ReadEnvelope(r io.Reader) (Envelope, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Envelope{}, err
	}
	if length > maxEnvelopeSize {
		return Envelope{}, errEnvelopeTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}
