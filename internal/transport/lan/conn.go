package lan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/livelyrics/bandlink/internal/transport"
)

// maxFrameSize bounds a single length-prefixed frame read off the wire.
const maxFrameSize = 64 * 1024

var errFrameTooLarge = errors.New("lan: frame exceeds size limit")

// framedConn carries length-prefixed frames (uint32 big-endian length,
// then payload) over one stream socket.
type framedConn struct {
	peer transport.Identity
	c    net.Conn
	recv chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ transport.Conn = (*framedConn)(nil)

func newFramedConn(peer transport.Identity, c net.Conn) *framedConn {
	fc := &framedConn{
		peer: peer,
		c:    c,
		recv: make(chan []byte, 32),
	}
	go fc.readLoop()
	return fc
}

func (fc *framedConn) PeerID() string      { return fc.peer.ID }
func (fc *framedConn) DisplayName() string { return fc.peer.DisplayName }

func (fc *framedConn) Send(data []byte) error {
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	return writeFrame(fc.c, data)
}

func (fc *framedConn) Recv() <-chan []byte {
	return fc.recv
}

func (fc *framedConn) Close() error {
	var err error
	fc.closeOnce.Do(func() {
		err = fc.c.Close()
	})
	return err
}

func (fc *framedConn) readLoop() {
	defer close(fc.recv)
	for {
		data, err := readFrame(fc.c)
		if err != nil {
			_ = fc.Close()
			return
		}
		fc.recv <- data
	}
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return errFrameTooLarge
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, errFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
