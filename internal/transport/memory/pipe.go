package memory

import (
	"errors"
	"sync"

	"github.com/livelyrics/bandlink/internal/transport"
)

var errClosed = errors.New("memory: connection closed")

// pipe is one shared duplex channel pair. Both conn halves point at it;
// closing either half closes both directions.
type pipe struct {
	mu     sync.Mutex
	closed bool
	aToB   chan []byte
	bToA   chan []byte
}

type conn struct {
	pipe   *pipe
	peer   transport.Identity
	isA    bool
	recvCh chan []byte
}

var _ transport.Conn = (*conn)(nil)

func newPipe(a, b transport.Identity) (transport.Conn, transport.Conn) {
	p := &pipe{
		aToB: make(chan []byte, 32),
		bToA: make(chan []byte, 32),
	}
	local := &conn{pipe: p, peer: b, isA: true, recvCh: p.bToA}
	remote := &conn{pipe: p, peer: a, isA: false, recvCh: p.aToB}
	return local, remote
}

func (c *conn) PeerID() string      { return c.peer.ID }
func (c *conn) DisplayName() string { return c.peer.DisplayName }

func (c *conn) Send(data []byte) error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()

	if c.pipe.closed {
		return errClosed
	}

	out := c.pipe.aToB
	if !c.isA {
		out = c.pipe.bToA
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case out <- buf:
		return nil
	default:
		return errClosed
	}
}

func (c *conn) Recv() <-chan []byte {
	return c.recvCh
}

func (c *conn) Close() error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()

	if c.pipe.closed {
		return nil
	}
	c.pipe.closed = true
	close(c.pipe.aToB)
	close(c.pipe.bToA)
	return nil
}
