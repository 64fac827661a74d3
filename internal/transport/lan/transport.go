// Package lan is the default transport adapter: UDP multicast beacons
// for advertise/browse, TLS over TCP for the invited session itself.
package lan

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/livelyrics/bandlink/internal/transport"
	"github.com/sirupsen/logrus"
)

const helloTimeout = 5 * time.Second

// hello is the first frame on every session: each side identifies
// itself before application payloads flow.
type hello struct {
	ID   string
	Name string
}

type Transport struct {
	logger *logrus.Logger

	mu       sync.Mutex
	self     transport.Identity
	listener net.Listener
	adv      *advertiser
	br       *browser
	accept   chan transport.Conn
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

func New(logger *logrus.Logger) *Transport {
	return &Transport{
		logger: logger,
		accept: make(chan transport.Conn, 4),
	}
}

func (t *Transport) Advertise(ctx context.Context, self transport.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrUnavailable
	}
	if t.adv != nil {
		return nil
	}
	t.self = self

	listener, port, err := t.startListenerLocked(self)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}

	adv, err := startAdvertiser(self, port, t.logger)
	if err != nil {
		_ = listener.Close()
		t.listener = nil
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	t.adv = adv
	t.logger.Infof("Advertising %q on port %d", self.DisplayName, port)
	return nil
}

// startListenerLocked opens the TLS session listener and starts
// accepting inbound invites.
func (t *Transport) startListenerLocked(self transport.Identity) (net.Listener, int, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, 0, err
	}
	listener, err := tls.Listen("tcp", ":0", tlsConf)
	if err != nil {
		return nil, 0, err
	}
	t.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	go t.acceptLoop(listener, self)
	return listener, port, nil
}

func (t *Transport) acceptLoop(listener net.Listener, self transport.Identity) {
	for {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		go t.handleInbound(c, self)
	}
}

func (t *Transport) handleInbound(c net.Conn, self transport.Identity) {
	peer, err := exchangeHello(c, self, false)
	if err != nil {
		t.logger.Warnf("Dropping inbound session from %s: %v", c.RemoteAddr(), err)
		_ = c.Close()
		return
	}

	fc := newFramedConn(peer, c)
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		_ = fc.Close()
		return
	}
	select {
	case t.accept <- fc:
	default:
		t.logger.Warnf("Rejecting inbound session from %s: session backlog full", peer.DisplayName)
		_ = fc.Close()
	}
}

func (t *Transport) StopAdvertise() error {
	t.mu.Lock()
	adv := t.adv
	listener := t.listener
	t.adv = nil
	t.listener = nil
	t.mu.Unlock()

	if adv != nil {
		adv.stop()
	}
	if listener != nil {
		_ = listener.Close()
	}
	return nil
}

func (t *Transport) Browse(ctx context.Context, self transport.Identity) (<-chan transport.PeerEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transport.ErrUnavailable
	}
	if t.br != nil {
		return t.br.events, nil
	}
	t.self = self

	br, err := startBrowser(self.ID, t.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	t.br = br
	return br.events, nil
}

func (t *Transport) StopBrowse() error {
	t.mu.Lock()
	br := t.br
	t.br = nil
	t.mu.Unlock()

	if br != nil {
		br.close()
	}
	return nil
}

func (t *Transport) Invite(ctx context.Context, peerID string) (transport.Conn, error) {
	t.mu.Lock()
	br := t.br
	self := t.self
	t.mu.Unlock()

	if br == nil {
		return nil, transport.ErrUnavailable
	}
	addr, ok := br.addrOf(peerID)
	if !ok {
		return nil, transport.ErrPeerNotFound
	}

	dialer := &tls.Dialer{Config: clientTLSConfig()}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		// A context error must surface as itself so callers can tell
		// a timed-out invite from a declined one.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrRejected, err)
	}

	peer, err := exchangeHello(c, self, true)
	if err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrRejected, err)
	}
	if peer.ID != peerID {
		_ = c.Close()
		return nil, transport.ErrPeerNotFound
	}

	return newFramedConn(peer, c), nil
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.accept
}

func (t *Transport) Close() error {
	_ = t.StopAdvertise()
	_ = t.StopBrowse()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.accept)
	return nil
}

// exchangeHello identifies both ends of a fresh session. The initiator
// writes first; both sides bound the wait.
func exchangeHello(c net.Conn, self transport.Identity, initiator bool) (transport.Identity, error) {
	_ = c.SetDeadline(time.Now().Add(helloTimeout))
	defer func() { _ = c.SetDeadline(time.Time{}) }()

	own, err := encodeHello(hello{ID: self.ID, Name: self.DisplayName})
	if err != nil {
		return transport.Identity{}, err
	}

	if initiator {
		if err := writeFrame(c, own); err != nil {
			return transport.Identity{}, err
		}
	}

	data, err := readFrame(c)
	if err != nil {
		return transport.Identity{}, err
	}
	h, err := decodeHello(data)
	if err != nil {
		return transport.Identity{}, err
	}

	if !initiator {
		if err := writeFrame(c, own); err != nil {
			return transport.Identity{}, err
		}
	}

	return transport.Identity{ID: h.ID, DisplayName: h.Name}, nil
}

func encodeHello(h hello) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHello(data []byte) (hello, error) {
	var h hello
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&h)
	return h, err
}
