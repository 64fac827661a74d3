package rendezvous

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/livelyrics/bandlink/internal/transport"
	"github.com/sirupsen/logrus"
)

// PresenceEvent reports a device becoming discoverable or leaving.
type PresenceEvent struct {
	ID      string
	Name    string
	Visible bool
}

// Client is the device side of the relay. It satisfies the transport
// Signaler interface consumed by the webrtc adapter and additionally
// surfaces roster presence events.
type Client struct {
	self   string
	conn   net.Conn
	logger *logrus.Logger

	recv     chan transport.Signal
	presence chan PresenceEvent

	writeMu sync.Mutex
}

var _ transport.Signaler = (*Client)(nil)

func DialClient(ctx context.Context, addr, selfID, selfName string, logger *logrus.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing rendezvous: %w", err)
	}

	c := &Client{
		self:     selfID,
		conn:     conn,
		logger:   logger,
		recv:     make(chan transport.Signal, 16),
		presence: make(chan PresenceEvent, 16),
	}

	// Register before anything else flows.
	if err := c.write(Envelope{Kind: KindHello, From: selfID, Name: selfName}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("registering with rendezvous: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// SetVisible toggles whether this device appears in other devices'
// rosters.
func (c *Client) SetVisible(name string, visible bool) error {
	return c.write(Envelope{Kind: KindPresence, From: c.self, Name: name, Visible: visible})
}

func (c *Client) SendSignal(_ context.Context, peerID string, payload []byte) error {
	return c.write(Envelope{Kind: KindSignal, From: c.self, To: peerID, Payload: payload})
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.recv
}

// Presence delivers roster events, including a replay of devices that
// were already discoverable at registration time.
func (c *Client) Presence() <-chan PresenceEvent {
	return c.presence
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteEnvelope(c.conn, env)
}

func (c *Client) readLoop() {
	defer close(c.recv)
	defer close(c.presence)
	for {
		env, err := ReadEnvelope(c.conn)
		if err != nil {
			return
		}

		switch env.Kind {
		case KindPresence:
			select {
			case c.presence <- PresenceEvent{ID: env.From, Name: env.Name, Visible: env.Visible}:
			default:
			}
		case KindSignal:
			select {
			case c.recv <- transport.Signal{PeerID: env.From, Payload: env.Payload}:
			default:
				c.logger.Warnf("Dropping signal from %s: receiver lagging", env.From)
			}
		default:
			c.logger.Warnf("Unhandled envelope kind %d", env.Kind)
		}
	}
}
