// Package memory provides an in-process loopback transport. Endpoints
// created from one Hub discover each other instantly, which makes the
// full discover/invite/exchange flow testable without touching the
// network.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/livelyrics/bandlink/internal/transport"
)

type Hub struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[string]*Endpoint),
	}
}

// Endpoint registers a device on the hub and returns its transport.
func (h *Hub) Endpoint(id, displayName string) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep := &Endpoint{
		hub:    h,
		self:   transport.Identity{ID: id, DisplayName: displayName},
		accept: make(chan transport.Conn, 4),
	}
	h.endpoints[id] = ep
	return ep
}

func (h *Hub) notifyBrowsers(ev transport.PeerEvent, except string) {
	for id, ep := range h.endpoints {
		if id == except {
			continue
		}
		if ep.events != nil {
			select {
			case ep.events <- ev:
			default:
			}
		}
	}
}

type Endpoint struct {
	hub    *Hub
	self   transport.Identity
	accept chan transport.Conn

	// all mutable state below is guarded by hub.mu
	advertising bool
	browsing    bool
	events      chan transport.PeerEvent
	closed      bool

	// inviteHook lets tests script accept, reject, or delay of inbound
	// invites. nil means accept immediately.
	inviteHook func() error
}

var _ transport.Transport = (*Endpoint)(nil)

// SetInviteHandler installs a test hook consulted on every inbound
// invite. Returning an error rejects the invite.
func (e *Endpoint) SetInviteHandler(f func() error) {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	e.inviteHook = f
}

func (e *Endpoint) Advertise(_ context.Context, self transport.Identity) error {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()

	if e.closed {
		return transport.ErrUnavailable
	}
	e.self = self
	e.advertising = true
	e.hub.notifyBrowsers(transport.PeerEvent{Peer: transport.PeerInfo(self)}, self.ID)
	return nil
}

func (e *Endpoint) StopAdvertise() error {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()

	if !e.advertising {
		return nil
	}
	e.advertising = false
	e.hub.notifyBrowsers(transport.PeerEvent{Peer: transport.PeerInfo(e.self), Lost: true}, e.self.ID)
	return nil
}

func (e *Endpoint) Browse(_ context.Context, self transport.Identity) (<-chan transport.PeerEvent, error) {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()

	if e.closed {
		return nil, transport.ErrUnavailable
	}
	if e.events == nil {
		e.events = make(chan transport.PeerEvent, 16)
	}
	e.self = self
	e.browsing = true

	// Replay peers that were already advertising when we started.
	for id, other := range e.hub.endpoints {
		if id == self.ID || !other.advertising {
			continue
		}
		e.events <- transport.PeerEvent{Peer: transport.PeerInfo(other.self)}
	}
	return e.events, nil
}

func (e *Endpoint) StopBrowse() error {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()

	if !e.browsing {
		return nil
	}
	e.browsing = false
	close(e.events)
	e.events = nil
	return nil
}

func (e *Endpoint) Invite(ctx context.Context, peerID string) (transport.Conn, error) {
	e.hub.mu.Lock()
	target, ok := e.hub.endpoints[peerID]
	var hook func() error
	if ok {
		hook = target.inviteHook
	}
	self := e.self
	e.hub.mu.Unlock()

	if !ok || !target.isAdvertising() {
		return nil, transport.ErrPeerNotFound
	}

	if hook != nil {
		done := make(chan error, 1)
		go func() { done <- hook() }()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-done:
			if err != nil {
				return nil, fmt.Errorf("%w: %v", transport.ErrRejected, err)
			}
		}
	}

	local, remote := newPipe(self, target.self)
	select {
	case target.accept <- remote:
	case <-ctx.Done():
		_ = local.Close()
		return nil, ctx.Err()
	}
	return local, nil
}

func (e *Endpoint) Accept() <-chan transport.Conn {
	return e.accept
}

func (e *Endpoint) Close() error {
	_ = e.StopAdvertise()
	_ = e.StopBrowse()

	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	delete(e.hub.endpoints, e.self.ID)
	close(e.accept)
	return nil
}

func (e *Endpoint) isAdvertising() bool {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	return e.advertising
}
