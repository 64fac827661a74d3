// Package webrtc implements the transport over pion data channels. A
// rendezvous relay carries presence and session descriptions, so two
// devices can pair even when multicast discovery does not reach them.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/livelyrics/bandlink/internal/rendezvous"
	"github.com/livelyrics/bandlink/internal/transport"
)

// Rendezvous is the slice of the relay client this adapter needs.
// *rendezvous.Client satisfies it.
type Rendezvous interface {
	transport.Signaler
	SetVisible(name string, visible bool) error
	Presence() <-chan rendezvous.PresenceEvent
}

type Transport struct {
	config webrtc.Configuration
	rdv    Rendezvous
	logger *logrus.Logger

	mu          sync.Mutex
	self        transport.Identity
	conns       map[string]*connection
	names       map[string]string
	incoming    chan transport.Conn
	advertising bool
	browsing    bool
	browseStop  chan struct{}
	closed      bool
}

// New creates a transport that signals through rdv. stunServers may be
// empty on a LAN where host candidates suffice.
func New(rdv Rendezvous, stunServers []string, logger *logrus.Logger) *Transport {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, server := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	t := &Transport{
		config: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		rdv:      rdv,
		logger:   logger,
		conns:    make(map[string]*connection),
		names:    make(map[string]string),
		incoming: make(chan transport.Conn, 16),
	}
	go t.signalLoop()
	return t
}

func (t *Transport) Advertise(_ context.Context, self transport.Identity) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrUnavailable
	}
	t.self = self
	t.advertising = true
	t.mu.Unlock()

	if err := t.rdv.SetVisible(self.DisplayName, true); err != nil {
		t.mu.Lock()
		t.advertising = false
		t.mu.Unlock()
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	return nil
}

func (t *Transport) StopAdvertise() error {
	t.mu.Lock()
	if !t.advertising {
		t.mu.Unlock()
		return nil
	}
	t.advertising = false
	name := t.self.DisplayName
	t.mu.Unlock()

	return t.rdv.SetVisible(name, false)
}

func (t *Transport) Browse(_ context.Context, self transport.Identity) (<-chan transport.PeerEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrUnavailable
	}
	if t.browsing {
		return nil, transport.ErrUnavailable
	}
	t.self = self
	t.browsing = true
	t.browseStop = make(chan struct{})

	events := make(chan transport.PeerEvent, 16)
	go t.browseLoop(self.ID, events, t.browseStop)
	return events, nil
}

func (t *Transport) browseLoop(selfID string, events chan<- transport.PeerEvent, stop <-chan struct{}) {
	defer close(events)
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-t.rdv.Presence():
			if !ok {
				return
			}
			if ev.ID == selfID {
				continue
			}
			t.mu.Lock()
			if ev.Visible {
				t.names[ev.ID] = ev.Name
			}
			t.mu.Unlock()
			select {
			case events <- transport.PeerEvent{
				Peer: transport.PeerInfo{ID: ev.ID, DisplayName: ev.Name},
				Lost: !ev.Visible,
			}:
			default:
				t.logger.Warnf("Dropping presence event for %s, browser not keeping up", ev.ID)
			}
		}
	}
}

func (t *Transport) StopBrowse() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.browsing {
		return nil
	}
	t.browsing = false
	close(t.browseStop)
	return nil
}

func (t *Transport) Invite(ctx context.Context, peerID string) (transport.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrUnavailable
	}
	name := t.names[peerID]
	t.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(peerID, name, pc, t.rdv, true)

	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	fail := func(err error) (transport.Conn, error) {
		t.dropConn(peerID)
		_ = conn.Close()
		return nil, err
	}

	if err := conn.createDataChannel(); err != nil {
		return fail(err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create offer: %w", err))
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	if err := t.rdv.SendSignal(ctx, peerID, []byte(pc.LocalDescription().SDP)); err != nil {
		return fail(fmt.Errorf("failed to send offer: %w", err))
	}

	select {
	case <-conn.opened:
		return conn, nil
	case <-conn.recvChan:
		return fail(transport.ErrRejected)
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *Transport) signalLoop() {
	for sig := range t.rdv.RecvSignal() {
		if err := t.handleSignal(sig); err != nil {
			t.logger.Warnf("Signal from %s failed: %v", sig.PeerID, err)
		}
	}
}

func (t *Transport) handleSignal(sig transport.Signal) error {
	t.mu.Lock()
	conn, exists := t.conns[sig.PeerID]
	if !exists {
		if t.closed || !t.advertising {
			t.mu.Unlock()
			return fmt.Errorf("unsolicited signal, not advertising")
		}
		pc, err := webrtc.NewPeerConnection(t.config)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to create peer connection: %w", err)
		}
		conn = newConnection(sig.PeerID, t.names[sig.PeerID], pc, t.rdv, false)
		conn.onOpen = func() {
			select {
			case t.incoming <- conn:
			default:
				t.logger.Warnf("Rejecting inbound session from %s, accept backlog full", sig.PeerID)
				_ = conn.Close()
			}
		}
		t.conns[sig.PeerID] = conn
	}
	t.mu.Unlock()

	return conn.handleRemoteDescription(sig.Payload)
}

func (t *Transport) dropConn(peerID string) {
	t.mu.Lock()
	delete(t.conns, peerID)
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.browsing {
		t.browsing = false
		close(t.browseStop)
	}
	for _, conn := range t.conns {
		_ = conn.Close()
	}
	t.conns = make(map[string]*connection)
	close(t.incoming)
	return nil
}
