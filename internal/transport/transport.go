// Package transport defines the capability interface the session layer
// consumes: local peer discovery plus a reliable per-session channel.
// Adapters live in subpackages (lan, webrtc, memory).
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrUnavailable means the discovery service could not start.
	ErrUnavailable = errors.New("transport: unavailable")
	// ErrPeerNotFound means an invited peer is no longer visible.
	ErrPeerNotFound = errors.New("transport: peer not found")
	// ErrRejected means the remote side declined the invite.
	ErrRejected = errors.New("transport: invite rejected")
)

// Identity is what a device advertises about itself.
type Identity struct {
	ID          string
	DisplayName string
}

// PeerInfo describes a discovered remote device.
type PeerInfo struct {
	ID          string
	DisplayName string
}

// PeerEvent reports a peer appearing or disappearing. Events are
// delivered in the order the transport observes them.
type PeerEvent struct {
	Peer PeerInfo
	Lost bool
}

type Transport interface {
	// Advertise makes this device discoverable and starts accepting
	// inbound invites. Inbound sessions arrive on Accept.
	Advertise(ctx context.Context, self Identity) error
	StopAdvertise() error

	// Browse starts discovery. The returned channel carries add/lost
	// events until StopBrowse or Close.
	Browse(ctx context.Context, self Identity) (<-chan PeerEvent, error)
	StopBrowse() error

	// Invite connects to a discovered peer. It blocks until the remote
	// side accepts, the context expires, or the invite is rejected.
	Invite(ctx context.Context, peerID string) (Conn, error)

	Accept() <-chan Conn

	Close() error
}

// Conn is a reliable, ordered message channel to exactly one peer.
// Recv is closed when the peer is lost.
type Conn interface {
	PeerID() string
	DisplayName() string
	Send(data []byte) error
	Recv() <-chan []byte
	Close() error
}

// Signaler exchanges opaque out-of-band signals with a named peer,
// used by adapters that need rendezvous (webrtc).
type Signaler interface {
	SendSignal(ctx context.Context, peerID string, payload []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}
