// Package session owns the advertise/browse lifecycle and the single
// active peer session. All state mutations are serialized under one
// mutex so transport callbacks arriving from background goroutines can
// never race the state machine into an inconsistent shape.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/livelyrics/bandlink/internal/protocol"
	"github.com/livelyrics/bandlink/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBusy means the operation is not valid in the current state.
	ErrBusy = errors.New("session: operation not valid in current state")
	// ErrTransportUnavailable means discovery could not start.
	ErrTransportUnavailable = errors.New("session: transport unavailable")
	// ErrInviteTimeout means the invited peer did not answer in time.
	ErrInviteTimeout = errors.New("session: invite timed out")
	// ErrInviteDeclined means the invited peer rejected the invite.
	ErrInviteDeclined = errors.New("session: invite declined")
	// ErrPeerLost means the session dropped mid-exchange.
	ErrPeerLost = errors.New("session: peer lost")
)

const defaultInviteTimeout = 30 * time.Second

// Snapshot is the read-only view published to the presentation layer.
type Snapshot struct {
	State    State
	Role     Role
	Peers    []Peer
	Outcome  Outcome
	Received *protocol.Invite
	Err      error
}

type Config struct {
	Transport     transport.Transport
	Self          transport.Identity
	Logger        *logrus.Logger
	InviteTimeout time.Duration
}

type Manager struct {
	transport     transport.Transport
	self          transport.Identity
	logger        *logrus.Logger
	codec         *protocol.Codec
	inviteTimeout time.Duration

	mu       sync.Mutex
	state    State
	role     Role
	peers    []Peer
	conn     transport.Conn
	outcome  Outcome
	received *protocol.Invite
	outgoing *protocol.Invite
	lastErr  error

	// gen increments on every flow start and teardown so callbacks
	// belonging to a torn-down flow are discarded.
	gen       int
	runCtx    context.Context
	runCancel context.CancelFunc

	watchers []chan Snapshot
}

func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	timeout := cfg.InviteTimeout
	if timeout <= 0 {
		timeout = defaultInviteTimeout
	}
	return &Manager{
		transport:     cfg.Transport,
		self:          cfg.Self,
		logger:        log,
		codec:         protocol.NewCodec(),
		inviteTimeout: timeout,
	}
}

// SetOutgoing stages the invitation a browser-role manager transmits
// automatically once the session reaches connected.
func (m *Manager) SetOutgoing(inv *protocol.Invite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outgoing = inv
}

func (m *Manager) StartAdvertising(ctx context.Context) error {
	return m.startDiscovery(ctx, RoleAdvertiser)
}

func (m *Manager) StartBrowsing(ctx context.Context) error {
	return m.startDiscovery(ctx, RoleBrowser)
}

func (m *Manager) startDiscovery(ctx context.Context, role Role) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.logger.Warnf("Ignoring start %s: already %s as %s", role, m.state, m.role)
		m.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	m.runCtx = runCtx
	m.runCancel = cancel
	m.state = StateDiscovering
	m.role = role
	m.lastErr = nil
	m.outcome = OutcomeNone
	m.received = nil
	m.mu.Unlock()

	var events <-chan transport.PeerEvent
	var err error
	if role == RoleAdvertiser {
		err = m.transport.Advertise(runCtx, m.self)
	} else {
		events, err = m.transport.Browse(runCtx, m.self)
	}
	if err != nil {
		m.fail(gen, fmt.Errorf("%w: %v", ErrTransportUnavailable, err))
		return ErrTransportUnavailable
	}

	if role == RoleAdvertiser {
		go m.acceptLoop(runCtx, gen)
	} else {
		go m.browseLoop(runCtx, gen, events)
	}

	m.logger.Infof("Discovery started as %s", role)
	m.publish()
	return nil
}

// StopAdvertising tears the flow down and releases the transport. It is
// idempotent and safe to call from any state, including view teardown
// after an error already reset the manager.
func (m *Manager) StopAdvertising() {
	m.stop(RoleAdvertiser)
}

func (m *Manager) StopBrowsing() {
	m.stop(RoleBrowser)
}

func (m *Manager) stop(role Role) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	if m.role != role {
		m.logger.Warnf("Ignoring stop %s: current role is %s", role, m.role)
		m.mu.Unlock()
		return
	}
	m.teardownLocked(nil)
	m.mu.Unlock()
	m.publish()
}

// Invite connects to one discovered peer. Only valid while discovering
// as browser; a second call while a session attempt is in flight leaves
// existing state untouched.
func (m *Manager) Invite(ctx context.Context, peerID string) error {
	m.mu.Lock()
	if m.state != StateDiscovering || m.role != RoleBrowser {
		m.logger.Warnf("Ignoring invite to %s: state is %s", peerID, m.state)
		m.mu.Unlock()
		return ErrBusy
	}
	gen := m.gen
	runCtx := m.runCtx
	m.state = StateInviting
	m.mu.Unlock()
	m.publish()

	ictx, cancel := context.WithTimeout(ctx, m.inviteTimeout)
	defer cancel()
	// A teardown mid-invite cancels the pending transport call.
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	conn, err := m.transport.Invite(ictx, peerID)

	m.mu.Lock()
	if m.gen != gen || m.state != StateInviting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		m.state = StateDiscovering
		m.mu.Unlock()
		m.publish()
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warnf("Invite to %s timed out", peerID)
			return ErrInviteTimeout
		}
		m.logger.Warnf("Invite to %s failed: %v", peerID, err)
		return fmt.Errorf("%w: %v", ErrInviteDeclined, err)
	}

	m.conn = conn
	m.state = StateConnected
	out := m.outgoing
	m.mu.Unlock()
	m.logger.Infof("Connected to %s", conn.DisplayName())
	m.publish()

	go m.recvLoop(gen, conn)

	// The staged payload goes out strictly after the connected
	// transition has been applied.
	if out != nil {
		return m.SendInvitation(ctx, out)
	}
	return nil
}

// SendInvitation transmits the payload over the connected session. On
// success the flow is complete; on transport error the whole flow
// collapses to idle and the error is returned. No automatic retry.
func (m *Manager) SendInvitation(_ context.Context, inv *protocol.Invite) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateConnected {
		m.logger.Warnf("Ignoring send: state is %s", m.state)
		m.mu.Unlock()
		return ErrBusy
	}
	gen := m.gen
	conn := m.conn
	m.mu.Unlock()

	data, err := m.codec.EncodeToBytes(inv)
	if err != nil {
		return err
	}

	if err := conn.Send(data); err != nil {
		m.fail(gen, fmt.Errorf("%w: %v", ErrPeerLost, err))
		return fmt.Errorf("%w: %v", ErrPeerLost, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.outcome = OutcomeCompleted
	m.state = StateCompleted
	m.mu.Unlock()
	m.logger.Infof("Invitation %s delivered", inv.ContentID)
	m.publish()
	return nil
}

func (m *Manager) acceptLoop(ctx context.Context, gen int) {
	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-m.transport.Accept():
			if !ok {
				return
			}
			m.onInbound(gen, conn)
		}
	}
}

func (m *Manager) onInbound(gen int, conn transport.Conn) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateDiscovering || m.role != RoleAdvertiser {
		m.mu.Unlock()
		m.logger.Warnf("Rejecting inbound session from %s: not accepting", conn.PeerID())
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()
	m.logger.Infof("Accepted session from %s", conn.DisplayName())
	m.publish()

	go m.recvLoop(gen, conn)
}

func (m *Manager) browseLoop(ctx context.Context, gen int, events <-chan transport.PeerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.onPeerEvent(gen, ev)
		}
	}
}

// onPeerEvent applies add/lost events in transport order: replace by
// identifier, no reordering, no deduplication beyond that.
func (m *Manager) onPeerEvent(gen int, ev transport.PeerEvent) {
	m.mu.Lock()
	if m.gen != gen || (m.state != StateDiscovering && m.state != StateInviting) {
		m.mu.Unlock()
		return
	}
	if ev.Lost {
		for i, p := range m.peers {
			if p.ID == ev.Peer.ID {
				m.peers = append(m.peers[:i], m.peers[i+1:]...)
				break
			}
		}
	} else {
		replaced := false
		for i, p := range m.peers {
			if p.ID == ev.Peer.ID {
				m.peers[i] = Peer(ev.Peer)
				replaced = true
				break
			}
		}
		if !replaced {
			m.peers = append(m.peers, Peer(ev.Peer))
		}
	}
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) recvLoop(gen int, conn transport.Conn) {
	for data := range conn.Recv() {
		msg, err := m.codec.DecodeFromBytes(data)
		if err != nil {
			// One bad frame is noise, not a reason to tear the
			// session down. The sender may retry.
			m.logger.Warnf("Dropping bad frame from %s: %v", conn.PeerID(), err)
			continue
		}

		switch v := msg.(type) {
		case *protocol.Invite:
			m.onInviteReceived(gen, conn, v)
		case *protocol.Ack:
			m.logger.Debugf("Peer %s acknowledged delivery", conn.PeerID())
		default:
			m.logger.Warnf("Unhandled message type %s from %s", msg.Type(), conn.PeerID())
		}
	}

	// Recv closed: the peer is gone. Only an error if the flow was
	// still in progress.
	m.mu.Lock()
	if m.gen != gen || m.state == StateCompleted {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(ErrPeerLost)
	m.mu.Unlock()
	m.logger.Warnf("Peer %s lost mid-exchange", conn.PeerID())
	m.publish()
}

func (m *Manager) onInviteReceived(gen int, conn transport.Conn, inv *protocol.Invite) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.received = inv
	m.outcome = OutcomeCompleted
	m.state = StateCompleted
	m.mu.Unlock()
	m.logger.Infof("Received %s invitation %s from %s", inv.ContentType, inv.ContentID, inv.SenderID)
	m.publish()

	if ack, err := m.codec.EncodeToBytes(&protocol.Ack{}); err == nil {
		if err := conn.Send(ack); err != nil {
			m.logger.Debugf("Ack not delivered: %v", err)
		}
	}
}

// fail reports a terminal transport error once and collapses the state
// machine back to idle. Never fatal to the process.
func (m *Manager) fail(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(err)
	m.mu.Unlock()
	m.logger.Errorf("Session failed: %v", err)
	m.publish()
}

// teardownLocked releases every held resource on every exit path:
// discovery handles, the live connection, and the in-flight invite.
func (m *Manager) teardownLocked(err error) {
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	switch m.role {
	case RoleAdvertiser:
		_ = m.transport.StopAdvertise()
	case RoleBrowser:
		_ = m.transport.StopBrowse()
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.state = StateIdle
	m.role = RoleNone
	m.peers = nil
	m.lastErr = err
}

// Snapshot returns the current published state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	peers := make([]Peer, len(m.peers))
	copy(peers, m.peers)
	return Snapshot{
		State:    m.state,
		Role:     m.role,
		Peers:    peers,
		Outcome:  m.outcome,
		Received: m.received,
		Err:      m.lastErr,
	}
}

// Watch returns a channel of state snapshots. Publishing never blocks;
// a subscriber that lags misses intermediate snapshots, not the final
// one it reads next.
func (m *Manager) Watch() <-chan Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Snapshot, 16)
	m.watchers = append(m.watchers, ch)
	ch <- m.snapshotLocked()
	return ch
}

func (m *Manager) publish() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	watchers := m.watchers
	m.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Peers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]Peer, len(m.peers))
	copy(peers, m.peers)
	return peers
}

func (m *Manager) Received() *protocol.Invite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}
