package rendezvous

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

type client struct {
	conn    net.Conn
	name    string
	visible bool
	wmu     sync.Mutex
}

// send serializes writes to one client. Envelopes for the same
// connection arrive from many handleConn goroutines, and an envelope
// is two writes (length prefix, then body), so unguarded writers can
// interleave and desync the receiver's stream.
func (c *client) send(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteEnvelope(c.conn, env)
}

type Server struct {
	logger   *logrus.Logger
	listener net.Listener

	mu      sync.Mutex
	clients map[string]*client
}

func NewServer(addr string, logger *logrus.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:   logger,
		listener: listener,
		clients:  make(map[string]*client),
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down rendezvous server")
	err := s.listener.Close()

	s.mu.Lock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()
	return err
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Rendezvous server started on %s", s.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	env, err := ReadEnvelope(conn)
	if err != nil || env.Kind != KindHello || env.From == "" {
		s.logger.Warnf("Dropping connection from %s: bad registration", remoteAddr)
		_ = conn.Close()
		return
	}
	id := env.From

	s.mu.Lock()
	if old, exists := s.clients[id]; exists {
		_ = old.conn.Close()
	}
	me := &client{conn: conn, name: env.Name}
	s.clients[id] = me
	// Snapshot the roster so a fresh browser sees devices that were
	// already discoverable. The writes happen outside s.mu so one
	// stalled client cannot block the whole server.
	roster := make([]Envelope, 0, len(s.clients))
	for otherID, other := range s.clients {
		if otherID == id || !other.visible {
			continue
		}
		roster = append(roster, Envelope{
			Kind:    KindPresence,
			From:    otherID,
			Name:    other.name,
			Visible: true,
		})
	}
	s.mu.Unlock()
	for _, entry := range roster {
		if err := me.send(entry); err != nil {
			s.logger.Debugf("Roster replay to %s failed: %v", id, err)
			break
		}
	}
	s.logger.Infof("Device %s registered from %s", id, remoteAddr)

	defer func() {
		s.mu.Lock()
		wasVisible := false
		if c, exists := s.clients[id]; exists && c.conn == conn {
			wasVisible = c.visible
			delete(s.clients, id)
		}
		s.mu.Unlock()
		if wasVisible {
			s.broadcast(Envelope{Kind: KindPresence, From: id, Visible: false}, id)
		}
		_ = conn.Close()
		s.logger.Infof("Device %s disconnected", id)
	}()

	for {
		env, err := ReadEnvelope(conn)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.logger.Debugf("Read from %s failed: %v", id, err)
			}
			return
		}
		env.From = id

		switch env.Kind {
		case KindPresence:
			s.mu.Lock()
			if c, exists := s.clients[id]; exists {
				c.visible = env.Visible
				if env.Name != "" {
					c.name = env.Name
				}
				env.Name = c.name
			}
			s.mu.Unlock()
			s.broadcast(env, id)
		case KindSignal:
			s.route(env)
		default:
			s.logger.Warnf("Unhandled envelope kind %d from %s", env.Kind, id)
		}
	}
}

func (s *Server) broadcast(env Envelope, except string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		if id == except {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(env); err != nil {
			s.logger.Debugf("Presence broadcast failed: %v", err)
		}
	}
}

// route forwards a signal to its recipient. Unknown recipients are
// dropped; signaling is best effort and the inviting side times out.
func (s *Server) route(env Envelope) {
	s.mu.Lock()
	target, ok := s.clients[env.To]
	s.mu.Unlock()

	if !ok {
		s.logger.Warnf("Dropping signal from %s: recipient %s not registered", env.From, env.To)
		return
	}
	if err := target.send(env); err != nil {
		s.logger.Warnf("Forwarding signal to %s failed: %v", env.To, err)
	}
}
