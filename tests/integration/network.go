package integration

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/livelyrics/bandlink/internal/session"
	"github.com/livelyrics/bandlink/internal/transport"
	"github.com/livelyrics/bandlink/internal/transport/memory"
)

// Network wires sessions over an in-memory hub so a full hand-off runs
// without touching the real network.
type Network struct {
	hub    *memory.Hub
	ctx    context.Context
	cancel context.CancelFunc
	t      *testing.T
}

type Device struct {
	Self     transport.Identity
	Endpoint *memory.Endpoint
	Manager  *session.Manager
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	return &Network{
		hub:    memory.NewHub(),
		ctx:    ctx,
		cancel: cancel,
		t:      t,
	}
}

func (n *Network) NewDevice(id, displayName string) *Device {
	n.t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	endpoint := n.hub.Endpoint(id, displayName)
	manager := session.NewManager(session.Config{
		Transport: endpoint,
		Self:      transport.Identity{ID: id, DisplayName: displayName},
		Logger:    log,
	})

	return &Device{
		Self:     transport.Identity{ID: id, DisplayName: displayName},
		Endpoint: endpoint,
		Manager:  manager,
	}
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Close() {
	n.cancel()
}

// WaitFor polls cond until it holds or the deadline passes.
func (n *Network) WaitFor(what string, cond func() bool) {
	n.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	n.t.Fatalf("Timed out waiting for %s", what)
}
