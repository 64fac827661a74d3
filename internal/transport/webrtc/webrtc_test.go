package webrtc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/livelyrics/bandlink/internal/rendezvous"
	"github.com/livelyrics/bandlink/internal/transport"
)

type visibleCall struct {
	name    string
	visible bool
}

type fakeRendezvous struct {
	mu       sync.Mutex
	visible  []visibleCall
	sent     []transport.Signal
	signals  chan transport.Signal
	presence chan rendezvous.PresenceEvent
}

func newFakeRendezvous() *fakeRendezvous {
	return &fakeRendezvous{
		signals:  make(chan transport.Signal, 8),
		presence: make(chan rendezvous.PresenceEvent, 8),
	}
}

func (f *fakeRendezvous) SetVisible(name string, visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = append(f.visible, visibleCall{name, visible})
	return nil
}

func (f *fakeRendezvous) SendSignal(_ context.Context, peerID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, transport.Signal{PeerID: peerID, Payload: payload})
	return nil
}

func (f *fakeRendezvous) RecvSignal() <-chan transport.Signal {
	return f.signals
}

func (f *fakeRendezvous) Presence() <-chan rendezvous.PresenceEvent {
	return f.presence
}

func (f *fakeRendezvous) Close() error {
	close(f.signals)
	return nil
}

func (f *fakeRendezvous) sentTo(peerID string) []transport.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.Signal
	for _, s := range f.sent {
		if s.PeerID == peerID {
			out = append(out, s)
		}
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestAdvertiseTogglesVisibility(t *testing.T) {
	fake := newFakeRendezvous()
	tr := New(fake, nil, quietLogger())
	defer tr.Close()

	self := transport.Identity{ID: "dev-1", DisplayName: "Jordan's Phone"}
	if err := tr.Advertise(context.Background(), self); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	if err := tr.StopAdvertise(); err != nil {
		t.Fatalf("StopAdvertise failed: %v", err)
	}

	fake.mu.Lock()
	calls := append([]visibleCall(nil), fake.visible...)
	fake.mu.Unlock()

	want := []visibleCall{
		{"Jordan's Phone", true},
		{"Jordan's Phone", false},
	}
	if len(calls) != len(want) {
		t.Fatalf("Expected %d visibility calls, got %d", len(want), len(calls))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Call %d: expected %+v, got %+v", i, want[i], calls[i])
		}
	}
}

func TestBrowseMapsPresence(t *testing.T) {
	fake := newFakeRendezvous()
	tr := New(fake, nil, quietLogger())
	defer tr.Close()

	self := transport.Identity{ID: "dev-1", DisplayName: "Browser"}
	events, err := tr.Browse(context.Background(), self)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}

	// Our own presence must be filtered out.
	fake.presence <- rendezvous.PresenceEvent{ID: "dev-1", Name: "Browser", Visible: true}
	fake.presence <- rendezvous.PresenceEvent{ID: "dev-2", Name: "Drummer's Tablet", Visible: true}

	select {
	case ev := <-events:
		if ev.Lost || ev.Peer.ID != "dev-2" || ev.Peer.DisplayName != "Drummer's Tablet" {
			t.Errorf("Unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No peer event delivered")
	}

	fake.presence <- rendezvous.PresenceEvent{ID: "dev-2", Name: "Drummer's Tablet", Visible: false}
	select {
	case ev := <-events:
		if !ev.Lost || ev.Peer.ID != "dev-2" {
			t.Errorf("Expected lost event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No lost event delivered")
	}

	if err := tr.StopBrowse(); err != nil {
		t.Fatalf("StopBrowse failed: %v", err)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Error("Expected events channel to close after StopBrowse")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Events channel not closed after StopBrowse")
	}
}

func TestInviteSendsOfferThenTimesOut(t *testing.T) {
	fake := newFakeRendezvous()
	tr := New(fake, nil, quietLogger())
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Nothing answers, so the invite must fail with the context error.
	_, err := tr.Invite(ctx, "dev-2")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	offers := fake.sentTo("dev-2")
	if len(offers) != 1 {
		t.Fatalf("Expected one offer signal, got %d", len(offers))
	}
	if !strings.Contains(string(offers[0].Payload), "v=0") {
		t.Errorf("Offer payload does not look like SDP: %q", offers[0].Payload)
	}
}

func TestInboundOfferAnswered(t *testing.T) {
	fake := newFakeRendezvous()
	tr := New(fake, nil, quietLogger())
	defer tr.Close()

	self := transport.Identity{ID: "dev-1", DisplayName: "Receiver"}
	if err := tr.Advertise(context.Background(), self); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	offer := makeOffer(t)
	fake.signals <- transport.Signal{PeerID: "dev-2", Payload: []byte(offer)}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if answers := fake.sentTo("dev-2"); len(answers) == 1 {
			if !strings.Contains(string(answers[0].Payload), "v=0") {
				t.Errorf("Answer payload does not look like SDP: %q", answers[0].Payload)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("No answer sent for inbound offer")
}

func TestInboundOfferDroppedWhenNotAdvertising(t *testing.T) {
	fake := newFakeRendezvous()
	tr := New(fake, nil, quietLogger())
	defer tr.Close()

	offer := makeOffer(t)
	fake.signals <- transport.Signal{PeerID: "dev-2", Payload: []byte(offer)}

	time.Sleep(200 * time.Millisecond)
	if answers := fake.sentTo("dev-2"); len(answers) != 0 {
		t.Fatalf("Expected no answer when not advertising, got %d", len(answers))
	}
}

// makeOffer produces a real SDP offer from a throwaway peer connection.
func makeOffer(t *testing.T) string {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.CreateDataChannel("invite", nil); err != nil {
		t.Fatalf("CreateDataChannel failed: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatal("ICE gathering did not complete")
	}
	return pc.LocalDescription().SDP
}
