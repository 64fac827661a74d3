package integration

import (
	"testing"

	"github.com/livelyrics/bandlink/internal/protocol"
	"github.com/livelyrics/bandlink/internal/session"
)

func TestJoinCodeHandOff(t *testing.T) {
	nw := NewNetwork(t)
	defer nw.Close()

	receiver := nw.NewDevice("recv-1", "Drummer's Tablet")
	sender := nw.NewDevice("send-1", "Jordan's Phone")

	if err := receiver.Manager.StartAdvertising(nw.Context()); err != nil {
		t.Fatalf("StartAdvertising failed: %v", err)
	}
	defer receiver.Manager.StopAdvertising()

	sender.Manager.SetOutgoing(&protocol.Invite{
		ContentID:   "JOIN-4721",
		ContentType: protocol.ContentTypeBand,
		SenderID:    "send-1",
	})
	if err := sender.Manager.StartBrowsing(nw.Context()); err != nil {
		t.Fatalf("StartBrowsing failed: %v", err)
	}
	defer sender.Manager.StopBrowsing()

	nw.WaitFor("receiver to appear in peer list", func() bool {
		for _, p := range sender.Manager.Peers() {
			if p.ID == "recv-1" {
				return true
			}
		}
		return false
	})

	if err := sender.Manager.Invite(nw.Context(), "recv-1"); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	nw.WaitFor("sender to complete", func() bool {
		return sender.Manager.Snapshot().Outcome == session.OutcomeCompleted
	})
	nw.WaitFor("receiver to complete", func() bool {
		return receiver.Manager.Snapshot().Outcome == session.OutcomeCompleted
	})

	got := receiver.Manager.Received()
	if got == nil {
		t.Fatal("Receiver has no invitation")
	}
	if got.ContentID != "JOIN-4721" || got.SenderID != "send-1" || got.ContentType != protocol.ContentTypeBand {
		t.Errorf("Unexpected invitation: %+v", got)
	}
}

func TestHandOffThenTeardownReturnsToIdle(t *testing.T) {
	nw := NewNetwork(t)
	defer nw.Close()

	receiver := nw.NewDevice("recv-1", "Drummer's Tablet")
	sender := nw.NewDevice("send-1", "Jordan's Phone")

	if err := receiver.Manager.StartAdvertising(nw.Context()); err != nil {
		t.Fatalf("StartAdvertising failed: %v", err)
	}
	sender.Manager.SetOutgoing(&protocol.Invite{
		ContentID:   "JOIN-9",
		ContentType: protocol.ContentTypeBand,
		SenderID:    "send-1",
	})
	if err := sender.Manager.StartBrowsing(nw.Context()); err != nil {
		t.Fatalf("StartBrowsing failed: %v", err)
	}

	nw.WaitFor("receiver to appear in peer list", func() bool {
		return len(sender.Manager.Peers()) > 0
	})
	if err := sender.Manager.Invite(nw.Context(), "recv-1"); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	nw.WaitFor("both sides to complete", func() bool {
		return sender.Manager.Snapshot().Outcome == session.OutcomeCompleted &&
			receiver.Manager.Snapshot().Outcome == session.OutcomeCompleted
	})

	sender.Manager.StopBrowsing()
	receiver.Manager.StopAdvertising()

	nw.WaitFor("sender to return to idle", func() bool {
		return sender.Manager.State() == session.StateIdle
	})
	nw.WaitFor("receiver to return to idle", func() bool {
		return receiver.Manager.State() == session.StateIdle
	})

	// A fresh round must work after teardown.
	if err := receiver.Manager.StartAdvertising(nw.Context()); err != nil {
		t.Fatalf("Second StartAdvertising failed: %v", err)
	}
	defer receiver.Manager.StopAdvertising()
	if err := sender.Manager.StartBrowsing(nw.Context()); err != nil {
		t.Fatalf("Second StartBrowsing failed: %v", err)
	}
	defer sender.Manager.StopBrowsing()

	nw.WaitFor("receiver to reappear in peer list", func() bool {
		return len(sender.Manager.Peers()) > 0
	})
}
