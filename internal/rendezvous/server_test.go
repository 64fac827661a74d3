package rendezvous

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func startServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()

	srv, err := NewServer("127.0.0.1:0", testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
	})
	return srv, cancel
}

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	env := Envelope{From: "a", To: "b", Payload: []byte("offer sdp")}
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope failed: %v", err)
	}

	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if got.From != "a" || got.To != "b" || !bytes.Equal(got.Payload, env.Payload) {
		t.Errorf("Envelope mismatch: %+v", got)
	}
}

func TestEnvelopeTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, Envelope{From: "a", To: "b"}); err != nil {
		t.Fatalf("WriteEnvelope failed: %v", err)
	}

	data := buf.Bytes()
	if _, err := ReadEnvelope(bytes.NewReader(data[:len(data)-2])); err == nil {
		t.Error("Expected error reading truncated envelope")
	}
}

func TestSignalRouting(t *testing.T) {
	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := DialClient(ctx, srv.Addr(), "alice", "Alice", testLogger())
	if err != nil {
		t.Fatalf("DialClient alice failed: %v", err)
	}
	defer alice.Close()

	bob, err := DialClient(ctx, srv.Addr(), "bob", "Bob", testLogger())
	if err != nil {
		t.Fatalf("DialClient bob failed: %v", err)
	}
	defer bob.Close()

	// Registration races the first signal; give the server a moment.
	time.Sleep(50 * time.Millisecond)

	payload := []byte("offer sdp")
	if err := alice.SendSignal(ctx, "bob", payload); err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}

	select {
	case sig := <-bob.RecvSignal():
		if sig.PeerID != "alice" {
			t.Errorf("Expected signal from alice, got %s", sig.PeerID)
		}
		if !bytes.Equal(sig.Payload, payload) {
			t.Errorf("Payload mismatch: %q", sig.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Signal not routed")
	}
}

func TestUnknownRecipientDropped(t *testing.T) {
	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := DialClient(ctx, srv.Addr(), "alice", "Alice", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	defer alice.Close()

	time.Sleep(50 * time.Millisecond)

	// Must not kill the connection.
	if err := alice.SendSignal(ctx, "nobody", []byte("x")); err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}

	bob, err := DialClient(ctx, srv.Addr(), "bob", "Bob", testLogger())
	if err != nil {
		t.Fatalf("DialClient bob failed: %v", err)
	}
	defer bob.Close()
	time.Sleep(50 * time.Millisecond)

	if err := alice.SendSignal(ctx, "bob", []byte("still alive")); err != nil {
		t.Fatalf("SendSignal after drop failed: %v", err)
	}

	select {
	case sig := <-bob.RecvSignal():
		if string(sig.Payload) != "still alive" {
			t.Errorf("Unexpected payload: %q", sig.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Signal not routed after dropped one")
	}
}

func TestPresenceBroadcast(t *testing.T) {
	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser, err := DialClient(ctx, srv.Addr(), "browser", "Browser", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	defer browser.Close()
	time.Sleep(50 * time.Millisecond)

	advertiser, err := DialClient(ctx, srv.Addr(), "adv", "Jordan's Phone", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	defer advertiser.Close()
	time.Sleep(50 * time.Millisecond)

	if err := advertiser.SetVisible("Jordan's Phone", true); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}

	select {
	case ev := <-browser.Presence():
		if ev.ID != "adv" || ev.Name != "Jordan's Phone" || !ev.Visible {
			t.Errorf("Unexpected presence event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No presence event broadcast")
	}

	if err := advertiser.SetVisible("Jordan's Phone", false); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}

	select {
	case ev := <-browser.Presence():
		if ev.ID != "adv" || ev.Visible {
			t.Errorf("Expected departure event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No departure event broadcast")
	}
}

func TestPresenceReplayOnRegister(t *testing.T) {
	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	advertiser, err := DialClient(ctx, srv.Addr(), "adv", "Jordan's Phone", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	defer advertiser.Close()
	time.Sleep(50 * time.Millisecond)

	if err := advertiser.SetVisible("Jordan's Phone", true); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// A browser registering later still learns about the advertiser.
	browser, err := DialClient(ctx, srv.Addr(), "browser", "Browser", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	defer browser.Close()

	select {
	case ev := <-browser.Presence():
		if ev.ID != "adv" || !ev.Visible {
			t.Errorf("Unexpected replayed event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Roster not replayed to late browser")
	}
}

func TestDisconnectBroadcastsDeparture(t *testing.T) {
	srv, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser, err := DialClient(ctx, srv.Addr(), "browser", "Browser", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	defer browser.Close()
	time.Sleep(50 * time.Millisecond)

	advertiser, err := DialClient(ctx, srv.Addr(), "adv", "Jordan's Phone", testLogger())
	if err != nil {
		t.Fatalf("DialClient failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := advertiser.SetVisible("Jordan's Phone", true); err != nil {
		t.Fatalf("SetVisible failed: %v", err)
	}
	<-browser.Presence()

	_ = advertiser.Close()

	select {
	case ev := <-browser.Presence():
		if ev.ID != "adv" || ev.Visible {
			t.Errorf("Expected departure on disconnect, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No departure event on disconnect")
	}
}

// Large signals routed to one client while other clients hammer it
// with presence broadcasts. Every envelope must arrive intact: an
// interleaved write desyncs the stream and shows up as a decode error.
func TestSignalsSurvivePresenceStorm(t *testing.T) {
	srv, _ := startServer(t)

	register := func(id, name string) net.Conn {
		t.Helper()
		conn, err := net.Dial("tcp", srv.Addr())
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		if err := WriteEnvelope(conn, Envelope{Kind: KindHello, From: id, Name: name}); err != nil {
			t.Fatalf("Registration failed: %v", err)
		}
		return conn
	}

	receiver := register("receiver", "Receiver")
	sender := register("sender", "Sender")

	var togglers []net.Conn
	for i := 0; i < 6; i++ {
		togglers = append(togglers, register(fmt.Sprintf("noisy-%d", i), "Noisy"))
	}
	time.Sleep(50 * time.Millisecond)

	payload := bytes.Repeat([]byte{0xA5}, 48*1024)
	const total = 200

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, conn := range togglers {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			visible := true
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := WriteEnvelope(conn, Envelope{Kind: KindPresence, Name: "Noisy", Visible: visible}); err != nil {
					return
				}
				visible = !visible
			}
		}(conn)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if err := WriteEnvelope(sender, Envelope{Kind: KindSignal, To: "receiver", Payload: payload}); err != nil {
				return
			}
		}
	}()

	_ = receiver.SetReadDeadline(time.Now().Add(20 * time.Second))
	signals := 0
	for signals < total {
		env, err := ReadEnvelope(receiver)
		if err != nil {
			t.Fatalf("Receiver stream corrupted after %d good signals: %v", signals, err)
		}
		if env.Kind != KindSignal {
			continue
		}
		if !bytes.Equal(env.Payload, payload) {
			t.Fatalf("Signal %d payload mangled (%d bytes)", signals, len(env.Payload))
		}
		signals++
	}

	close(stop)
	for _, conn := range togglers {
		_ = conn.Close()
	}
	wg.Wait()
}
