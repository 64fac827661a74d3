package lan

import (
	"bytes"
	"encoding/gob"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/livelyrics/bandlink/internal/transport"
	"github.com/sirupsen/logrus"
)

// beacon is the multicast presence datagram. Bye announces an orderly
// departure so browsers drop the peer without waiting for expiry.
type beacon struct {
	ID   string
	Name string
	Port int
	Bye  bool
}

func encodeBeacon(b beacon) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBeacon(data []byte) (beacon, error) {
	var b beacon
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b)
	return b, err
}

// advertiser broadcasts one beacon per interval until stopped.
type advertiser struct {
	conn   *net.UDPConn
	stopCh chan struct{}
	doneCh chan struct{}
	logger *logrus.Logger
}

func startAdvertiser(self transport.Identity, port int, logger *logrus.Logger) (*advertiser, error) {
	group, err := net.ResolveUDPAddr("udp4", multicastGroup)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		return nil, err
	}

	a := &advertiser{
		conn:   conn,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}

	payload, err := encodeBeacon(beacon{ID: self.ID, Name: self.DisplayName, Port: port})
	if err != nil {
		conn.Close()
		return nil, err
	}
	bye, err := encodeBeacon(beacon{ID: self.ID, Name: self.DisplayName, Port: port, Bye: true})
	if err != nil {
		conn.Close()
		return nil, err
	}

	go func() {
		defer close(a.doneCh)
		defer conn.Close()

		ticker := time.NewTicker(beaconInterval)
		defer ticker.Stop()

		// First beacon goes out immediately.
		if _, err := conn.Write(payload); err != nil {
			logger.Debugf("Beacon send failed: %v", err)
		}
		for {
			select {
			case <-a.stopCh:
				if _, err := conn.Write(bye); err != nil {
					logger.Debugf("Bye beacon send failed: %v", err)
				}
				return
			case <-ticker.C:
				if _, err := conn.Write(payload); err != nil {
					logger.Debugf("Beacon send failed: %v", err)
				}
			}
		}
	}()

	return a, nil
}

func (a *advertiser) stop() {
	close(a.stopCh)
	<-a.doneCh
}

// browser listens for beacons, maintains a last-seen table, and emits
// add/lost events. A peer that goes silent for peerTTL is dropped.
type browser struct {
	selfID string
	conn   *net.UDPConn
	events chan transport.PeerEvent
	logger *logrus.Logger

	mu     sync.Mutex
	seen   map[string]*seenPeer
	closed bool
}

type seenPeer struct {
	info     transport.PeerInfo
	addr     string
	lastSeen time.Time
}

func startBrowser(selfID string, logger *logrus.Logger) (*browser, error) {
	group, err := net.ResolveUDPAddr("udp4", multicastGroup)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, err
	}

	b := &browser{
		selfID: selfID,
		conn:   conn,
		events: make(chan transport.PeerEvent, 16),
		logger: logger,
		seen:   make(map[string]*seenPeer),
	}

	go b.readLoop()
	go b.expireLoop()
	return b, nil
}

func (b *browser) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, src, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			b.close()
			return
		}

		bc, err := decodeBeacon(buf[:n])
		if err != nil {
			b.logger.Debugf("Dropping bad beacon from %s: %v", src, err)
			continue
		}
		if bc.ID == b.selfID {
			continue
		}

		info := transport.PeerInfo{ID: bc.ID, DisplayName: bc.Name}
		addr := net.JoinHostPort(src.IP.String(), strconv.Itoa(bc.Port))

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		if bc.Bye {
			if _, known := b.seen[bc.ID]; known {
				delete(b.seen, bc.ID)
				b.emit(transport.PeerEvent{Peer: info, Lost: true})
			}
			b.mu.Unlock()
			continue
		}
		_, known := b.seen[bc.ID]
		b.seen[bc.ID] = &seenPeer{info: info, addr: addr, lastSeen: time.Now()}
		if !known {
			b.emit(transport.PeerEvent{Peer: info})
		}
		b.mu.Unlock()
	}
}

func (b *browser) expireLoop() {
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()

	for range ticker.C {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		now := time.Now()
		for id, p := range b.seen {
			if now.Sub(p.lastSeen) > peerTTL {
				delete(b.seen, id)
				b.emit(transport.PeerEvent{Peer: p.info, Lost: true})
			}
		}
		b.mu.Unlock()
	}
}

// emit is called with b.mu held; never blocks.
func (b *browser) emit(ev transport.PeerEvent) {
	select {
	case b.events <- ev:
	default:
	}
}

func (b *browser) addrOf(peerID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.seen[peerID]
	if !ok {
		return "", false
	}
	return p.addr, true
}

func (b *browser) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()
	_ = b.conn.Close()
}
