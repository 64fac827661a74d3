package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/livelyrics/bandlink/internal/transport"
)

type connection struct {
	peerID      string
	displayName string
	pc          *webrtc.PeerConnection
	dc          *webrtc.DataChannel
	signaler    transport.Signaler
	recvChan    chan []byte
	opened      chan struct{}
	isInitiator bool
	onOpen      func()
	openOnce    sync.Once
	recvOnce    sync.Once
	mu          sync.Mutex
}

func newConnection(peerID, displayName string, pc *webrtc.PeerConnection, signaler transport.Signaler, isInitiator bool) *connection {
	conn := &connection{
		peerID:      peerID,
		displayName: displayName,
		pc:          pc,
		signaler:    signaler,
		recvChan:    make(chan []byte, 64),
		opened:      make(chan struct{}),
		isInitiator: isInitiator,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			conn.closeRecv()
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel() error {
	ordered := true
	dc, err := c.pc.CreateDataChannel("invite", &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.openOnce.Do(func() {
			close(c.opened)
		})
		if c.onOpen != nil {
			c.onOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.recvChan <- msg.Data:
		default:
		}
	})

	dc.OnClose(func() {
		c.closeRecv()
	})
}

// handleRemoteDescription applies the remote SDP. The answering side
// replies with its own description once ICE gathering has finished, so
// a single signal each way carries everything the peer needs.
func (c *connection) handleRemoteDescription(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pc.RemoteDescription() != nil {
		return nil
	}

	desc := webrtc.SessionDescription{SDP: string(payload)}
	if c.isInitiator {
		desc.Type = webrtc.SDPTypeAnswer
	} else {
		desc.Type = webrtc.SDPTypeOffer
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	if !c.isInitiator {
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		gathered := webrtc.GatheringCompletePromise(c.pc)
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		<-gathered
		if err := c.signaler.SendSignal(context.Background(), c.peerID, []byte(c.pc.LocalDescription().SDP)); err != nil {
			return fmt.Errorf("failed to send answer: %w", err)
		}
	}

	return nil
}

func (c *connection) closeRecv() {
	c.recvOnce.Do(func() {
		close(c.recvChan)
	})
}

func (c *connection) PeerID() string {
	return c.peerID
}

func (c *connection) DisplayName() string {
	return c.displayName
}

func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}
	return dc.Send(data)
}

func (c *connection) Recv() <-chan []byte {
	return c.recvChan
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dc != nil {
		_ = c.dc.Close()
	}
	err := c.pc.Close()
	c.closeRecv()
	return err
}
