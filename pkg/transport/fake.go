package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory Transport for tests, grounded on the teacher's
// pkg/testing/mock_socket.go (MockSocket). It records every frame handed
// to Send and lets a test inject inbound frames via Push.
type Fake struct {
	*base

	sentMu sync.Mutex
	sent   [][]byte
	recvCh chan []byte
	sendCh chan []byte
}

// NewFake creates a connected fake transport.
func NewFake() *Fake {
	f := &Fake{
		base:   newBase(),
		recvCh: make(chan []byte, 256),
		sendCh: make(chan []byte, 256),
	}
	f.setConnected(true)
	return f
}

// Send records the frame and also makes it observable via Sent().
func (f *Fake) Send(ctx context.Context, data []byte) error {
	if !f.IsConnected() {
		return ErrNotConnected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sentMu.Lock()
	f.sent = append(f.sent, cp)
	f.sentMu.Unlock()
	select {
	case f.sendCh <- cp:
	default:
	}
	return nil
}

// Recv returns the inbound channel a test pushes frames onto.
func (f *Fake) Recv() <-chan []byte {
	return f.recvCh
}

// Push simulates an inbound frame from the server.
func (f *Fake) Push(data []byte) {
	if !f.IsConnected() {
		return
	}
	select {
	case f.recvCh <- data:
	case <-f.closeCh:
	}
}

// Sent returns every frame passed to Send so far, in order.
func (f *Fake) Sent() [][]byte {
	f.sentMu.Lock()
	defer f.sentMu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// Outbound returns the channel a test can drain frames from, mirroring
// what a real server would have received.
func (f *Fake) Outbound() <-chan []byte {
	return f.sendCh
}

// Close marks the fake closed. Idempotent.
func (f *Fake) Close() error {
	f.closeOnceFunc(func() {
		close(f.recvCh)
	})
	return nil
}
